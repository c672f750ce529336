package pipeline

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/moltools/dockscreen/pkg/errors"
)

// LoadCompleted reads prior success and failure logs and returns the set of
// original indices already handled. Each log line starts with the decimal
// index followed by the ligand name; only the first token matters here. A
// missing file means no prior progress and is not an error; a line whose
// first token is not an integer is, since resuming over a corrupt log would
// silently reprocess or drop ligands.
func LoadCompleted(paths ...string) (map[int]struct{}, error) {
	done := make(map[int]struct{})
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrap(err, errors.CodeResumeLog, "opening progress log")
		}
		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			fields := strings.Fields(scanner.Text())
			if len(fields) == 0 {
				continue
			}
			idx, err := strconv.Atoi(fields[0])
			if err != nil {
				f.Close()
				return nil, errors.Newf(errors.CodeResumeLog,
					"%s:%d: leading token %q is not an index", path, lineNo, fields[0])
			}
			done[idx] = struct{}{}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return nil, errors.Wrap(err, errors.CodeResumeLog, "reading progress log")
		}
		if err := f.Close(); err != nil {
			return nil, errors.Wrap(err, errors.CodeResumeLog, "closing progress log")
		}
	}
	return done, nil
}
