package persistence

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/moltools/dockscreen/internal/domain/molecule"
	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/pkg/errors"
)

// Output file names inside the run directory. Resumed runs find their prior
// progress under the same names.
const (
	OutputSDFName     = "output.sdf"
	SuccessLogName    = "success.txt"
	FailedLogName     = "failed.txt"
	ConfidenceCSVName = "confidence_scores.csv"
)

var csvHeader = []string{"filename", "confidence_score", "status"}

// FileWriter persists results into a run directory: poses appended to
// output.sdf, progress lines to success.txt and failed.txt, and one score
// row per ligand to confidence_scores.csv. In resume mode all four files
// are opened for append so a continued run extends rather than replaces the
// previous one.
type FileWriter struct {
	sdf     *os.File
	success *os.File
	failed  *os.File
	csvFile *os.File
	csv     *csv.Writer
	log     logging.Logger
}

// NewFileWriter prepares the run directory and opens the output files.
func NewFileWriter(dir string, resume bool, log logging.Logger) (*FileWriter, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodePersistence, "creating output directory")
	}
	flag := os.O_CREATE | os.O_WRONLY
	if resume {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}

	w := &FileWriter{log: log}
	open := func(name string) (*os.File, error) {
		f, err := os.OpenFile(filepath.Join(dir, name), flag, 0o644)
		if err != nil {
			w.closeAll()
			return nil, errors.Wrap(err, errors.CodePersistence, "opening "+name)
		}
		return f, nil
	}

	var err error
	if w.sdf, err = open(OutputSDFName); err != nil {
		return nil, err
	}
	if w.success, err = open(SuccessLogName); err != nil {
		return nil, err
	}
	if w.failed, err = open(FailedLogName); err != nil {
		return nil, err
	}
	if w.csvFile, err = open(ConfidenceCSVName); err != nil {
		return nil, err
	}
	w.csv = csv.NewWriter(w.csvFile)

	needHeader := true
	if resume {
		info, err := w.csvFile.Stat()
		if err != nil {
			w.closeAll()
			return nil, errors.Wrap(err, errors.CodePersistence, "inspecting score table")
		}
		needHeader = info.Size() == 0
	}
	if needHeader {
		if err := w.csv.Write(csvHeader); err != nil {
			w.closeAll()
			return nil, errors.Wrap(err, errors.CodePersistence, "writing score table header")
		}
	}
	log.Debug("run directory ready",
		logging.String("dir", dir),
		logging.Bool("resume", resume),
	)
	return w, nil
}

// WritePose appends the ligand's pose to output.sdf, logs its completion,
// and records its score. Every piece is flushed before returning so a crash
// between ligands never loses an acknowledged result.
func (w *FileWriter) WritePose(m *molecule.Molecule, index int, name string, confidence float64) error {
	if err := WriteSDF(w.sdf, m, molecule.ConformerPose); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.success, "%d %s\n", index, name); err != nil {
		return errors.Wrap(err, errors.CodePersistence, "appending success log")
	}
	return w.writeScore(name, strconv.FormatFloat(confidence, 'g', -1, 64), "success")
}

// WriteFailure logs a ligand that produced no pose. Its score column stays
// empty so downstream ranking ignores it without special-casing.
func (w *FileWriter) WriteFailure(index int, name string) error {
	if _, err := fmt.Fprintf(w.failed, "%d %s\n", index, name); err != nil {
		return errors.Wrap(err, errors.CodePersistence, "appending failure log")
	}
	return w.writeScore(name, "", "failed")
}

func (w *FileWriter) writeScore(name, confidence, status string) error {
	if err := w.csv.Write([]string{ensureSDFSuffix(name), confidence, status}); err != nil {
		return errors.Wrap(err, errors.CodePersistence, "appending score table")
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return errors.Wrap(err, errors.CodePersistence, "flushing score table")
	}
	return nil
}

// Close flushes and closes all output files; the first error wins but every
// file still gets its close attempt.
func (w *FileWriter) Close() error {
	if w.csv != nil {
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			w.closeAll()
			return errors.Wrap(err, errors.CodePersistence, "flushing score table")
		}
	}
	if err := w.closeAll(); err != nil {
		return errors.Wrap(err, errors.CodePersistence, "closing output files")
	}
	return nil
}

func (w *FileWriter) closeAll() error {
	var first error
	for _, f := range []*os.File{w.sdf, w.success, w.failed, w.csvFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.sdf, w.success, w.failed, w.csvFile = nil, nil, nil, nil
	return first
}

// ensureSDFSuffix normalizes a ligand name into the filename column used by
// the score table. The extension check ignores case so a name like LIG.SDF
// is not suffixed twice.
func ensureSDFSuffix(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".sdf") {
		return name
	}
	return name + ".sdf"
}
