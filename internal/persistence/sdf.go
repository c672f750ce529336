// Package persistence owns everything the pipeline puts on or takes from
// disk: the SDF codec for ligand structures and the result writer that
// maintains the output pose file, the success/failure progress logs, and
// the confidence score table.
package persistence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/moltools/dockscreen/internal/domain/molecule"
	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/pkg/errors"
	"github.com/moltools/dockscreen/pkg/types/mol"
)

// sdfDelimiter terminates each record in a multi-molecule SDF file.
const sdfDelimiter = "$$$$"

// WriteSDF appends one V2000 record for the named conformer of m to w.
func WriteSDF(w io.Writer, m *molecule.Molecule, conformer string) error {
	coords, err := m.Coordinates(conformer)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(m.Name())
	b.WriteString("\n  dockscreen          3D\n\n")
	fmt.Fprintf(&b, "%3d%3d  0  0  0  0  0  0  0  0999 V2000\n", m.NumAtoms(), len(m.Bonds()))
	for i, atom := range m.Atoms() {
		p := coords[i]
		fmt.Fprintf(&b, "%10.4f%10.4f%10.4f %-3s 0  0  0  0  0  0  0  0  0  0  0  0\n",
			p[0], p[1], p[2], atom.Element)
	}
	for _, bond := range m.Bonds() {
		fmt.Fprintf(&b, "%3d%3d%3d  0\n", bond.A+1, bond.B+1, bond.Order)
	}
	b.WriteString("M  END\n")
	b.WriteString(sdfDelimiter + "\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return errors.Wrap(err, errors.CodeIO, "writing sdf record")
	}
	return nil
}

// ReadSDF parses every record in r. A record that cannot be parsed yields a
// nil entry at its position — keeping indices aligned with the file — and a
// warning; only I/O failures abort the read. The returned slice therefore
// always has one entry per record encountered.
func ReadSDF(r io.Reader, log logging.Logger) ([]*molecule.Molecule, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []*molecule.Molecule
	var block []string
	flush := func() {
		if len(block) == 0 {
			return
		}
		m, err := parseSDFBlock(block)
		if err != nil {
			log.Warn("skipping unparseable sdf record",
				logging.Int("record", len(out)),
				logging.Err(err),
			)
			m = nil
		}
		out = append(out, m)
		block = nil
	}
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, sdfDelimiter) {
			flush()
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeIO, "reading sdf stream")
	}
	// A final record without the trailing delimiter still counts, but pure
	// trailing whitespace does not.
	if blockHasContent(block) {
		flush()
	}
	return out, nil
}

// ReadSDFFile opens path and parses it with ReadSDF.
func ReadSDFFile(path string, log logging.Logger) ([]*molecule.Molecule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIO, "opening sdf file")
	}
	defer f.Close()
	return ReadSDF(f, log)
}

func blockHasContent(block []string) bool {
	for _, line := range block {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}

// parseSDFBlock decodes one molfile record: a three-line header, the counts
// line, fixed-column atom and bond blocks, then properties up to M END.
func parseSDFBlock(block []string) (*molecule.Molecule, error) {
	if len(block) < 4 {
		return nil, errors.MalformedMolecule("record shorter than molfile header")
	}
	name := strings.TrimSpace(block[0])
	counts := block[3]
	if len(counts) < 6 {
		return nil, errors.MalformedMolecule("counts line too short")
	}
	nAtoms, err := strconv.Atoi(strings.TrimSpace(counts[0:3]))
	if err != nil {
		return nil, errors.MalformedMolecule("unreadable atom count")
	}
	nBonds, err := strconv.Atoi(strings.TrimSpace(counts[3:6]))
	if err != nil {
		return nil, errors.MalformedMolecule("unreadable bond count")
	}
	if nAtoms <= 0 {
		return nil, errors.MalformedMolecule("record has no atoms")
	}
	if len(block) < 4+nAtoms+nBonds {
		return nil, errors.MalformedMolecule("record truncated before end of bond block")
	}

	atoms := make([]molecule.Atom, nAtoms)
	coords := make([]mol.Vec3, nAtoms)
	for i := 0; i < nAtoms; i++ {
		line := block[4+i]
		if len(line) < 31 {
			return nil, errors.Newf(errors.CodeMalformedMolecule, "atom line %d too short", i+1)
		}
		for axis, span := range [3][2]int{{0, 10}, {10, 20}, {20, 30}} {
			v, err := strconv.ParseFloat(strings.TrimSpace(line[span[0]:span[1]]), 64)
			if err != nil {
				return nil, errors.Newf(errors.CodeMalformedMolecule, "atom line %d: bad coordinate", i+1)
			}
			coords[i][axis] = v
		}
		fields := strings.Fields(line[31:])
		if len(fields) == 0 {
			return nil, errors.Newf(errors.CodeMalformedMolecule, "atom line %d: missing element", i+1)
		}
		atoms[i] = molecule.Atom{Element: fields[0]}
	}

	bonds := make([]molecule.Bond, nBonds)
	for i := 0; i < nBonds; i++ {
		line := block[4+nAtoms+i]
		if len(line) < 9 {
			return nil, errors.Newf(errors.CodeMalformedMolecule, "bond line %d too short", i+1)
		}
		a, errA := strconv.Atoi(strings.TrimSpace(line[0:3]))
		b, errB := strconv.Atoi(strings.TrimSpace(line[3:6]))
		order, errO := strconv.Atoi(strings.TrimSpace(line[6:9]))
		if errA != nil || errB != nil || errO != nil {
			return nil, errors.Newf(errors.CodeMalformedMolecule, "bond line %d: bad indices", i+1)
		}
		bonds[i] = molecule.Bond{A: a - 1, B: b - 1, Order: order}
	}

	return molecule.New(name, atoms, bonds, coords)
}
