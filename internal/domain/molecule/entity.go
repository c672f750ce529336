// Package molecule provides the core domain model for ligands in the
// dockscreen pipeline: a fixed topology (atoms and bonds) carrying one or
// more named conformers of 3-D coordinates, plus the rotatable-bond
// enumeration the pose corrector drives its torsion fitting with.
//
// Molecules are constructed by the external graph-building layer and treated
// as immutable inputs by the pipeline; derived poses are produced on clones,
// never by mutating the caller's instance.
package molecule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/moltools/dockscreen/pkg/errors"
	"github.com/moltools/dockscreen/pkg/types/mol"
)

// Conformer names used across the pipeline. The constructor stores the
// initial coordinates under ConformerInput; the final pose a molecule is
// written out with lives under ConformerPose.
const (
	ConformerInput = "input"
	ConformerPose  = "pose"
)

// Atom is a single atom of the topology. Only the element symbol is carried;
// charges and chirality are the graph-building layer's concern.
type Atom struct {
	Element string
}

// Bond connects two atoms by index. Order is the bond order (1-3); only
// single bonds are candidates for rotation.
type Bond struct {
	A, B  int
	Order int
}

// RotatableBond is a single bond around which two fragments can rotate.
// FixedSide contains the atom indices on the A side (including A itself),
// MovingSide the indices on the B side (including B). The two sides
// partition the whole molecule.
type RotatableBond struct {
	A, B       int
	FixedSide  []int
	MovingSide []int
}

// Molecule is the aggregate: a fixed topology plus named coordinate sets.
type Molecule struct {
	name       string
	atoms      []Atom
	bonds      []Bond
	adjacency  [][]int
	conformers map[string][]mol.Vec3
}

// New constructs a Molecule with the given topology and initial coordinates,
// stored under ConformerInput. It returns an error on inconsistent input:
// no atoms, bond indices out of range, self-bonds, or a coordinate count
// that does not match the atom count. Coordinate finiteness is not enforced
// here — Validate checks it so that deliberately malformed molecules can be
// built in tests.
func New(name string, atoms []Atom, bonds []Bond, coords []mol.Vec3) (*Molecule, error) {
	if len(atoms) == 0 {
		return nil, errors.MalformedMolecule("molecule has no atoms").WithDetail("name=" + name)
	}
	if len(coords) != len(atoms) {
		return nil, errors.Newf(errors.CodeTopologyInvalid,
			"coordinate count %d does not match atom count %d", len(coords), len(atoms))
	}
	adjacency := make([][]int, len(atoms))
	for _, b := range bonds {
		if b.A < 0 || b.A >= len(atoms) || b.B < 0 || b.B >= len(atoms) {
			return nil, errors.Newf(errors.CodeTopologyInvalid,
				"bond %d-%d out of range for %d atoms", b.A, b.B, len(atoms))
		}
		if b.A == b.B {
			return nil, errors.Newf(errors.CodeTopologyInvalid, "self-bond on atom %d", b.A)
		}
		adjacency[b.A] = append(adjacency[b.A], b.B)
		adjacency[b.B] = append(adjacency[b.B], b.A)
	}
	m := &Molecule{
		name:       name,
		atoms:      append([]Atom(nil), atoms...),
		bonds:      append([]Bond(nil), bonds...),
		adjacency:  adjacency,
		conformers: make(map[string][]mol.Vec3, 2),
	}
	m.conformers[ConformerInput] = append([]mol.Vec3(nil), coords...)
	return m, nil
}

// Name returns the molecule's identifying name, possibly blank.
func (m *Molecule) Name() string { return m.name }

// DisplayName returns the identifying name, falling back to the decimal
// original index when the name is absent or blank. This mirrors the naming
// used in the success/failed logs so resumed runs stay consistent.
func (m *Molecule) DisplayName(fallbackIndex int) string {
	if strings.TrimSpace(m.name) != "" {
		return m.name
	}
	return strconv.Itoa(fallbackIndex)
}

// NumAtoms returns the number of atoms in the topology.
func (m *Molecule) NumAtoms() int { return len(m.atoms) }

// Atoms returns the atom list. Callers must not mutate it.
func (m *Molecule) Atoms() []Atom { return m.atoms }

// Bonds returns the bond list. Callers must not mutate it.
func (m *Molecule) Bonds() []Bond { return m.bonds }

// Neighbors returns the indices bonded to atom i. Callers must not mutate it.
func (m *Molecule) Neighbors(i int) []int { return m.adjacency[i] }

// Coordinates returns a copy of the named conformer's coordinates.
func (m *Molecule) Coordinates(conformer string) ([]mol.Vec3, error) {
	coords, ok := m.conformers[conformer]
	if !ok {
		return nil, errors.Newf(errors.CodeConformerNotFound, "conformer %q not found", conformer)
	}
	return append([]mol.Vec3(nil), coords...), nil
}

// SetCoordinates stores coords as the named conformer, replacing any
// previous coordinates under that name.
func (m *Molecule) SetCoordinates(conformer string, coords []mol.Vec3) error {
	if len(coords) != len(m.atoms) {
		return errors.Newf(errors.CodeTopologyInvalid,
			"coordinate count %d does not match atom count %d", len(coords), len(m.atoms))
	}
	m.conformers[conformer] = append([]mol.Vec3(nil), coords...)
	return nil
}

// Position returns the position of atom i on the named conformer.
func (m *Molecule) Position(conformer string, i int) (mol.Vec3, error) {
	coords, ok := m.conformers[conformer]
	if !ok {
		return mol.Vec3{}, errors.Newf(errors.CodeConformerNotFound, "conformer %q not found", conformer)
	}
	if i < 0 || i >= len(coords) {
		return mol.Vec3{}, errors.Newf(errors.CodeInvalidInput, "atom index %d out of range", i)
	}
	return coords[i], nil
}

// SetPosition sets the position of atom i on the named conformer.
func (m *Molecule) SetPosition(conformer string, i int, p mol.Vec3) error {
	coords, ok := m.conformers[conformer]
	if !ok {
		return errors.Newf(errors.CodeConformerNotFound, "conformer %q not found", conformer)
	}
	if i < 0 || i >= len(coords) {
		return errors.Newf(errors.CodeInvalidInput, "atom index %d out of range", i)
	}
	coords[i] = p
	return nil
}

// Clone returns a deep copy sharing nothing with the receiver.
func (m *Molecule) Clone() *Molecule {
	clone := &Molecule{
		name:       m.name,
		atoms:      append([]Atom(nil), m.atoms...),
		bonds:      append([]Bond(nil), m.bonds...),
		adjacency:  make([][]int, len(m.adjacency)),
		conformers: make(map[string][]mol.Vec3, len(m.conformers)),
	}
	for i, nbrs := range m.adjacency {
		clone.adjacency[i] = append([]int(nil), nbrs...)
	}
	for name, coords := range m.conformers {
		clone.conformers[name] = append([]mol.Vec3(nil), coords...)
	}
	return clone
}

// Validate checks the invariants the pipeline relies on: at least one atom,
// an input conformer present, and finite coordinates throughout. The graph-
// building layer calls this before submitting molecules; a molecule that
// slips through manifests downstream as a per-item inference failure, never
// a crash.
func (m *Molecule) Validate() error {
	if len(m.atoms) == 0 {
		return errors.MalformedMolecule("molecule has no atoms").WithDetail("name=" + m.name)
	}
	coords, ok := m.conformers[ConformerInput]
	if !ok {
		return errors.MalformedMolecule("molecule has no input conformer").WithDetail("name=" + m.name)
	}
	for i, p := range coords {
		if !p.IsFinite() {
			return errors.MalformedMolecule("non-finite coordinate").
				WithDetail(fmt.Sprintf("name=%s atom=%d", m.name, i))
		}
	}
	return nil
}

// RotatableBonds enumerates the single, acyclic, non-terminal bonds of the
// topology together with the two fragments each separates. A bond qualifies
// when it is order 1, both endpoints have at least one further neighbor, and
// removing it disconnects the graph (ring bonds never qualify).
func (m *Molecule) RotatableBonds() []RotatableBond {
	var out []RotatableBond
	for _, b := range m.bonds {
		if b.Order > 1 {
			continue
		}
		if len(m.adjacency[b.A]) < 2 || len(m.adjacency[b.B]) < 2 {
			continue // terminal bond, rotation is a no-op
		}
		moving := m.reachableWithout(b.B, b.A, b.B)
		if containsInt(moving, b.A) {
			continue // ring bond: both endpoints stay connected without it
		}
		fixed := m.reachableWithout(b.A, b.A, b.B)
		out = append(out, RotatableBond{
			A:          b.A,
			B:          b.B,
			FixedSide:  fixed,
			MovingSide: moving,
		})
	}
	return out
}

// reachableWithout returns, in ascending index order, the atoms reachable
// from start when the edge (exA, exB) is removed from the graph.
func (m *Molecule) reachableWithout(start, exA, exB int) []int {
	seen := make([]bool, len(m.atoms))
	seen[start] = true
	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range m.adjacency[cur] {
			if (cur == exA && next == exB) || (cur == exB && next == exA) {
				continue
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	out := make([]int, 0, len(m.atoms))
	for i, ok := range seen {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
