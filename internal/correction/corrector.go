// Package correction implements the pose corrector: it takes a ligand's
// chemically valid input conformer and bends it, one rotatable bond at a
// time, toward the raw point cloud the model predicted, then rigidly aligns
// the result onto that cloud. The output keeps the input conformer's bond
// lengths and angles while adopting the predicted torsions and placement.
package correction

import (
	"github.com/moltools/dockscreen/internal/domain/molecule"
	"github.com/moltools/dockscreen/internal/geometry"
	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/internal/infrastructure/metrics"
	"github.com/moltools/dockscreen/pkg/errors"
	"github.com/moltools/dockscreen/pkg/types/mol"
)

// PoseCorrector rebuilds predicted poses on valid geometry.
type PoseCorrector struct {
	log logging.Logger
	rec metrics.Recorder
}

// NewPoseCorrector builds a corrector. Nil logger or recorder fall back to
// no-ops.
func NewPoseCorrector(log logging.Logger, rec metrics.Recorder) *PoseCorrector {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if rec == nil {
		rec = metrics.NewNopRecorder()
	}
	return &PoseCorrector{log: log, rec: rec}
}

// Correct returns a clone of m whose ConformerPose coordinates are the
// corrected pose. Torsion shifts are all fitted against the input conformer
// before any is applied, then applied bond by bond; rotating one bond's
// fragment transports its sub-torsions rigidly, so the fits stay valid
// throughout. When the final rigid alignment is degenerate — coincident or
// collinear point sets admit no unique rotation — the unaligned conformer
// is returned with a warning rather than failing the ligand.
//
// m itself is never modified.
func (c *PoseCorrector) Correct(m *molecule.Molecule, predicted []mol.Vec3) (*molecule.Molecule, error) {
	if len(predicted) != m.NumAtoms() {
		return nil, errors.Newf(errors.CodeDimensionMismatch,
			"%d predicted coordinates for %d atoms", len(predicted), m.NumAtoms())
	}
	input, err := m.Coordinates(molecule.ConformerInput)
	if err != nil {
		return nil, err
	}

	type fit struct {
		bond  molecule.RotatableBond
		shift float64
	}
	var fits []fit
	for _, rb := range m.RotatableBonds() {
		shift, ok := geometry.FitDihedralShift(input, predicted, rb.A, rb.B,
			m.Neighbors(rb.A), m.Neighbors(rb.B))
		if !ok {
			c.log.Debug("no well-defined torsion across bond, skipping",
				logging.String("ligand", m.Name()),
				logging.Int("bond_a", rb.A),
				logging.Int("bond_b", rb.B),
			)
			continue
		}
		fits = append(fits, fit{bond: rb, shift: shift})
	}

	work := append([]mol.Vec3(nil), input...)
	for _, f := range fits {
		geometry.RotateAboutBond(work, f.bond.A, f.bond.B, f.bond.MovingSide, f.shift)
	}

	final := work
	aligned := false
	rot, tr, err := geometry.KabschTransform(work, predicted)
	switch {
	case err == nil:
		final = geometry.ApplyTransform(rot, tr, work)
		aligned = true
	case errors.IsAlignmentDegenerate(err):
		c.log.Warn("skipping rigid alignment for degenerate point set",
			logging.String("ligand", m.Name()),
			logging.Int("atoms", m.NumAtoms()),
			logging.Err(err),
		)
	default:
		return nil, err
	}
	c.rec.RecordCorrection(aligned)

	out := m.Clone()
	if err := out.SetCoordinates(molecule.ConformerPose, final); err != nil {
		return nil, err
	}
	return out, nil
}
