// Package pipeline ties the batch runner, confidence estimator, pose
// corrector and result writer together into the resumable screening run the
// command line exposes.
package pipeline

import (
	"github.com/moltools/dockscreen/internal/correction"
	"github.com/moltools/dockscreen/internal/domain/molecule"
	"github.com/moltools/dockscreen/internal/inference"
	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/pkg/errors"
)

// ResultWriter receives terminal per-ligand results. Implementations own
// durability; a returned error aborts the run, since silently dropped
// results would corrupt the resume logs.
type ResultWriter interface {
	// WritePose records a successful ligand: its pose-bearing molecule, the
	// original index, display name and confidence score.
	WritePose(m *molecule.Molecule, index int, name string, confidence float64) error
	// WriteFailure records a ligand that produced no pose.
	WriteFailure(index int, name string) error
	Close() error
}

// Totals summarizes a finished run.
type Totals struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Accumulator turns runner outcomes into durable results. It applies the
// pose corrector (or passes predictions through raw when corrections are
// disabled), scores confidence, writes through the ResultWriter, and tracks
// which expected indices have reached a terminal state so Finish can verify
// nothing was lost.
type Accumulator struct {
	writer    ResultWriter
	corrector *correction.PoseCorrector
	estimator *inference.ConfidenceEstimator
	log       logging.Logger

	runCorrections bool
	skip           map[int]struct{}

	expected map[int]struct{}
	done     map[int]struct{}
	totals   Totals
}

// NewAccumulator builds an accumulator over writer. skip holds original
// indices already completed by a previous run; they are counted as skipped
// and satisfy the completeness check without being reprocessed.
func NewAccumulator(
	writer ResultWriter,
	corrector *correction.PoseCorrector,
	estimator *inference.ConfidenceEstimator,
	runCorrections bool,
	skip map[int]struct{},
	log logging.Logger,
) *Accumulator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if skip == nil {
		skip = map[int]struct{}{}
	}
	return &Accumulator{
		writer:         writer,
		corrector:      corrector,
		estimator:      estimator,
		log:            log,
		runCorrections: runCorrections,
		skip:           skip,
		expected:       map[int]struct{}{},
		done:           map[int]struct{}{},
	}
}

// Expect registers an original index the run must account for.
func (a *Accumulator) Expect(index int) {
	a.expected[index] = struct{}{}
}

// ShouldSkip reports whether index was completed by a previous run. The
// first positive answer per index also marks it done for the completeness
// check.
func (a *Accumulator) ShouldSkip(index int) bool {
	if _, ok := a.skip[index]; !ok {
		return false
	}
	if _, seen := a.done[index]; !seen {
		a.done[index] = struct{}{}
		a.totals.Skipped++
	}
	return true
}

// Accept finalizes one runner outcome. m is the ligand the record belongs
// to. Writer errors are returned wrapped as persistence failures and abort
// the run.
func (a *Accumulator) Accept(m *molecule.Molecule, rec inference.OutcomeRecord) error {
	defer func() { a.done[rec.Index] = struct{}{} }()

	if rec.Status == inference.StatusFailed {
		a.totals.Failed++
		if err := a.writer.WriteFailure(rec.Index, rec.Name); err != nil {
			return errors.Wrap(err, errors.CodePersistence, "recording failure")
		}
		return nil
	}

	confidence := a.estimator.Score(rec.Name, rec.Prediction)
	posed, err := a.posedMolecule(m, rec)
	if err != nil {
		return err
	}

	a.totals.Succeeded++
	if err := a.writer.WritePose(posed, rec.Index, rec.Name, confidence); err != nil {
		return errors.Wrap(err, errors.CodePersistence, "recording pose")
	}
	return nil
}

// posedMolecule produces the molecule to write: the corrected pose when
// corrections are on, otherwise a clone carrying the raw predicted
// coordinates. A corrector failure demotes the ligand to the raw pose with
// a warning instead of failing it, matching the principle that a pose
// without niceties still beats no pose.
func (a *Accumulator) posedMolecule(m *molecule.Molecule, rec inference.OutcomeRecord) (*molecule.Molecule, error) {
	if a.runCorrections {
		posed, err := a.corrector.Correct(m, rec.Prediction.Coords)
		if err == nil {
			return posed, nil
		}
		a.log.Warn("pose correction failed, writing raw predicted pose",
			logging.Int("index", rec.Index),
			logging.String("ligand", rec.Name),
			logging.Err(err),
		)
	}
	raw := m.Clone()
	if err := raw.SetCoordinates(molecule.ConformerPose, rec.Prediction.Coords); err != nil {
		return nil, err
	}
	return raw, nil
}

// Totals returns the running counters.
func (a *Accumulator) Totals() Totals { return a.totals }

// Finish closes the writer and verifies every expected index reached a
// terminal state. An incomplete run returns CodeCompleteness so callers
// never mistake a partially written output directory for a finished screen.
func (a *Accumulator) Finish() error {
	if err := a.writer.Close(); err != nil {
		return errors.Wrap(err, errors.CodePersistence, "closing result writer")
	}
	var missing []int
	for idx := range a.expected {
		if _, ok := a.done[idx]; !ok {
			missing = append(missing, idx)
		}
	}
	if len(missing) > 0 {
		return errors.Newf(errors.CodeCompleteness,
			"%d of %d ligands have no recorded outcome", len(missing), len(a.expected))
	}
	return nil
}
