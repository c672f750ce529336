package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/moltools/dockscreen/internal/domain/molecule"
	"github.com/moltools/dockscreen/internal/inference"
	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/pkg/errors"
)

// DefaultBatchSize is the group size used when the caller does not set one.
const DefaultBatchSize = 8

// Slice restricts a run to the half-open index range [Start, End) of the
// ligand list. Indices recorded in the logs remain positions in the full
// list, so sliced and unsliced runs of the same input stay mergeable.
type Slice struct {
	Start, End int
}

// Pipeline executes a full screening run: slice, skip previously completed
// work, group, predict with fallback, correct, score, persist, and account
// for every ligand.
type Pipeline struct {
	runner    *inference.BatchRunner
	acc       *Accumulator
	log       logging.Logger
	batchSize int
	slice     *Slice
}

// New assembles a pipeline. A non-positive batchSize falls back to
// DefaultBatchSize; a nil slice means the whole input.
func New(runner *inference.BatchRunner, acc *Accumulator, batchSize int, slice *Slice, log logging.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Pipeline{
		runner:    runner,
		acc:       acc,
		log:       log,
		batchSize: batchSize,
		slice:     slice,
	}
}

// Run screens ligands against receptor and returns the final totals. The
// returned error is non-nil when the run is unusable: bad slice bounds, a
// persistence failure, or a completeness check that found unaccounted
// ligands.
func (p *Pipeline) Run(ctx context.Context, receptor inference.Receptor, ligands []*molecule.Molecule) (Totals, error) {
	started := time.Now()
	runID := uuid.NewString()

	start, end := 0, len(ligands)
	if p.slice != nil {
		start, end = p.slice.Start, p.slice.End
		if start < 0 || end > len(ligands) || start > end {
			return Totals{}, errors.InvalidInput("ligand slice out of bounds").
				WithDetail(fmt.Sprintf("[%d, %d) over %d ligands", start, end, len(ligands)))
		}
	}
	p.log.Info("screening run starting",
		logging.String("run_id", runID),
		logging.String("receptor", receptor.Name),
		logging.Int("ligands", end-start),
		logging.Int("batch_size", p.batchSize),
	)

	byIndex := make(map[int]*molecule.Molecule, end-start)
	var pending []inference.GroupItem
	for i := start; i < end; i++ {
		p.acc.Expect(i)
		if p.acc.ShouldSkip(i) {
			continue
		}
		m := ligands[i]
		if err := p.validateLigand(m); err != nil {
			rec := inference.OutcomeRecord{
				Index:  i,
				Name:   displayName(m, i),
				Status: inference.StatusFailed,
				Err:    err,
			}
			if accErr := p.acc.Accept(m, rec); accErr != nil {
				return p.acc.Totals(), accErr
			}
			continue
		}
		byIndex[i] = m
		pending = append(pending, inference.GroupItem{Index: i, Molecule: m})
	}

	for len(pending) > 0 {
		n := p.batchSize
		if n > len(pending) {
			n = len(pending)
		}
		group, err := inference.NewPredictionGroup(receptor, pending[:n])
		pending = pending[n:]
		if err != nil {
			return p.acc.Totals(), err
		}
		for _, rec := range p.runner.Run(ctx, group) {
			if err := p.acc.Accept(byIndex[rec.Index], rec); err != nil {
				return p.acc.Totals(), err
			}
		}
	}

	totals := p.acc.Totals()
	err := p.acc.Finish()
	p.log.Info("screening run finished",
		logging.String("run_id", runID),
		logging.Int("succeeded", totals.Succeeded),
		logging.Int("failed", totals.Failed),
		logging.Int("skipped", totals.Skipped),
		logging.Duration("elapsed", time.Since(started)),
	)
	return totals, err
}

// validateLigand rejects ligands that cannot be submitted to the model at
// all. They become failed outcomes rather than aborting the run.
func (p *Pipeline) validateLigand(m *molecule.Molecule) error {
	if m == nil {
		return errors.MalformedMolecule("ligand is absent")
	}
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, errors.CodeMalformedMolecule, "ligand rejected before inference")
	}
	return nil
}

func displayName(m *molecule.Molecule, index int) string {
	if m == nil {
		return strconv.Itoa(index)
	}
	return m.DisplayName(index)
}
