package inference

import (
	"context"
	"time"

	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/internal/infrastructure/metrics"
	"github.com/moltools/dockscreen/pkg/errors"
)

// OutcomeStatus is the terminal state of one ligand.
type OutcomeStatus string

const (
	// StatusSuccess means a usable pose was produced.
	StatusSuccess OutcomeStatus = "success"
	// StatusFailed means the ligand produced no pose; Err carries why.
	StatusFailed OutcomeStatus = "failed"
)

// OutcomeRecord is the runner's verdict for a single ligand. Every input
// item yields exactly one record, success or not, so downstream accounting
// can rely on positional completeness.
type OutcomeRecord struct {
	Index      int
	Name       string
	Status     OutcomeStatus
	Prediction *PosePrediction
	Err        error
	// Fallback reports that the record came from the per-item retry path
	// rather than the batched call.
	Fallback bool
}

// BatchRunner drives a DockingModel over prediction groups. It first tries
// the whole group in one batched call; if that fails it degrades to running
// each member individually, in input order, so one incompatible ligand
// costs throughput but never another ligand's result.
type BatchRunner struct {
	model DockingModel
	log   logging.Logger
	rec   metrics.Recorder
}

// NewBatchRunner builds a runner around model. Nil logger or recorder fall
// back to no-ops.
func NewBatchRunner(model DockingModel, log logging.Logger, rec metrics.Recorder) *BatchRunner {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if rec == nil {
		rec = metrics.NewNopRecorder()
	}
	return &BatchRunner{model: model, log: log, rec: rec}
}

// Run processes one group and returns exactly one record per item, in the
// items' order. Batch-level failures are never surfaced as an error from
// Run: they either convert into the fallback path or into per-item failed
// records.
func (r *BatchRunner) Run(ctx context.Context, group *PredictionGroup) []OutcomeRecord {
	started := time.Now()
	records, batchErr := r.runBatched(ctx, group)
	if batchErr == nil {
		r.rec.RecordGroup(len(group.Items), false, time.Since(started).Seconds())
		r.recordOutcomes(records)
		return records
	}

	if errors.IsStructuralIncompatibility(batchErr) {
		r.log.Warn("group structurally incompatible with batching, retrying members individually",
			logging.Int("group_size", len(group.Items)),
			logging.Err(batchErr),
		)
	} else {
		r.log.Warn("batched prediction failed, retrying members individually",
			logging.Int("group_size", len(group.Items)),
			logging.Err(batchErr),
		)
	}

	records = r.runIndividually(ctx, group)
	r.rec.RecordGroup(len(group.Items), true, time.Since(started).Seconds())
	r.recordOutcomes(records)
	return records
}

// runBatched attempts the single batched call. A non-nil error means the
// whole attempt is void and the caller must fall back; per-item shape
// problems inside an otherwise valid output become individual failed
// records without voiding the batch.
func (r *BatchRunner) runBatched(ctx context.Context, group *PredictionGroup) ([]OutcomeRecord, error) {
	out, err := r.model.PredictBatch(ctx, group.Receptor, group.Items)
	if err != nil {
		return nil, err
	}
	if err := out.Validate(len(group.Items)); err != nil {
		return nil, err
	}
	records := make([]OutcomeRecord, len(group.Items))
	for i, item := range group.Items {
		records[i] = r.itemRecord(item, out.Prediction(i), false)
	}
	return records, nil
}

// runIndividually is the fallback path: strictly sequential, in input
// order, one model call per ligand. Context cancellation fails the
// remaining items rather than abandoning them silently.
func (r *BatchRunner) runIndividually(ctx context.Context, group *PredictionGroup) []OutcomeRecord {
	records := make([]OutcomeRecord, len(group.Items))
	for i, item := range group.Items {
		if err := ctx.Err(); err != nil {
			records[i] = OutcomeRecord{
				Index:    item.Index,
				Name:     item.Molecule.DisplayName(item.Index),
				Status:   StatusFailed,
				Err:      errors.Wrap(err, errors.CodeItemInference, "run cancelled"),
				Fallback: true,
			}
			continue
		}
		out, err := r.model.PredictOne(ctx, group.Receptor, item)
		if err == nil {
			err = out.Validate(1)
		}
		if err != nil {
			r.log.Warn("ligand failed individual prediction",
				logging.Int("index", item.Index),
				logging.String("ligand", item.Molecule.DisplayName(item.Index)),
				logging.Err(err),
			)
			records[i] = OutcomeRecord{
				Index:    item.Index,
				Name:     item.Molecule.DisplayName(item.Index),
				Status:   StatusFailed,
				Err:      errors.Wrap(err, errors.CodeItemInference, "individual prediction failed"),
				Fallback: true,
			}
			continue
		}
		records[i] = r.itemRecord(item, out.Prediction(0), true)
	}
	return records
}

// itemRecord finalizes one item's record, demoting predictions whose
// coordinate count does not match the ligand's atom count.
func (r *BatchRunner) itemRecord(item GroupItem, pred *PosePrediction, fallback bool) OutcomeRecord {
	name := item.Molecule.DisplayName(item.Index)
	if len(pred.Coords) != item.Molecule.NumAtoms() {
		err := errors.Newf(errors.CodeModelOutput,
			"model returned %d coordinates for %d atoms", len(pred.Coords), item.Molecule.NumAtoms())
		r.log.Warn("discarding malformed prediction",
			logging.Int("index", item.Index),
			logging.String("ligand", name),
			logging.Err(err),
		)
		return OutcomeRecord{Index: item.Index, Name: name, Status: StatusFailed, Err: err, Fallback: fallback}
	}
	return OutcomeRecord{
		Index:      item.Index,
		Name:       name,
		Status:     StatusSuccess,
		Prediction: pred,
		Fallback:   fallback,
	}
}

func (r *BatchRunner) recordOutcomes(records []OutcomeRecord) {
	for _, rec := range records {
		r.rec.RecordOutcome(string(rec.Status))
	}
}
