package inference

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltools/dockscreen/internal/domain/molecule"
	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/internal/infrastructure/metrics"
	"github.com/moltools/dockscreen/pkg/errors"
	"github.com/moltools/dockscreen/pkg/types/mol"
)

func chainMolecule(t *testing.T, name string, atoms int) *molecule.Molecule {
	t.Helper()
	as := make([]molecule.Atom, atoms)
	coords := make([]mol.Vec3, atoms)
	var bonds []molecule.Bond
	for i := range as {
		as[i] = molecule.Atom{Element: "C"}
		coords[i] = mol.Vec3{float64(i), 0, 0}
		if i > 0 {
			bonds = append(bonds, molecule.Bond{A: i - 1, B: i, Order: 1})
		}
	}
	m, err := molecule.New(name, as, bonds, coords)
	require.NoError(t, err)
	return m
}

func groupOf(t *testing.T, sizes ...int) *PredictionGroup {
	t.Helper()
	items := make([]GroupItem, len(sizes))
	for i, n := range sizes {
		items[i] = GroupItem{Index: i, Molecule: chainMolecule(t, fmt.Sprintf("lig-%d", i), n)}
	}
	g, err := NewPredictionGroup(Receptor{Name: "rec"}, items)
	require.NoError(t, err)
	return g
}

// outputFor produces deterministic coordinates keyed by item index so tests
// can check that batched and individual paths agree.
func outputFor(items []GroupItem) *ModelOutput {
	out := &ModelOutput{Coords: make([][]mol.Vec3, len(items))}
	for i, it := range items {
		coords := make([]mol.Vec3, it.Molecule.NumAtoms())
		for j := range coords {
			coords[j] = mol.Vec3{float64(it.Index), float64(j), 0.5}
		}
		out.Coords[i] = coords
	}
	return out
}

type stubModel struct {
	batchErr   error
	failByIdx  map[int]error
	batchCalls int
	oneCalls   int
	oneOrder   []int
}

func (m *stubModel) PredictBatch(_ context.Context, _ Receptor, items []GroupItem) (*ModelOutput, error) {
	m.batchCalls++
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	return outputFor(items), nil
}

func (m *stubModel) PredictOne(_ context.Context, _ Receptor, item GroupItem) (*ModelOutput, error) {
	m.oneCalls++
	m.oneOrder = append(m.oneOrder, item.Index)
	if err, ok := m.failByIdx[item.Index]; ok {
		return nil, err
	}
	return outputFor([]GroupItem{item}), nil
}

func newTestRunner(m DockingModel) *BatchRunner {
	return NewBatchRunner(m, logging.NewNopLogger(), metrics.NewNopRecorder())
}

func TestNewPredictionGroupValidation(t *testing.T) {
	m := chainMolecule(t, "a", 2)

	_, err := NewPredictionGroup(Receptor{}, []GroupItem{{Index: 0, Molecule: nil}})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))

	_, err = NewPredictionGroup(Receptor{}, []GroupItem{{Index: -1, Molecule: m}})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))

	_, err = NewPredictionGroup(Receptor{}, []GroupItem{
		{Index: 2, Molecule: m}, {Index: 2, Molecule: m},
	})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
}

func TestRunBatchedHappyPath(t *testing.T) {
	model := &stubModel{}
	group := groupOf(t, 3, 4, 5)

	records := newTestRunner(model).Run(context.Background(), group)
	require.Len(t, records, 3)
	assert.Equal(t, 1, model.batchCalls)
	assert.Zero(t, model.oneCalls)

	for i, rec := range records {
		assert.Equal(t, i, rec.Index)
		assert.Equal(t, StatusSuccess, rec.Status)
		assert.False(t, rec.Fallback)
		require.NotNil(t, rec.Prediction)
		assert.Len(t, rec.Prediction.Coords, group.Items[i].Molecule.NumAtoms())
	}
}

func TestRunFallbackOnStructuralFailure(t *testing.T) {
	model := &stubModel{
		batchErr: errors.StructuralIncompatibility("mismatched feature dimensions"),
		failByIdx: map[int]error{
			2: errors.New(errors.CodeModelUnavailable, "ligand graph empty"),
		},
	}
	group := groupOf(t, 3, 3, 3, 3)

	records := newTestRunner(model).Run(context.Background(), group)
	require.Len(t, records, 4, "fallback must keep one record per input item")
	assert.Equal(t, []int{0, 1, 2, 3}, model.oneOrder, "fallback runs strictly in input order")

	for i, rec := range records {
		assert.Equal(t, i, rec.Index)
		assert.True(t, rec.Fallback)
		if i == 2 {
			assert.Equal(t, StatusFailed, rec.Status)
			assert.True(t, errors.IsCode(rec.Err, errors.CodeItemInference))
			assert.Nil(t, rec.Prediction)
		} else {
			assert.Equal(t, StatusSuccess, rec.Status)
			require.NotNil(t, rec.Prediction)
		}
	}
}

func TestFallbackCoordinatesMatchBatchedPath(t *testing.T) {
	group := groupOf(t, 2, 3)

	batched := newTestRunner(&stubModel{}).Run(context.Background(), group)
	individual := newTestRunner(&stubModel{
		batchErr: errors.New(errors.CodeModelUnavailable, "transient"),
	}).Run(context.Background(), group)

	require.Len(t, batched, 2)
	require.Len(t, individual, 2)
	for i := range batched {
		require.Equal(t, StatusSuccess, individual[i].Status)
		assert.Equal(t, batched[i].Prediction.Coords, individual[i].Prediction.Coords)
	}
}

func TestRunFallbackOnInvalidBatchShape(t *testing.T) {
	// A model whose batched output drops an item triggers the same fallback
	// as an outright error.
	model := &shortOutputModel{}
	group := groupOf(t, 2, 2)

	records := newTestRunner(model).Run(context.Background(), group)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, StatusSuccess, rec.Status)
		assert.True(t, rec.Fallback)
	}
}

type shortOutputModel struct{ stubModel }

func (m *shortOutputModel) PredictBatch(_ context.Context, _ Receptor, items []GroupItem) (*ModelOutput, error) {
	m.batchCalls++
	return outputFor(items[:len(items)-1]), nil
}

func TestRunDemotesAtomCountMismatch(t *testing.T) {
	model := &wrongSizeModel{}
	group := groupOf(t, 3, 3)

	records := newTestRunner(model).Run(context.Background(), group)
	require.Len(t, records, 2)
	assert.Equal(t, StatusFailed, records[0].Status)
	assert.True(t, errors.IsCode(records[0].Err, errors.CodeModelOutput))
	assert.Equal(t, StatusSuccess, records[1].Status)
}

type wrongSizeModel struct{ stubModel }

func (m *wrongSizeModel) PredictBatch(_ context.Context, _ Receptor, items []GroupItem) (*ModelOutput, error) {
	out := outputFor(items)
	out.Coords[0] = out.Coords[0][:1] // too few coordinates for item 0
	return out, nil
}

func TestRunCancelledContextFailsRemainingItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &stubModel{batchErr: errors.New(errors.CodeModelUnavailable, "down")}
	group := groupOf(t, 2, 2)

	records := newTestRunner(model).Run(ctx, group)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, StatusFailed, rec.Status)
		assert.True(t, errors.IsCode(rec.Err, errors.CodeItemInference))
	}
	assert.Zero(t, model.oneCalls)
}

func TestModelOutputValidate(t *testing.T) {
	var nilOut *ModelOutput
	assert.True(t, errors.IsCode(nilOut.Validate(1), errors.CodeModelOutput))

	out := &ModelOutput{Coords: make([][]mol.Vec3, 2)}
	assert.NoError(t, out.Validate(2))
	assert.Error(t, out.Validate(3))

	out.GeomLosses = []float64{0.1}
	assert.True(t, errors.IsCode(out.Validate(2), errors.CodeModelOutput))
}

func TestPredictionExtractsOptionalFields(t *testing.T) {
	rot := mol.Identity()
	out := &ModelOutput{
		Coords:       [][]mol.Vec3{{{0, 0, 0}}},
		LigKeypoints: [][]mol.Vec3{{{1, 0, 0}}},
		RecKeypoints: [][]mol.Vec3{{{2, 0, 0}}},
		Rotations:    []mol.Mat3{rot},
		Translations: []mol.Vec3{{0, 1, 0}},
		GeomLosses:   []float64{0.25},
	}
	require.NoError(t, out.Validate(1))

	p := out.Prediction(0)
	require.NotNil(t, p.Rotation)
	require.NotNil(t, p.Translation)
	require.NotNil(t, p.GeomLoss)
	assert.Equal(t, rot, *p.Rotation)
	assert.Equal(t, 0.25, *p.GeomLoss)

	bare := (&ModelOutput{Coords: [][]mol.Vec3{{{0, 0, 0}}}}).Prediction(0)
	assert.Nil(t, bare.Rotation)
	assert.Nil(t, bare.GeomLoss)
}

// --- confidence ---------------------------------------------------------

func fullPrediction(displacement, loss float64) *PosePrediction {
	rot := mol.Identity()
	tr := mol.Vec3{}
	return &PosePrediction{
		Coords:       []mol.Vec3{{0, 0, 0}},
		LigKeypoints: []mol.Vec3{{0, 0, 0}, {1, 0, 0}},
		RecKeypoints: []mol.Vec3{{displacement, 0, 0}, {1 + displacement, 0, 0}},
		Rotation:     &rot,
		Translation:  &tr,
		GeomLoss:     &loss,
	}
}

func newTestEstimator() *ConfidenceEstimator {
	return NewConfidenceEstimator(logging.NewNopLogger(), metrics.NewNopRecorder())
}

func TestScoreCombinesDisplacementAndLoss(t *testing.T) {
	e := newTestEstimator()
	assert.InDelta(t, -(2.0 + 0.5), e.Score("lig", fullPrediction(2.0, 0.5)), 1e-12)
	assert.InDelta(t, 0, e.Score("lig", fullPrediction(0, 0)), 1e-12)
}

func TestScoreMonotonicInDisplacement(t *testing.T) {
	e := newTestEstimator()
	near := e.Score("lig", fullPrediction(0.5, 0.1))
	far := e.Score("lig", fullPrediction(5.0, 0.1))
	assert.Greater(t, near, far, "poses nearer the receptor keypoints must score higher")
}

func TestScoreNeutralFallbacks(t *testing.T) {
	e := newTestEstimator()

	assert.Zero(t, e.Score("lig", nil))

	p := fullPrediction(1, 0.1)
	p.Rotation = nil
	assert.Zero(t, e.Score("lig", p))

	p = fullPrediction(1, 0.1)
	p.LigKeypoints = nil
	assert.Zero(t, e.Score("lig", p))

	p = fullPrediction(1, 0.1)
	p.RecKeypoints = p.RecKeypoints[:1]
	assert.Zero(t, e.Score("lig", p), "keypoint count mismatch is not scorable")
}

func TestScoreDefaultsMissingGeomLossToZero(t *testing.T) {
	e := newTestEstimator()

	p := fullPrediction(2, 0.5)
	p.GeomLoss = nil
	assert.InDelta(t, -2.0, e.Score("lig", p), 1e-12,
		"an absent loss leaves the keypoint term intact")

	nan := math.NaN()
	p = fullPrediction(2, 0.5)
	p.GeomLoss = &nan
	assert.InDelta(t, -2.0, e.Score("lig", p), 1e-12)
}
