// Package inference defines the contract between the pipeline and the
// docking model and implements the two pieces of orchestration that sit
// directly on top of it: the batch runner with its per-item fallback, and
// the confidence estimator that scores each predicted pose.
package inference

import (
	"context"
	"fmt"

	"github.com/moltools/dockscreen/internal/domain/molecule"
	"github.com/moltools/dockscreen/pkg/errors"
	"github.com/moltools/dockscreen/pkg/types/mol"
)

// Receptor identifies the receptor structure a whole run docks against.
// The model adapter owns featurization; the pipeline only passes the
// handle through.
type Receptor struct {
	Name string
	Path string
}

// GroupItem is one ligand inside a prediction group, tagged with its
// position in the full input list so results can be traced back after
// grouping and fallback reshuffle nothing visibly.
type GroupItem struct {
	Index    int
	Molecule *molecule.Molecule
}

// PredictionGroup is the unit of work handed to the batch runner: a
// receptor plus up to batch-size ligands.
type PredictionGroup struct {
	Receptor Receptor
	Items    []GroupItem
}

// NewPredictionGroup validates and builds a group. Nil molecules, negative
// indices and duplicate indices are construction bugs in the caller, not
// data problems, so they fail the group outright rather than becoming
// per-item outcomes.
func NewPredictionGroup(receptor Receptor, items []GroupItem) (*PredictionGroup, error) {
	seen := make(map[int]struct{}, len(items))
	for _, it := range items {
		if it.Molecule == nil {
			return nil, errors.InvalidInput(fmt.Sprintf("nil molecule at index %d", it.Index))
		}
		if it.Index < 0 {
			return nil, errors.InvalidInput(fmt.Sprintf("negative item index %d", it.Index))
		}
		if _, dup := seen[it.Index]; dup {
			return nil, errors.InvalidInput(fmt.Sprintf("duplicate item index %d", it.Index))
		}
		seen[it.Index] = struct{}{}
	}
	return &PredictionGroup{Receptor: receptor, Items: items}, nil
}

// PosePrediction is the model's result for a single ligand. Coords is
// always present on a successful prediction; the keypoint and transform
// fields are optional model extras the confidence estimator consumes, nil
// when the model does not expose them.
type PosePrediction struct {
	Coords       []mol.Vec3
	LigKeypoints []mol.Vec3
	RecKeypoints []mol.Vec3
	Rotation     *mol.Mat3
	Translation  *mol.Vec3
	GeomLoss     *float64
}

// ModelOutput is the raw per-batch result. Coords carries one coordinate
// set per input item; every optional slice is either nil or exactly as long
// as Coords.
type ModelOutput struct {
	Coords       [][]mol.Vec3
	LigKeypoints [][]mol.Vec3
	RecKeypoints [][]mol.Vec3
	Rotations    []mol.Mat3
	Translations []mol.Vec3
	GeomLosses   []float64
}

// Validate checks the output shape against the number of items submitted.
func (o *ModelOutput) Validate(n int) error {
	if o == nil {
		return errors.New(errors.CodeModelOutput, "nil model output")
	}
	if len(o.Coords) != n {
		return errors.Newf(errors.CodeModelOutput,
			"model returned %d coordinate sets for %d items", len(o.Coords), n)
	}
	check := func(name string, got int) error {
		if got != 0 && got != n {
			return errors.Newf(errors.CodeModelOutput,
				"%s has %d entries for %d items", name, got, n)
		}
		return nil
	}
	if err := check("ligand keypoints", len(o.LigKeypoints)); err != nil {
		return err
	}
	if err := check("receptor keypoints", len(o.RecKeypoints)); err != nil {
		return err
	}
	if err := check("rotations", len(o.Rotations)); err != nil {
		return err
	}
	if err := check("translations", len(o.Translations)); err != nil {
		return err
	}
	return check("geometry losses", len(o.GeomLosses))
}

// Prediction extracts the i-th item's result as a standalone PosePrediction.
// It assumes Validate has passed.
func (o *ModelOutput) Prediction(i int) *PosePrediction {
	p := &PosePrediction{Coords: o.Coords[i]}
	if len(o.LigKeypoints) > 0 {
		p.LigKeypoints = o.LigKeypoints[i]
	}
	if len(o.RecKeypoints) > 0 {
		p.RecKeypoints = o.RecKeypoints[i]
	}
	if len(o.Rotations) > 0 {
		r := o.Rotations[i]
		p.Rotation = &r
	}
	if len(o.Translations) > 0 {
		t := o.Translations[i]
		p.Translation = &t
	}
	if len(o.GeomLosses) > 0 {
		g := o.GeomLosses[i]
		p.GeomLoss = &g
	}
	return p
}

// DockingModel is what the runner drives. PredictBatch handles a whole
// group in one call; a model that cannot process the group as a unit —
// typically because one member's structure breaks the batched featurization
// — returns an error for which errors.IsStructuralIncompatibility holds, and
// the runner retries every member through PredictOne.
type DockingModel interface {
	PredictBatch(ctx context.Context, receptor Receptor, items []GroupItem) (*ModelOutput, error)
	PredictOne(ctx context.Context, receptor Receptor, item GroupItem) (*ModelOutput, error)
}
