package inference

import (
	"math"

	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/internal/infrastructure/metrics"
)

// ConfidenceEstimator turns a pose prediction into a single comparable
// score. Higher is better; the score is the negated sum of the mean
// keypoint displacement and the model's geometry loss, so a perfect pose
// with zero loss scores 0 and everything real scores below it.
type ConfidenceEstimator struct {
	log logging.Logger
	rec metrics.Recorder
}

// NewConfidenceEstimator builds an estimator. Nil logger or recorder fall
// back to no-ops so the estimator is always safe to call.
func NewConfidenceEstimator(log logging.Logger, rec metrics.Recorder) *ConfidenceEstimator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if rec == nil {
		rec = metrics.NewNopRecorder()
	}
	return &ConfidenceEstimator{log: log, rec: rec}
}

// Score computes the confidence for pred. When keypoints or the rigid
// transform are missing, or the arithmetic produces a non-finite value, it
// logs a warning and returns the neutral score 0 instead of failing the
// item: a pose without a confidence is still a pose.
func (e *ConfidenceEstimator) Score(name string, pred *PosePrediction) float64 {
	score, err := e.compute(pred)
	if err != "" {
		e.log.Warn("confidence unavailable, using neutral score",
			logging.String("ligand", name),
			logging.String("reason", err),
		)
		e.rec.RecordConfidenceFallback()
		return 0
	}
	return score
}

// compute returns the score or a non-empty reason string when it cannot be
// formed.
func (e *ConfidenceEstimator) compute(pred *PosePrediction) (float64, string) {
	if pred == nil {
		return 0, "no prediction"
	}
	if len(pred.LigKeypoints) == 0 || len(pred.RecKeypoints) == 0 {
		return 0, "keypoints missing"
	}
	if len(pred.LigKeypoints) != len(pred.RecKeypoints) {
		return 0, "keypoint count mismatch"
	}
	if pred.Rotation == nil || pred.Translation == nil {
		return 0, "rigid transform missing"
	}

	var sum float64
	for i, lig := range pred.LigKeypoints {
		moved := pred.Rotation.MulVec(lig).Add(*pred.Translation)
		sum += moved.Dist(pred.RecKeypoints[i])
	}
	mean := sum / float64(len(pred.LigKeypoints))

	// An absent or non-finite geometry loss contributes nothing rather than
	// voiding the keypoint term.
	loss := 0.0
	if pred.GeomLoss != nil && !math.IsNaN(*pred.GeomLoss) && !math.IsInf(*pred.GeomLoss, 0) {
		loss = *pred.GeomLoss
	}

	score := -(mean + loss)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, "non-finite score"
	}
	return score, ""
}
