package errors

// ErrorCode is a string identifier for a specific failure condition. Codes
// are grouped by subsystem prefix so that logs and metrics can be filtered
// per failure category without string matching on messages.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes.
const (
	CodeOK             ErrorCode = "OK"
	CodeUnknown        ErrorCode = "COMMON_000"
	CodeInternal       ErrorCode = "COMMON_001"
	CodeInvalidInput   ErrorCode = "COMMON_002"
	CodeIO             ErrorCode = "COMMON_003"
	CodeNotImplemented ErrorCode = "COMMON_004"
)

// Molecule error codes.
const (
	CodeMalformedMolecule ErrorCode = "MOL_001" // zero atoms, missing conformer, or non-finite coordinates
	CodeConformerNotFound ErrorCode = "MOL_002"
	CodeTopologyInvalid   ErrorCode = "MOL_003" // bond indices out of range, atom/bond inconsistency
)

// Docking / inference error codes.
const (
	// CodeStructuralBatch marks a whole-group inference call that failed
	// because the group's graphs cannot share one batched tensor layout.
	// It is always recovered by per-item fallback and never reaches callers.
	CodeStructuralBatch ErrorCode = "DOCK_001"

	// CodeItemInference marks an individual item's inference failure. It is
	// recorded as a failed outcome for that item only.
	CodeItemInference ErrorCode = "DOCK_002"

	CodeModelUnavailable ErrorCode = "DOCK_003"
	CodeModelOutput      ErrorCode = "DOCK_004" // model returned a malformed or size-mismatched output
	CodeConfidence       ErrorCode = "DOCK_005" // numerical failure while deriving a confidence score
)

// Geometry error codes.
const (
	// CodeAlignmentDegenerate marks a rigid-alignment decomposition that did
	// not converge or whose rotation is underdetermined (rank-deficient
	// cross-covariance, e.g. collinear point sets).
	CodeAlignmentDegenerate ErrorCode = "GEO_001"
	CodeDimensionMismatch   ErrorCode = "GEO_002"
)

// Pipeline error codes.
const (
	CodePersistence  ErrorCode = "PIPE_001"
	CodeCompleteness ErrorCode = "PIPE_002" // record count does not cover every original index
	CodeResumeLog    ErrorCode = "PIPE_003"
)
