package dataset

import (
	"errors"
	"fmt"
)

// TemporalLeakageError is returned when a frame or feature set would let a
// model see information from its own prediction target. It is fatal: training
// must never proceed past it, because every downstream metric would be
// meaningless.
type TemporalLeakageError struct {
	Feature    Feature
	FeatureSet string
	Reason     string
}

func (e *TemporalLeakageError) Error() string {
	if e.Feature.Name == "" {
		return fmt.Sprintf("temporal leakage in %s: %s", e.FeatureSet, e.Reason)
	}
	return fmt.Sprintf("temporal leakage in %s: feature %s: %s", e.FeatureSet, e.Feature, e.Reason)
}

// IsTemporalLeakage reports whether err is (or wraps) a TemporalLeakageError.
func IsTemporalLeakage(err error) bool {
	var le *TemporalLeakageError
	return errors.As(err, &le)
}

// InsufficientDataError is returned when a frame or split has fewer rows than
// an operation requires. Unlike leakage it is recoverable: the walk-forward
// harness records the fold as skipped and moves on.
type InsufficientDataError struct {
	Context string
	Rows    int
	Min     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %d rows, need >= %d", e.Context, e.Rows, e.Min)
}

// IsInsufficientData reports whether err is (or wraps) an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ie *InsufficientDataError
	return errors.As(err, &ie)
}
