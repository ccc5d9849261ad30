package parser

import (
	"errors"
	"fmt"
)

// ErrMissingNode is wrapped by StructuralFault when a mandatory node is absent.
var ErrMissingNode = errors.New("missing node")

// StructuralFault indicates a mandatory node or attribute is missing or unusable.
// It aborts the current record only.
type StructuralFault struct {
	Field string
	Err   error
}

func (e *StructuralFault) Error() string {
	return fmt.Errorf("structural fault at %s: %w", e.Field, e.Err).Error()
}

func (e *StructuralFault) Unwrap() error {
	return e.Err
}

// IOFault indicates an icon download failed or was interrupted.
type IOFault struct {
	URL string
	Err error
}

func (e *IOFault) Error() string {
	return fmt.Errorf("io fault for %s: %w", e.URL, e.Err).Error()
}

func (e *IOFault) Unwrap() error {
	return e.Err
}

func missing(field string) error {
	return &StructuralFault{Field: field, Err: ErrMissingNode}
}

func malformed(field string, err error) error {
	return &StructuralFault{Field: field, Err: err}
}

// FaultLabel classifies an extraction error for metrics.
func FaultLabel(err error) string {
	if err == nil {
		return "none"
	}
	var structural *StructuralFault
	if errors.As(err, &structural) {
		return "structural"
	}
	var ioFault *IOFault
	if errors.As(err, &ioFault) {
		return "io"
	}
	return "other"
}
