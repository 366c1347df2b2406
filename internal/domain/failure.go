package domain

import (
	"errors"
	"fmt"
)

// FailureKind labels the stage-level reasons a pipeline run can fail.
// Every kind except FailureMissingParameter is converted into the
// configured fallback action at the serving layer.
type FailureKind string

const (
	FailureMissingParameter FailureKind = "missing_parameter"
	FailureTimeout          FailureKind = "timeout"
	FailureUpstream         FailureKind = "upstream_error"
	FailureNotAnImage       FailureKind = "not_an_image"
	FailureEmptyBody        FailureKind = "empty_body"
	FailureTooLarge         FailureKind = "too_large"
	FailureDecode           FailureKind = "decode_error"
	FailureEncode           FailureKind = "encode_error"
)

type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func NewFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

func Failuref(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from a pipeline error. Unclassified
// errors report as decode errors so the serving layer still degrades to
// the fallback action instead of a broken response.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureDecode
}
