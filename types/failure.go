package types

import (
	"errors"
	"fmt"
)

type FailureKind int

const (
	Transient FailureKind = iota
	Malformed
	Configuration
	Permanent
)

func (k FailureKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Malformed:
		return "malformed"
	case Configuration:
		return "configuration"
	case Permanent:
		return "permanent"
	}
	return fmt.Sprintf("FailureKind(%d)", int(k))
}

// Failure tags an error returned by a connector or provider call so callers
// can decide between retrying, degrading and propagating.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func NewFailure(kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: kind, Err: err}
}

// KindOf returns the failure kind of err. Untagged errors are transient.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return Transient
}

func IsTransient(err error) bool {
	return err != nil && KindOf(err) == Transient
}
