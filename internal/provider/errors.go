package provider

import (
	"errors"
	"fmt"
)

// TransientError marks a provider failure that may succeed when retried, such as
// rate limiting or eventual-consistency lag.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a provider failure that retrying cannot fix, such as
// invalid configuration or missing permissions.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent provider error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return err
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is classified permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// PartialError reports a Create whose object exists but whose follow-up steps
// failed. Attrs identify the object so it can be recorded and replaced later.
type PartialError struct {
	Attrs Attributes
	Err   error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("created %s but did not finish: %v", e.Attrs.ID(), e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// Partial wraps err as a PartialError for the object described by attrs.
// A nil err stays nil.
func Partial(attrs Attributes, err error) error {
	if err == nil {
		return nil
	}
	return &PartialError{Attrs: attrs, Err: err}
}

// AsPartial returns the PartialError in err's chain, if any.
func AsPartial(err error) (*PartialError, bool) {
	var pe *PartialError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
