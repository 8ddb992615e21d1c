package submissions

import (
	"errors"
	"fmt"
)

// ErrSubmissionNotFound is returned when no submission has the requested id.
var ErrSubmissionNotFound = errors.New("submissions: submission not found")

var errDuplicateID = errors.New("duplicate submission id")

// ValidationKind identifies why a request was rejected.
type ValidationKind string

const (
	MissingField       ValidationKind = "missing_field"
	InvalidPhoneFormat ValidationKind = "invalid_phone_format"
	MissingConsent     ValidationKind = "missing_consent"
)

// ValidationError is a client-fixable rejection. No side effects have happened.
type ValidationError struct {
	Kind  ValidationKind
	Field string
}

func (e *ValidationError) Error() string {
	return "submissions: " + e.Message()
}

// Message is the text shown to the client.
func (e *ValidationError) Message() string {
	switch e.Kind {
	case MissingField:
		return "Missing required field: " + e.Field
	case InvalidPhoneFormat:
		return "Invalid phone number format"
	case MissingConsent:
		return "Consent must be true or false"
	}
	return "Invalid submission"
}

// StoreErrorKind classifies persistence failures.
type StoreErrorKind string

const (
	ConnectionFailed    StoreErrorKind = "connection_failed"
	ConstraintViolation StoreErrorKind = "constraint_violation"
	Unavailable         StoreErrorKind = "unavailable"
)

// StoreError wraps a backend failure. Nothing was recorded when Insert returns one.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("submissions: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("submissions: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// StoreErrorKindOf returns the kind of a wrapped StoreError, or Unavailable for
// any other non-nil error.
func StoreErrorKindOf(err error) StoreErrorKind {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Kind
	}
	return Unavailable
}

func errInvalidTransition(op string, from, to NotificationState) error {
	return &StoreError{
		Kind: ConstraintViolation,
		Op:   op,
		Err:  fmt.Errorf("illegal notification transition %s -> %s", from, to),
	}
}
