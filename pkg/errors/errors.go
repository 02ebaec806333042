package errors

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures per the delivery model: validation errors
// fail a scheduling call synchronously, transient delivery errors are
// retried, permanent ones should stop retrying early, store errors leave the
// record untouched for the next tick.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindTransient
	KindPermanent
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindStore:
		return "store"
	}
	return "unknown"
}

// Error is the engine's error type.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string, err error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

func Transient(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

func Permanent(message string, err error) *Error {
	return &Error{Kind: KindPermanent, Message: message, Err: err}
}

func Store(message string, err error) *Error {
	return &Error{Kind: KindStore, Message: message, Err: err}
}

func is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsPermanent reports whether a sender classified the failure as one
// further retries cannot fix (revoked token, invalid address).
func IsPermanent(err error) bool { return is(err, KindPermanent) }

// IsStore reports whether the failure came from the notification store
// itself rather than a delivery attempt.
func IsStore(err error) bool { return is(err, KindStore) }
