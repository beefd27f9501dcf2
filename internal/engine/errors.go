package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so transports can map them to wire codes.
type Kind string

const (
	KindValidation               Kind = "validation"
	KindOfferExpiredOrSuperseded Kind = "offer_expired_or_superseded"
	KindInvalidTransition        Kind = "invalid_transition"
	KindNoCandidates             Kind = "no_candidates_available"
	KindNoOfferAccepted          Kind = "no_offer_accepted"
	KindStorageUnavailable       Kind = "storage_unavailable"
)

// ErrNotFound is returned for bookings the engine has never seen.
var ErrNotFound = errors.New("engine: booking not found")

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the engine error kind, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
