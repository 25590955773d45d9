package upstream

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream failure. Classification drives the retry and
// recovery behavior of every caller.
type Kind string

const (
	// KindTransient covers network timeouts, connection resets, and 5xx
	// responses. Callers retry these at the stage level.
	KindTransient Kind = "transient"

	// KindSessionInvalid covers HTTP 400 from authenticated calls — the
	// upstream invalidates sessions silently and surfaces it this way.
	// Callers recover the session and retry once.
	KindSessionInvalid Kind = "session_invalid"

	// KindAuthInvalid covers HTTP 401 during session acquisition. Callers
	// back off and retry acquisition; it never triggers recovery.
	KindAuthInvalid Kind = "auth_invalid"

	// KindPermanent covers all other 4xx and malformed payloads. Callers
	// fail the job with the upstream message.
	KindPermanent Kind = "permanent"
)

// Error is a classified upstream failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s: %s (status %d)", e.Op, msg, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// kindOf returns the classification of err, or KindPermanent for
// non-upstream errors.
func kindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindPermanent
}

// IsTransient reports whether err is a retriable upstream failure.
func IsTransient(err error) bool { return kindOf(err) == KindTransient }

// IsSessionInvalid reports whether err indicates an expired session.
func IsSessionInvalid(err error) bool { return kindOf(err) == KindSessionInvalid }

// IsAuthInvalid reports whether err indicates rejected credentials.
func IsAuthInvalid(err error) bool { return kindOf(err) == KindAuthInvalid }
