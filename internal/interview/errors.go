package interview

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WFHTask/AI-interview/internal/ratelimit"
)

// Kind classifies errors surfaced by the interview core.
type Kind string

const (
	// KindValidation is a guardrail rejection. The machine recovers locally.
	KindValidation Kind = "validation"
	// KindRateLimited means a limiter scope denied the turn; nothing changed.
	KindRateLimited Kind = "rate_limited"
	// KindTransientModel is a model failure the caller may retry once.
	KindTransientModel Kind = "transient_model"
	// KindSchemaViolation is a structured reply that failed validation.
	KindSchemaViolation Kind = "schema_violation"
	// KindFatalSession means the operation cannot proceed for this session.
	// Against an ended or unstarted session it is permanent. When it reports
	// repeated model failures it only fails the current turn: the session
	// stays ACTIVE and the failure count starts over.
	KindFatalSession Kind = "fatal_session"
)

// Sentinels for errors.Is.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrRateLimited     = &Error{Kind: KindRateLimited}
	ErrTransientModel  = &Error{Kind: KindTransientModel}
	ErrSchemaViolation = &Error{Kind: KindSchemaViolation}
	ErrFatalSession    = &Error{Kind: KindFatalSession}
)

// ErrCancelled is wrapped when a stream was abandoned by the caller.
var ErrCancelled = errors.New("stream cancelled")

// Error is the typed error returned by the interview core.
type Error struct {
	Kind      Kind
	Op        string
	SessionID string
	// Rule names the guardrail rule for KindValidation.
	Rule string
	// Scope and RetryAfter are set for KindRateLimited.
	Scope      ratelimit.Scope
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.SessionID != "" {
		fmt.Fprintf(&b, " (session %s)", e.SessionID)
	}
	switch {
	case e.Kind == KindRateLimited && e.Scope != "":
		fmt.Fprintf(&b, ": %s limit exceeded, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
	case e.Rule != "":
		fmt.Fprintf(&b, ": rejected by %s", e.Rule)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.SessionID == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the caller may retry the same operation.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTransientModel:
		return true
	default:
		return false
	}
}

func fatal(op, sessionID string, err error) *Error {
	return &Error{Kind: KindFatalSession, Op: op, SessionID: sessionID, Err: err}
}

var (
	// ErrSessionClosed is wrapped when a session no longer accepts turns.
	ErrSessionClosed = errors.New("session is closed")
	// ErrInactive is wrapped when a session was abandoned for inactivity.
	ErrInactive = errors.New("session expired after inactivity")
	// ErrNotStarted is wrapped when a turn arrives before the opening.
	ErrNotStarted = errors.New("interview has not started")
)
