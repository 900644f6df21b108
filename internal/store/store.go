// Package store persists sessions, transcripts and evaluations.
package store

import (
	"context"
	"errors"

	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/interview"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned when a session id is reused.
	ErrExists = errors.New("session already exists")
	// ErrConflict is returned when appended turns do not continue the
	// stored transcript.
	ErrConflict = errors.New("turn sequence conflict")
)

// Store is the durable home of sessions and their evaluations. Sessions are
// never deleted.
type Store interface {
	CreateSession(ctx context.Context, session *interview.Session) error
	LoadSession(ctx context.Context, id string) (*interview.Session, error)
	AppendTurns(ctx context.Context, id string, turns []interview.Turn, state interview.StateChange) error
	UpdateState(ctx context.Context, id string, state interview.StateChange) error
	SaveEvaluation(ctx context.Context, result *evaluation.Result) error
	LoadEvaluation(ctx context.Context, sessionID string) (*evaluation.Result, error)
}

func checkContiguous(existing int, turns []interview.Turn) error {
	for i, t := range turns {
		if t.Seq != existing+i {
			return ErrConflict
		}
	}
	return nil
}
