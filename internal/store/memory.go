package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/interview"
)

// Memory keeps everything in process memory.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*interview.Session
	results  map[string]*evaluation.Result
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*interview.Session),
		results:  make(map[string]*evaluation.Result),
	}
}

func (m *Memory) CreateSession(ctx context.Context, session *interview.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, session.ID)
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *Memory) LoadSession(ctx context.Context, id string) (*interview.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (m *Memory) AppendTurns(ctx context.Context, id string, turns []interview.Turn, state interview.StateChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := checkContiguous(len(s.Turns), turns); err != nil {
		return fmt.Errorf("%w: session %s has %d turns", err, id, len(s.Turns))
	}

	s.Turns = append(s.Turns, turns...)
	setState(s, state)
	return nil
}

func (m *Memory) UpdateState(ctx context.Context, id string, state interview.StateChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	setState(s, state)
	return nil
}

// SaveEvaluation stores the first result per session; later saves are ignored.
func (m *Memory) SaveEvaluation(ctx context.Context, result *evaluation.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.results[result.SessionID]; !ok {
		m.results[result.SessionID] = result.Clone()
	}
	return nil
}

func (m *Memory) LoadEvaluation(ctx context.Context, sessionID string) (*evaluation.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.results[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", evaluation.ErrNoResult, sessionID)
	}
	return r.Clone(), nil
}

func setState(s *interview.Session, c interview.StateChange) {
	s.Status = c.Status
	s.TurnCount = c.TurnCount
	s.LastActivityAt = c.LastActivityAt
	s.EndedAt = c.EndedAt
	s.EndReason = c.EndReason
}
