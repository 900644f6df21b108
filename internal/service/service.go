// Package service runs interviews end to end: it owns the live session
// machines and ties them to the job profiles, the store, the limiter and the
// evaluation engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/WFHTask/AI-interview/internal/ai"
	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/interview"
	"github.com/WFHTask/AI-interview/internal/jobs"
	"github.com/WFHTask/AI-interview/internal/logger"
	"github.com/WFHTask/AI-interview/internal/ratelimit"
	"github.com/WFHTask/AI-interview/internal/store"
)

const (
	maxCandidateName     = 100
	defaultSweepInterval = time.Minute
	reasonOpeningFailed  = "opening could not be delivered"
)

// ErrNotFound is returned for unknown sessions and job profiles.
var ErrNotFound = errors.New("not found")

// Jobs resolves job profiles. GetJobProfile enforces the active window;
// Profile does not.
type Jobs interface {
	GetJobProfile(ctx context.Context, id string) (*interview.JobProfile, error)
	Profile(ctx context.Context, id string) (*interview.JobProfile, error)
}

// Evaluator scores completed sessions.
type Evaluator interface {
	Evaluate(ctx context.Context, session *interview.Session, job *interview.JobProfile) (*evaluation.Result, error)
	Cached(sessionID string) (*evaluation.Result, bool)
}

// Config tunes the service.
type Config struct {
	Interview     interview.Config `mapstructure:"interview"`
	SweepInterval time.Duration    `mapstructure:"sweep-interval"`
	// AutoEvaluate scores sessions in the background as soon as they complete.
	AutoEvaluate  bool             `mapstructure:"auto-evaluate"`
}

// Deps are the collaborators of a Service.
type Deps struct {
	Jobs      Jobs
	Store     store.Store
	Guardrail interview.Guardrail
	Limiter   *ratelimit.Limiter
	Prompts   interview.Prompter
	Model     ai.Streamer
	Evaluator Evaluator
	Logger    *zap.Logger
	Now       func() time.Time
}

// Started is returned by StartSession.
type Started struct {
	SessionID string `json:"session_id"`
	*interview.Reply
}

// State is a point-in-time view of a session.
type State struct {
	Session    *interview.Session `json:"session"`
	TurnsLeft  int                `json:"turns_left"`
	Evaluation *evaluation.Result `json:"evaluation,omitempty"`
}

// Service is safe for concurrent use. Each session has one machine, which
// serializes that session's turns; different sessions proceed in parallel.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	machines map[string]*interview.Machine

	background sync.WaitGroup
}

// New validates deps and builds a Service.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Jobs == nil || deps.Store == nil || deps.Guardrail == nil || deps.Limiter == nil ||
		deps.Prompts == nil || deps.Model == nil || deps.Evaluator == nil {
		return nil, errors.New("jobs, store, guardrail, limiter, prompts, model and evaluator are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg.Interview = cfg.Interview.WithDefaults()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	return &Service{
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger,
		now:      deps.Now,
		newID:    uuid.NewString,
		machines: make(map[string]*interview.Machine),
	}, nil
}

// StartSession opens a session for an active job and streams the opening
// statement into sink. If the opening cannot be delivered the session is
// abandoned.
func (s *Service) StartSession(ctx context.Context, jobID, candidateName string, sink interview.ChunkSink) (*Started, error) {
	const op = "start session"

	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, &interview.Error{Kind: interview.KindValidation, Op: op, Err: errors.New("job id is required")}
	}
	candidateName = strings.TrimSpace(candidateName)
	if len([]rune(candidateName)) > maxCandidateName {
		return nil, &interview.Error{Kind: interview.KindValidation, Op: op, Err: fmt.Errorf("candidate name exceeds %d characters", maxCandidateName)}
	}

	job, err := s.deps.Jobs.GetJobProfile(ctx, jobID)
	if err != nil {
		return nil, s.jobError(op, err)
	}

	now := s.now()
	session := &interview.Session{
		ID:             s.newID(),
		JobID:          job.ID,
		CandidateName:  candidateName,
		Status:         interview.StatusStarted,
		Turns:          []interview.Turn{},
		MaxTurns:       s.cfg.Interview.MaxTurns,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.deps.Store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m, err := s.machine(session.Clone(), job)
	if err != nil {
		return nil, err
	}

	log := logger.WithSession(s.logger, session.ID, job.ID)
	log.Info("session created")

	reply, err := m.Start(ctx, sink)
	if err != nil {
		if abandonErr := m.Abandon(ctx, reasonOpeningFailed); abandonErr != nil {
			log.Warn("abandoning session after failed opening", zap.Error(abandonErr))
		}
		return &Started{SessionID: session.ID}, err
	}
	return &Started{SessionID: session.ID, Reply: reply}, nil
}

// SubmitTurn hands a candidate message to the session and streams the reply
// into sink.
func (s *Service) SubmitTurn(ctx context.Context, sessionID, clientID, text string, sink interview.ChunkSink) (*interview.Reply, error) {
	m, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	reply, err := m.Submit(ctx, clientID, text, sink)
	if err != nil {
		return nil, err
	}
	if reply.Completed && s.cfg.AutoEvaluate {
		s.evaluateInBackground(m.Snapshot(), m.Job())
	}
	return reply, nil
}

// GetSessionState returns the session with its evaluation, if one exists.
func (s *Service) GetSessionState(ctx context.Context, sessionID string) (*State, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state := &State{Session: session, TurnsLeft: session.TurnsLeft()}
	if result, ok := s.deps.Evaluator.Cached(sessionID); ok {
		state.Evaluation = result
	}
	return state, nil
}

// Evaluate scores a completed session. Repeated calls return the same result.
func (s *Service) Evaluate(ctx context.Context, sessionID string) (*evaluation.Result, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	job, err := s.deps.Jobs.Profile(ctx, session.JobID)
	if err != nil {
		return nil, s.jobError("evaluate", err)
	}
	return s.deps.Evaluator.Evaluate(ctx, session, job)
}

// GetRateLimitStatus reports every scope that applies to the caller.
func (s *Service) GetRateLimitStatus(ctx context.Context, sessionID, clientID string) ([]ratelimit.ScopeStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, &interview.Error{Kind: interview.KindValidation, Op: "rate limit status", Err: errors.New("session id is required")}
	}
	return s.deps.Limiter.Status(ctx, sessionID, clientID)
}

// Abandon ends a session on candidate exit.
func (s *Service) Abandon(ctx context.Context, sessionID, reason string) (*interview.Session, error) {
	m, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.Abandon(ctx, reason); err != nil {
		return nil, err
	}
	return m.Snapshot(), nil
}

// SweepInactive abandons idle sessions and releases machines of ended
// sessions. It returns how many sessions were abandoned.
func (s *Service) SweepInactive(ctx context.Context) int {
	s.mu.Lock()
	machines := make([]*interview.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		machines = append(machines, m)
	}
	s.mu.Unlock()

	expired := 0
	for _, m := range machines {
		if m.Expire(ctx) {
			expired++
		}
		if m.Snapshot().Status.Terminal() {
			s.mu.Lock()
			if s.machines[m.ID()] == m {
				delete(s.machines, m.ID())
			}
			s.mu.Unlock()
		}
	}

	if expired > 0 {
		s.logger.Info("inactive sessions abandoned", zap.Int("count", expired))
	}
	return expired
}

// Run sweeps inactive sessions until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepInactive(ctx)
		}
	}
}

// Wait blocks until background evaluations finish.
func (s *Service) Wait() { s.background.Wait() }

// Live returns the number of sessions held in memory.
func (s *Service) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.machines)
}

func (s *Service) evaluateInBackground(session *interview.Session, job *interview.JobProfile) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.deps.Evaluator.Evaluate(context.Background(), session, job); err != nil {
			logger.WithSession(s.logger, session.ID, job.ID).Error("automatic evaluation failed", zap.Error(err))
		}
	}()
}

// session returns the freshest view of a session. Ended sessions come from
// the store; open ones go through their machine so an idle session is
// abandoned before it is reported.
func (s *Service) session(ctx context.Context, id string) (*interview.Session, error) {
	s.mu.Lock()
	m, ok := s.machines[id]
	s.mu.Unlock()

	if !ok {
		session, err := s.deps.Store.LoadSession(ctx, id)
		if err != nil {
			return nil, s.storeError(err)
		}
		if session.Status.Terminal() {
			return session, nil
		}
		if m, err = s.lookup(ctx, id); err != nil {
			return nil, err
		}
	}

	if m.Expire(ctx) {
		s.logger.Info("idle session abandoned", logger.Pairs(logger.FieldSession, id)...)
	}
	return m.Snapshot(), nil
}

// lookup returns the live machine for id, restoring it from the store when
// the process has not seen the session yet.
func (s *Service) lookup(ctx context.Context, id string) (*interview.Machine, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &interview.Error{Kind: interview.KindValidation, Op: "lookup session", Err: errors.New("session id is required")}
	}

	s.mu.Lock()
	m, ok := s.machines[id]
	s.mu.Unlock()
	if ok {
		return m, nil
	}

	session, err := s.deps.Store.LoadSession(ctx, id)
	if err != nil {
		return nil, s.storeError(err)
	}
	job, err := s.deps.Jobs.Profile(ctx, session.JobID)
	if err != nil {
		return nil, s.jobError("restore session", err)
	}
	return s.machine(session, job)
}

// machine registers a machine for session unless one already exists.
func (s *Service) machine(session *interview.Session, job *interview.JobProfile) (*interview.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.machines[session.ID]; ok {
		return m, nil
	}

	m, err := interview.NewMachine(session, job, interview.Deps{
		Guardrail: s.deps.Guardrail,
		Limiter:   s.deps.Limiter,
		Prompts:   s.deps.Prompts,
		Model:     s.deps.Model,
		Journal:   s.deps.Store,
		Logger:    s.logger,
		Now:       s.now,
	}, s.cfg.Interview)
	if err != nil {
		return nil, err
	}
	s.machines[session.ID] = m
	return m, nil
}

func (s *Service) jobError(op string, err error) error {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, jobs.ErrInactive), errors.Is(err, jobs.ErrExpired):
		return &interview.Error{Kind: interview.KindValidation, Op: op, Err: err}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Service) storeError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
