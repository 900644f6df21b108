package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/WFHTask/AI-interview/internal/ai"
	"github.com/WFHTask/AI-interview/internal/interview"
	"github.com/WFHTask/AI-interview/internal/logger"
)

const (
	defaultMaxAttempts   = 3
	defaultTimeout       = 90 * time.Second
	defaultNotifyTimeout = 15 * time.Second
)

// ErrNoResult is returned by a ResultStore that holds no evaluation for a session.
var ErrNoResult = errors.New("evaluation not found")

// Prompter builds the structured evaluator request.
type Prompter interface {
	Evaluator(transcript []interview.Turn, job *interview.JobProfile) ai.Request
}

// ResultStore persists results so they survive restarts.
type ResultStore interface {
	SaveEvaluation(ctx context.Context, result *Result) error
	LoadEvaluation(ctx context.Context, sessionID string) (*Result, error)
}

// Notifier is told about every freshly computed result.
type Notifier interface {
	Notify(ctx context.Context, session *interview.Session, job *interview.JobProfile, result *Result) error
}

// Config bounds the evaluator calls.
type Config struct {
	MaxAttempts   int           `mapstructure:"max-attempts"`
	Timeout       time.Duration `mapstructure:"timeout"`
	NotifyTimeout time.Duration `mapstructure:"notify-timeout"`
}

// Engine scores completed sessions. Each session is evaluated at most once;
// concurrent calls share the computation and later calls get the cached
// result.
type Engine struct {
	model    ai.StructuredCompleter
	prompts  Prompter
	store    ResultStore
	notifier Notifier
	cfg      Config
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*Result

	notifications sync.WaitGroup
}

// NewEngine builds an Engine. store and notifier may be nil.
func NewEngine(model ai.StructuredCompleter, prompts Prompter, store ResultStore, notifier Notifier, cfg Config, log *zap.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		model:    model,
		prompts:  prompts,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		validate: newValidator(),
		logger:   log,
		now:      time.Now,
		cache:    make(map[string]*Result),
	}
}

// Evaluate returns the evaluation for a completed session, computing it on
// first use. Sessions that are not completed are rejected.
func (e *Engine) Evaluate(ctx context.Context, session *interview.Session, job *interview.JobProfile) (*Result, error) {
	const op = "evaluate"

	if session == nil || job == nil {
		return nil, &interview.Error{Kind: interview.KindFatalSession, Op: op, Err: errors.New("session and job profile are required")}
	}
	if session.Status != interview.StatusCompleted {
		return nil, &interview.Error{
			Kind:      interview.KindFatalSession,
			Op:        op,
			SessionID: session.ID,
			Err:       fmt.Errorf("only completed sessions can be evaluated, session is %s", session.Status),
		}
	}

	if cached, ok := e.Cached(session.ID); ok {
		return cached, nil
	}

	ch := e.group.DoChan(session.ID, func() (any, error) {
		return e.evaluateOnce(context.WithoutCancel(ctx), session.Clone(), job)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result).Clone(), nil
	}
}

// Cached returns a previously computed result without calling the model.
func (e *Engine) Cached(sessionID string) (*Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.cache[sessionID]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Wait blocks until dispatched notifications finish.
func (e *Engine) Wait() { e.notifications.Wait() }

func (e *Engine) evaluateOnce(ctx context.Context, session *interview.Session, job *interview.JobProfile) (*Result, error) {
	log := logger.WithSession(e.logger, session.ID, job.ID)

	if cached, ok := e.Cached(session.ID); ok {
		return cached, nil
	}

	if e.store != nil {
		stored, err := e.store.LoadEvaluation(ctx, session.ID)
		switch {
		case err == nil && stored != nil:
			e.remember(stored)
			return stored, nil
		case err != nil && !errors.Is(err, ErrNoResult):
			log.Warn("loading stored evaluation failed", zap.Error(err))
		}
	}

	result, err := e.compute(ctx, session, job, log)
	if err != nil {
		return nil, err
	}

	if e.store != nil {
		if err := e.store.SaveEvaluation(ctx, result); err != nil {
			log.Error("persisting evaluation failed", zap.Error(err))
		}
	}
	e.remember(result)

	log.Info("session evaluated",
		zap.Int("composite", result.Composite),
		zap.String("tier", string(result.Tier)),
	)

	e.dispatch(session, job, result.Clone(), log)
	return result, nil
}

func (e *Engine) compute(ctx context.Context, session *interview.Session, job *interview.JobProfile, log *zap.Logger) (*Result, error) {
	const op = "evaluate"

	req := e.prompts.Evaluator(session.Turns, job)

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		raw, err := e.model.StructuredComplete(callCtx, req)
		cancel()

		if err != nil {
			lastErr = &interview.Error{Kind: interview.KindTransientModel, Op: op, SessionID: session.ID, Err: err}
			log.Warn("evaluator call failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		p, err := decode(raw, e.validate)
		if err != nil {
			lastErr = &interview.Error{Kind: interview.KindSchemaViolation, Op: op, SessionID: session.ID, Err: err}
			log.Warn("evaluator response rejected", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		return e.build(session, job, p), nil
	}

	return nil, &interview.Error{
		Kind:      interview.KindFatalSession,
		Op:        op,
		SessionID: session.ID,
		Err:       fmt.Errorf("no valid evaluation after %d attempts: %w", e.cfg.MaxAttempts, lastErr),
	}
}

func (e *Engine) build(session *interview.Session, job *interview.JobProfile, p *payload) *Result {
	composite := Composite(*p.SkillMatch, *p.Communication, *p.RemoteFit)
	tier := TierFor(composite)

	r := &Result{
		SessionID:              session.ID,
		JobID:                  job.ID,
		SkillMatch:             *p.SkillMatch,
		SkillMatchRationale:    strings.TrimSpace(p.SkillMatchRationale),
		Communication:          *p.Communication,
		CommunicationRationale: strings.TrimSpace(p.CommunicationRationale),
		RemoteFit:              *p.RemoteFit,
		RemoteFitRationale:     strings.TrimSpace(p.RemoteFitRationale),
		Composite:              composite,
		Tier:                   tier,
		Strengths:              cleanList(p.Strengths),
		RedFlags:               cleanList(p.RedFlags),
		Summary:                strings.TrimSpace(p.Summary),
		CandidateMessage:       CandidateMessage(tier, job),
		EvaluatedAt:            e.now().UTC(),
	}
	if named, ok := e.model.(interface{ Name() string }); ok {
		r.Model = named.Name()
	}
	return r
}

func (e *Engine) remember(r *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cache[r.SessionID]; !ok {
		e.cache[r.SessionID] = r.Clone()
	}
}

func (e *Engine) dispatch(session *interview.Session, job *interview.JobProfile, result *Result, log *zap.Logger) {
	if e.notifier == nil {
		return
	}

	e.notifications.Add(1)
	go func() {
		defer e.notifications.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NotifyTimeout)
		defer cancel()

		if err := e.notifier.Notify(ctx, session, job, result); err != nil {
			log.Warn("notification failed", zap.Error(err))
			return
		}
		log.Debug("notification sent", zap.String("tier", string(result.Tier)))
	}()
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
