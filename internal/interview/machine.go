package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/WFHTask/AI-interview/internal/ai"
	"github.com/WFHTask/AI-interview/internal/logger"
	"github.com/WFHTask/AI-interview/internal/ratelimit"
)

// End reasons recorded on terminal sessions.
const (
	ReasonTurnLimit     = "turn limit reached"
	ReasonCloseSignal   = "interviewer closed the interview"
	ReasonCandidateExit = "candidate left"
	ReasonInactivity    = "inactivity timeout"
)

const (
	// RedactedText replaces candidate input rejected by the guardrail.
	RedactedText = "(message withheld by content filter)"

	defaultDeflection = "I'm not able to go into that here. Let's keep the focus on your experience: " +
		"could you walk me through a specific situation, what you were responsible for, the actions you took, and the result?"
	defaultClosing = "Thank you for your time today. The hiring team will review the conversation and follow up with next steps."

	defaultMaxTurns          = 10
	defaultInactivityTimeout = 30 * time.Minute
	defaultModelTimeout      = 60 * time.Second

	// maxConsecutiveFailures is the number of model failures in a row after
	// which the turn is reported as fatal instead of transient.
	maxConsecutiveFailures = 2
)

// ChunkSink receives streamed reply text. Returning an error cancels the
// turn: the model call is stopped and nothing is appended.
type ChunkSink func(chunk string) error

// Guardrail screens candidate input. A rejection is a *Error of KindValidation.
type Guardrail interface {
	Sanitize(text string) (string, error)
}

// Limiter admits or denies a turn.
type Limiter interface {
	Allow(ctx context.Context, sessionID, clientID string) (ratelimit.Decision, error)
}

// Prompter builds the interviewer request for the current transcript.
type Prompter interface {
	Interviewer(session *Session, job *JobProfile) ai.Request
}

// Journal persists transcript growth and transitions. AppendTurns must store
// all turns and the state change together or nothing.
type Journal interface {
	AppendTurns(ctx context.Context, sessionID string, turns []Turn, state StateChange) error
	UpdateState(ctx context.Context, sessionID string, state StateChange) error
}

// Config bounds a session.
type Config struct {
	MaxTurns          int           `mapstructure:"max-turns"`
	InactivityTimeout time.Duration `mapstructure:"inactivity-timeout"`
	ModelTimeout      time.Duration `mapstructure:"model-timeout"`
	Deflection        string        `mapstructure:"deflection"`
}

// WithDefaults fills zero values.
func (c Config) WithDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = defaultMaxTurns
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = defaultInactivityTimeout
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = defaultModelTimeout
	}
	if strings.TrimSpace(c.Deflection) == "" {
		c.Deflection = defaultDeflection
	}
	return c
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Guardrail Guardrail
	Limiter   Limiter
	Prompts   Prompter
	Model     ai.Streamer
	Journal   Journal
	Logger    *zap.Logger
	Now       func() time.Time
}

// Reply is the result of a successful Start or Submit.
type Reply struct {
	Text      string `json:"reply"`
	Status    Status `json:"status"`
	TurnCount int    `json:"turn_count"`
	TurnsLeft int    `json:"turns_left"`
	Completed bool   `json:"completed"`
	// Rejection is set when the candidate input was replaced by a deflection.
	Rejection *Error `json:"-"`
}

// Machine drives one session through STARTED, ACTIVE and a terminal state.
// Turns are serialized by turnMu; mu guards the session so snapshots never
// wait on a streaming reply.
type Machine struct {
	turnMu sync.Mutex

	mu           sync.Mutex
	session      *Session
	cancelStream context.CancelFunc

	job      *JobProfile
	cfg      Config
	deps     Deps
	failures int
	logger   *zap.Logger
	now      func() time.Time
}

// NewMachine wraps an existing session. The session is owned by the machine
// from here on; callers read it through Snapshot.
func NewMachine(session *Session, job *JobProfile, deps Deps, cfg Config) (*Machine, error) {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return nil, errors.New("session with an id is required")
	}
	if job == nil {
		return nil, errors.New("job profile is required")
	}
	if deps.Guardrail == nil || deps.Limiter == nil || deps.Prompts == nil || deps.Model == nil || deps.Journal == nil {
		return nil, errors.New("guardrail, limiter, prompts, model and journal are required")
	}

	cfg = cfg.WithDefaults()
	if session.MaxTurns <= 0 {
		session.MaxTurns = cfg.MaxTurns
	}

	m := &Machine{
		session: session,
		job:     job,
		cfg:     cfg,
		deps:    deps,
		logger:  logger.WithSession(deps.Logger, session.ID, job.ID),
		now:     deps.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// ID returns the session id.
func (m *Machine) ID() string { return m.session.ID }

// Job returns the job profile the session interviews for.
func (m *Machine) Job() *JobProfile { return m.job }

// Snapshot returns a copy of the session.
func (m *Machine) Snapshot() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Start emits the opening statement as agent turn 0 and activates the
// session. Jobs without a configured opening get one from the model.
func (m *Machine) Start(ctx context.Context, sink ChunkSink) (*Reply, error) {
	const op = "start interview"

	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	m.mu.Lock()
	status := m.session.Status
	view := m.session.Clone()
	m.mu.Unlock()

	if status != StatusStarted {
		return nil, fatal(op, view.ID, fmt.Errorf("interview is already %s", strings.ToLower(string(status))))
	}

	text := strings.TrimSpace(m.job.OpeningStatement)
	if text != "" {
		if sink != nil {
			for _, chunk := range strings.SplitAfter(text, " ") {
				if err := sink(chunk); err != nil {
					return nil, m.cancelled(op, err)
				}
			}
		}
	} else {
		var (
			signal Signal
			err    error
		)
		text, signal, err = m.stream(ctx, op, m.deps.Prompts.Interviewer(view, m.job), sink)
		if err != nil {
			return nil, err
		}
		// The opening never ends the interview; a close marker in it is
		// stripped and dropped.
		if signal == SignalClose {
			m.logger.Warn("close marker in the opening ignored")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Status != StatusStarted {
		return nil, fatal(op, m.session.ID, ErrSessionClosed)
	}

	now := m.now()
	turn := Turn{Seq: m.session.NextSeq(), Role: RoleAgent, Text: text, At: now}
	next := m.session.state()
	next.Status = StatusActive
	next.LastActivityAt = now

	if err := m.deps.Journal.AppendTurns(context.WithoutCancel(ctx), m.session.ID, []Turn{turn}, next); err != nil {
		return nil, fatal(op, m.session.ID, fmt.Errorf("persist opening: %w", err))
	}

	m.session.Turns = append(m.session.Turns, turn)
	m.session.apply(next)
	m.logger.Info("interview started", zap.Int("max_turns", m.session.MaxTurns))

	return m.replyLocked(text), nil
}

// Submit handles one candidate message. The guardrail verdict is computed
// first, then the limiter is consulted for every message, rejected ones
// included; a denial changes nothing. Rejected input is answered with a fixed
// deflection and still counts as a turn.
// Accepted input and the streamed reply are appended together once the
// stream completes.
func (m *Machine) Submit(ctx context.Context, clientID, text string, sink ChunkSink) (*Reply, error) {
	const op = "submit turn"

	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	if err := m.ensureActive(ctx, op); err != nil {
		return nil, err
	}

	clean, rejection := m.deps.Guardrail.Sanitize(text)

	decision, err := m.deps.Limiter.Allow(ctx, m.session.ID, clientID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, m.cancelled(op, err)
		}
		return nil, fatal(op, m.session.ID, fmt.Errorf("rate limiter: %w", err))
	}
	if !decision.Allowed {
		return nil, &Error{
			Kind:       KindRateLimited,
			Op:         op,
			SessionID:  m.session.ID,
			Scope:      decision.Scope,
			RetryAfter: decision.RetryAfter,
		}
	}

	if rejection != nil {
		return m.deflect(ctx, op, rejection, sink)
	}
	return m.converse(ctx, op, clean, sink)
}

// Abandon ends the session on candidate exit. Abandoning an abandoned session
// is a no-op; a completed session cannot be abandoned. A reply being
// streamed is cancelled and never appended.
func (m *Machine) Abandon(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.session.Status {
	case StatusAbandoned:
		return nil
	case StatusCompleted:
		return fatal("abandon interview", m.session.ID, ErrSessionClosed)
	}

	if strings.TrimSpace(reason) == "" {
		reason = ReasonCandidateExit
	}
	if m.cancelStream != nil {
		m.cancelStream()
	}
	m.endLocked(ctx, StatusAbandoned, reason, m.now())
	return nil
}

// Expire abandons the session when it has been idle longer than the
// inactivity timeout. Sessions with a turn in flight are left alone.
func (m *Machine) Expire(ctx context.Context) bool {
	if !m.turnMu.TryLock() {
		return false
	}
	defer m.turnMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.idleLocked(now) {
		return false
	}
	m.endLocked(ctx, StatusAbandoned, ReasonInactivity, now)
	return true
}

func (m *Machine) ensureActive(ctx context.Context, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.session.Status {
	case StatusActive:
	case StatusStarted:
		return fatal(op, m.session.ID, ErrNotStarted)
	default:
		return fatal(op, m.session.ID, ErrSessionClosed)
	}

	now := m.now()
	if m.idleLocked(now) {
		m.endLocked(ctx, StatusAbandoned, ReasonInactivity, now)
		return fatal(op, m.session.ID, ErrInactive)
	}
	return nil
}

func (m *Machine) deflect(ctx context.Context, op string, rejection error, sink ChunkSink) (*Reply, error) {
	verr := &Error{Kind: KindValidation, Op: op, SessionID: m.session.ID, Err: rejection}
	var gerr *Error
	if errors.As(rejection, &gerr) {
		verr.Rule = gerr.Rule
		verr.Err = gerr.Err
	}

	m.logger.Info("candidate input rejected", zap.String("rule", verr.Rule))

	if sink != nil {
		// The deflection counts regardless of whether the caller is still listening.
		_ = sink(m.cfg.Deflection)
	}

	now := m.now()
	m.mu.Lock()
	seq := m.session.NextSeq()
	m.mu.Unlock()

	reply, err := m.commit(ctx, op, []Turn{
		{Seq: seq, Role: RoleCandidate, Text: RedactedText, At: now, Redacted: true, Rule: verr.Rule},
		{Seq: seq + 1, Role: RoleAgent, Text: m.cfg.Deflection, At: now},
	}, SignalContinue)
	if err != nil {
		return nil, err
	}

	reply.Rejection = verr
	return reply, nil
}

func (m *Machine) converse(ctx context.Context, op, text string, sink ChunkSink) (*Reply, error) {
	m.mu.Lock()
	view := m.session.Clone()
	m.mu.Unlock()

	candidate := Turn{Seq: view.NextSeq(), Role: RoleCandidate, Text: text, At: m.now()}
	view.Turns = append(view.Turns, candidate)
	view.TurnCount++

	reply, signal, err := m.stream(ctx, op, m.deps.Prompts.Interviewer(view, m.job), sink)
	if err != nil {
		return nil, err
	}

	agent := Turn{Seq: candidate.Seq + 1, Role: RoleAgent, Text: reply, At: m.now()}
	return m.commit(ctx, op, []Turn{candidate, agent}, signal)
}

// stream runs one interviewer call under the per-call timeout, forwarding
// chunks with the close sentinel removed.
func (m *Machine) stream(ctx context.Context, op string, req ai.Request, sink ChunkSink) (string, Signal, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ModelTimeout)
	defer cancel()

	m.setCancel(cancel)
	defer m.setCancel(nil)

	var (
		raw       strings.Builder
		filter    sentinelFilter
		sinkErr   error
		streamErr error
	)

	emit := func(s string) bool {
		if s == "" || sink == nil {
			return true
		}
		if err := sink(s); err != nil {
			sinkErr = err
			return false
		}
		return true
	}

	for chunk, err := range m.deps.Model.StreamComplete(callCtx, req) {
		if err != nil {
			streamErr = err
			break
		}
		raw.WriteString(chunk)
		if !emit(filter.push(chunk)) {
			break
		}
	}

	switch {
	case sinkErr != nil:
		return "", SignalContinue, m.cancelled(op, sinkErr)
	case m.terminal():
		return "", SignalContinue, fatal(op, m.session.ID, ErrSessionClosed)
	case ctx.Err() != nil:
		return "", SignalContinue, m.cancelled(op, ctx.Err())
	case streamErr == nil && callCtx.Err() != nil:
		streamErr = callCtx.Err()
	case streamErr == nil && strings.TrimSpace(raw.String()) == "":
		streamErr = errors.New("model returned an empty reply")
	}

	if streamErr != nil {
		return "", SignalContinue, m.modelFailure(op, streamErr)
	}

	if !emit(filter.flush()) {
		return "", SignalContinue, m.cancelled(op, sinkErr)
	}

	m.failures = 0

	signal, text := ParseSignal(raw.String())
	if text == "" {
		text = defaultClosing
	}
	return text, signal, nil
}

func (m *Machine) modelFailure(op string, err error) error {
	m.failures++
	m.logger.Warn("interviewer model call failed",
		zap.Int("consecutive_failures", m.failures),
		zap.Error(err),
	)

	if m.failures >= maxConsecutiveFailures {
		m.failures = 0
		return fatal(op, m.session.ID, fmt.Errorf("model failed %d times in a row: %w", maxConsecutiveFailures, err))
	}
	return &Error{Kind: KindTransientModel, Op: op, SessionID: m.session.ID, Err: err}
}

func (m *Machine) cancelled(op string, cause error) error {
	m.logger.Debug("turn cancelled", zap.Error(cause))
	return &Error{
		Kind:      KindTransientModel,
		Op:        op,
		SessionID: m.session.ID,
		Err:       fmt.Errorf("%w: %w", ErrCancelled, cause),
	}
}

// commit appends turns and applies termination rules in one step.
func (m *Machine) commit(ctx context.Context, op string, turns []Turn, signal Signal) (*Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Status != StatusActive {
		return nil, fatal(op, m.session.ID, ErrSessionClosed)
	}
	if want := m.session.NextSeq(); turns[0].Seq != want {
		return nil, fatal(op, m.session.ID, fmt.Errorf("turn sequence %d out of order, expected %d", turns[0].Seq, want))
	}

	now := m.now()
	next := m.session.state()
	next.LastActivityAt = now
	for _, turn := range turns {
		if turn.Role == RoleCandidate {
			next.TurnCount++
		}
	}

	switch {
	case next.TurnCount >= m.session.MaxTurns:
		next.Status, next.EndedAt, next.EndReason = StatusCompleted, now, ReasonTurnLimit
	case signal == SignalClose:
		next.Status, next.EndedAt, next.EndReason = StatusCompleted, now, ReasonCloseSignal
	}

	if err := m.deps.Journal.AppendTurns(context.WithoutCancel(ctx), m.session.ID, turns, next); err != nil {
		return nil, fatal(op, m.session.ID, fmt.Errorf("persist turns: %w", err))
	}

	m.session.Turns = append(m.session.Turns, turns...)
	m.session.apply(next)

	m.logger.Debug("turn committed",
		zap.Int("turn_count", next.TurnCount),
		zap.Int("transcript_length", len(m.session.Turns)),
	)
	if next.Status == StatusCompleted {
		m.logger.Info("interview completed", zap.String("reason", next.EndReason), zap.Int("turn_count", next.TurnCount))
	}

	return m.replyLocked(turns[len(turns)-1].Text), nil
}

// endLocked moves the session to a terminal state. The in-memory transition
// happens even if persisting it fails.
func (m *Machine) endLocked(ctx context.Context, status Status, reason string, now time.Time) {
	next := m.session.state()
	next.Status = status
	next.EndedAt = now
	next.EndReason = reason

	if err := m.deps.Journal.UpdateState(context.WithoutCancel(ctx), m.session.ID, next); err != nil {
		m.logger.Error("persisting session state failed", zap.String("status", string(status)), zap.Error(err))
	}

	m.session.apply(next)
	m.logger.Info("interview ended", zap.String("status", string(status)), zap.String("reason", reason))
}

func (m *Machine) idleLocked(now time.Time) bool {
	if m.session.Status.Terminal() {
		return false
	}
	return now.Sub(m.session.LastActivityAt) > m.cfg.InactivityTimeout
}

func (m *Machine) terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Status.Terminal()
}

func (m *Machine) setCancel(cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelStream = cancel
}

func (m *Machine) replyLocked(text string) *Reply {
	return &Reply{
		Text:      text,
		Status:    m.session.Status,
		TurnCount: m.session.TurnCount,
		TurnsLeft: m.session.TurnsLeft(),
		Completed: m.session.Status == StatusCompleted,
	}
}
