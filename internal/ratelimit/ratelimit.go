package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/WFHTask/AI-interview/internal/logger"
)

// Scope names one of the independent counters consulted for every turn.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeClient  Scope = "client"
	ScopeGlobal  Scope = "global"
)

// globalID is the single key used by the global scope.
const globalID = "all"

// Rule is the ceiling for a scope: at most Max hits within any Window.
// A rule with Max <= 0 disables the scope.
type Rule struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

func (r Rule) enabled() bool { return r.Max > 0 && r.Window > 0 }

// Config holds the ceilings for all three scopes.
type Config struct {
	Session Rule `mapstructure:"session"`
	Client  Rule `mapstructure:"client"`
	Global  Rule `mapstructure:"global"`
}

// DefaultConfig mirrors the limits used in production deployments.
func DefaultConfig() Config {
	return Config{
		Session: Rule{Max: 30, Window: time.Hour},
		Client:  Rule{Max: 60, Window: time.Hour},
		Global:  Rule{Max: 1000, Window: time.Minute},
	}
}

// Key identifies a counter in a backing store.
type Key struct {
	Scope Scope
	ID    string
	Rule  Rule
}

func (k Key) String() string { return string(k.Scope) + ":" + k.ID }

// Decision is the outcome of Allow. When Allowed is false, Scope is the first
// scope that was over its ceiling and RetryAfter is the time until it admits
// another hit.
type Decision struct {
	Allowed    bool
	Scope      Scope
	RetryAfter time.Duration
}

// Usage describes a single counter at a point in time.
type Usage struct {
	Used   int
	Oldest time.Time
}

// ScopeStatus is the externally visible state of one scope.
type ScopeStatus struct {
	Scope     Scope     `json:"scope"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Store keeps sliding-window counters. Reserve must be atomic across keys:
// either every key admits the hit and it is recorded everywhere, or nothing
// is recorded and the first denying key is reported.
type Store interface {
	Reserve(ctx context.Context, now time.Time, keys []Key) (Decision, error)
	Usage(ctx context.Context, now time.Time, key Key) (Usage, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Limiter evaluates session, client and global limits in that order.
type Limiter struct {
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New builds a Limiter. A nil store defaults to an in-memory one.
func New(store Store, cfg Config, logger *zap.Logger) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Allow records a hit for the session, client and global scopes if every one
// of them admits it. An empty clientID skips the client scope. Backend
// failures are logged and the hit is admitted.
func (l *Limiter) Allow(ctx context.Context, sessionID, clientID string) (Decision, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Decision{}, errors.New("session id is required")
	}

	keys := l.keys(sessionID, clientID)
	if len(keys) == 0 {
		return Decision{Allowed: true}, nil
	}

	decision, err := l.store.Reserve(ctx, l.now(), keys)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, ctxErr
		}
		l.logger.Warn("rate limit backend unavailable, admitting request",
			zap.String(logger.FieldSession, sessionID),
			zap.Error(err),
		)
		return Decision{Allowed: true}, nil
	}

	if !decision.Allowed {
		l.logger.Info("rate limit exceeded",
			zap.String(logger.FieldSession, sessionID),
			zap.String(logger.FieldClient, clientID),
			zap.String("scope", string(decision.Scope)),
			zap.Duration("retry_after", decision.RetryAfter),
		)
	}

	return decision, nil
}

// Status reports usage for every enabled scope without recording a hit.
func (l *Limiter) Status(ctx context.Context, sessionID, clientID string) ([]ScopeStatus, error) {
	now := l.now()
	keys := l.keys(strings.TrimSpace(sessionID), clientID)
	statuses := make([]ScopeStatus, 0, len(keys))

	for _, key := range keys {
		usage, err := l.store.Usage(ctx, now, key)
		if err != nil {
			return nil, err
		}

		status := ScopeStatus{
			Scope:     key.Scope,
			Limit:     key.Rule.Max,
			Used:      usage.Used,
			Remaining: max(key.Rule.Max-usage.Used, 0),
			ResetAt:   now,
		}
		if !usage.Oldest.IsZero() {
			status.ResetAt = usage.Oldest.Add(key.Rule.Window)
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

// Sweep drops expired counters from the backing store.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.now())
}

// Run sweeps periodically until ctx is done.
func (l *Limiter) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := l.Sweep(ctx)
			if err != nil {
				l.logger.Warn("rate limit sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				l.logger.Debug("rate limit sweep", zap.Int("removed", removed))
			}
		}
	}
}

func (l *Limiter) keys(sessionID, clientID string) []Key {
	keys := make([]Key, 0, 3)
	if l.cfg.Session.enabled() && sessionID != "" {
		keys = append(keys, Key{Scope: ScopeSession, ID: sessionID, Rule: l.cfg.Session})
	}
	if clientID = strings.TrimSpace(clientID); clientID != "" && l.cfg.Client.enabled() {
		keys = append(keys, Key{Scope: ScopeClient, ID: clientID, Rule: l.cfg.Client})
	}
	if l.cfg.Global.enabled() {
		keys = append(keys, Key{Scope: ScopeGlobal, ID: globalID, Rule: l.cfg.Global})
	}
	return keys
}
