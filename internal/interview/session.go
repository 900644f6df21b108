package interview

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusAbandoned Status = "ABANDONED"
)

// Terminal reports whether no further turns may be appended.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Role is the author of a turn.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleAgent     Role = "agent"
)

// Turn is an immutable transcript entry. Seq is contiguous from 0.
type Turn struct {
	Seq  int       `json:"seq"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
	// Redacted marks a candidate turn whose original text was rejected and
	// never stored.
	Redacted bool   `json:"redacted,omitempty"`
	Rule     string `json:"rule,omitempty"`
}

// JobProfile is the read-only description of the role being interviewed for.
type JobProfile struct {
	ID                string     `mapstructure:"id" json:"id"`
	Title             string     `mapstructure:"title" json:"title"`
	Description       string     `mapstructure:"description" json:"description"`
	OpeningStatement  string     `mapstructure:"opening-statement" json:"opening_statement,omitempty"`
	CompanyBackground string     `mapstructure:"company-background" json:"company_background,omitempty"`
	STierInvitation   string     `mapstructure:"s-tier-invitation" json:"s_tier_invitation,omitempty"`
	SchedulingLink    string     `mapstructure:"scheduling-link" json:"scheduling_link,omitempty"`
	Active            bool       `mapstructure:"active" json:"active"`
	ExpiresAt         *time.Time `mapstructure:"expires-at" json:"expires_at,omitempty"`
}

// Session is one candidate's interview for one job.
type Session struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	CandidateName  string    `json:"candidate_name,omitempty"`
	Status         Status    `json:"status"`
	Turns          []Turn    `json:"turns"`
	TurnCount      int       `json:"turn_count"`
	MaxTurns       int       `json:"max_turns"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	EndedAt        time.Time `json:"ended_at,omitzero"`
	EndReason      string    `json:"end_reason,omitempty"`
}

// Clone returns a deep copy safe to hand out to callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Turns = slices.Clone(s.Turns)
	return &cp
}

// NextSeq is the sequence number of the next turn to be appended.
func (s *Session) NextSeq() int { return len(s.Turns) }

// TurnsLeft is how many candidate turns may still be submitted.
func (s *Session) TurnsLeft() int { return max(s.MaxTurns-s.TurnCount, 0) }

// TranscriptText renders the transcript one turn per line, prefixed with the
// speaker. Redacted turns keep their placeholder text.
func (s *Session) TranscriptText() string {
	var b strings.Builder
	for _, turn := range s.Turns {
		speaker := "Interviewer"
		if turn.Role == RoleCandidate {
			speaker = "Candidate"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, strings.TrimSpace(turn.Text))
	}
	return b.String()
}

// StateChange is the persisted part of a transition.
type StateChange struct {
	Status         Status
	TurnCount      int
	LastActivityAt time.Time
	EndedAt        time.Time
	EndReason      string
}

func (s *Session) state() StateChange {
	return StateChange{
		Status:         s.Status,
		TurnCount:      s.TurnCount,
		LastActivityAt: s.LastActivityAt,
		EndedAt:        s.EndedAt,
		EndReason:      s.EndReason,
	}
}

func (s *Session) apply(c StateChange) {
	s.Status = c.Status
	s.TurnCount = c.TurnCount
	s.LastActivityAt = c.LastActivityAt
	s.EndedAt = c.EndedAt
	s.EndReason = c.EndReason
}
