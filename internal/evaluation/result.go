package evaluation

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/WFHTask/AI-interview/internal/interview"
)

// Tier is the hiring bucket derived from the composite score.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// Dimension weights, in tenths.
const (
	weightSkill         = 6
	weightCommunication = 2
	weightRemote        = 2
)

const (
	defaultInvitation = "Thank you for a great conversation! We'd love to move you straight to the next stage."
	defaultFollowUp   = "Thank you for taking the time to talk with us. The hiring team will review your interview and get back to you soon."
)

// Result is the immutable evaluation of one completed session.
type Result struct {
	SessionID              string    `json:"session_id"`
	JobID                  string    `json:"job_id"`
	SkillMatch             float64   `json:"skill_match_score"`
	SkillMatchRationale    string    `json:"skill_match_rationale"`
	Communication          float64   `json:"communication_score"`
	CommunicationRationale string    `json:"communication_rationale"`
	RemoteFit              float64   `json:"remote_fit_score"`
	RemoteFitRationale     string    `json:"remote_fit_rationale"`
	Composite              int       `json:"composite_score"`
	Tier                   Tier      `json:"tier"`
	Strengths              []string  `json:"strengths"`
	RedFlags               []string  `json:"red_flags"`
	Summary                string    `json:"summary"`
	CandidateMessage       string    `json:"candidate_message"`
	Model                  string    `json:"model,omitempty"`
	EvaluatedAt            time.Time `json:"evaluated_at"`
}

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Strengths = slices.Clone(r.Strengths)
	cp.RedFlags = slices.Clone(r.RedFlags)
	return &cp
}

// Composite is round(0.6*skill + 0.2*communication + 0.2*remote), with halves
// rounded up.
func Composite(skill, communication, remote float64) int {
	weighted := weightSkill*skill + weightCommunication*communication + weightRemote*remote
	return int(math.Round(weighted / 10))
}

// TierFor maps a composite score to a tier: 90 and above is S, 80 to 89 is
// A, 60 to 79 is B, anything lower is C.
func TierFor(composite int) Tier {
	switch {
	case composite >= 90:
		return TierS
	case composite >= 80:
		return TierA
	case composite >= 60:
		return TierB
	default:
		return TierC
	}
}

// CandidateMessage is what the candidate sees after evaluation. Only the S
// tier gets the invitation; the other tiers are not distinguishable.
func CandidateMessage(tier Tier, job *interview.JobProfile) string {
	if tier != TierS {
		return defaultFollowUp
	}

	msg := defaultInvitation
	if job != nil && strings.TrimSpace(job.STierInvitation) != "" {
		msg = strings.TrimSpace(job.STierInvitation)
	}
	if job != nil && strings.TrimSpace(job.SchedulingLink) != "" {
		msg += "\n\nBook a time here: " + strings.TrimSpace(job.SchedulingLink)
	}
	return msg
}
