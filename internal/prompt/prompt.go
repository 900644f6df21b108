package prompt

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/WFHTask/AI-interview/internal/ai"
	"github.com/WFHTask/AI-interview/internal/interview"
)

//go:embed interviewer.md
var interviewerTemplate string

//go:embed evaluator.md
var evaluatorTemplate string

const (
	// kickoff opens the conversation when the transcript starts with the
	// interviewer, since the model expects a user message first.
	kickoff = "Hello, I'm ready to begin the interview."

	// redactedMessage stands in for candidate text the guardrail withheld.
	redactedMessage = "(The candidate's message was withheld by the content filter.)"

	defaultCandidateName = "the candidate"
)

// Field names of the evaluator response.
const (
	FieldSkillMatch             = "skill_match_score"
	FieldSkillMatchRationale    = "skill_match_rationale"
	FieldCommunication          = "communication_score"
	FieldCommunicationRationale = "communication_rationale"
	FieldRemoteFit              = "remote_fit_score"
	FieldRemoteFitRationale     = "remote_fit_rationale"
	FieldStrengths              = "strengths"
	FieldRedFlags               = "red_flags"
	FieldSummary                = "summary"
)

// Builder renders the requests for both agents. It is stateless.
type Builder struct {
	interviewerTemperature *float32
	evaluatorTemperature   *float32
}

// New returns a Builder with a conversational interviewer temperature and a
// deterministic evaluator.
func New() *Builder {
	interviewer := float32(0.7)
	evaluator := float32(0)
	return &Builder{interviewerTemperature: &interviewer, evaluatorTemperature: &evaluator}
}

// Interviewer builds the request for the next interviewer reply. The history
// is sent in role order; redacted candidate turns are replaced by a
// placeholder.
func (b *Builder) Interviewer(session *interview.Session, job *interview.JobProfile) ai.Request {
	turn := session.TurnCount
	if turn == 0 {
		turn = 1
	}

	system := render(interviewerTemplate, map[string]string{
		"JOB_TITLE":          singleLine(job.Title),
		"CANDIDATE_NAME":     candidateName(session.CandidateName),
		"JOB_DESCRIPTION":    block(job.Description),
		"COMPANY_BACKGROUND": block(job.CompanyBackground),
		"TURN":               strconv.Itoa(turn),
		"MAX_TURNS":          strconv.Itoa(session.MaxTurns),
		"TURNS_LEFT":         strconv.Itoa(max(session.MaxTurns-turn, 0)),
		"CLOSE_SENTINEL":     interview.CloseSentinel,
	})

	messages := make([]ai.Message, 0, len(session.Turns)+1)
	if len(session.Turns) == 0 || session.Turns[0].Role == interview.RoleAgent {
		messages = append(messages, ai.Message{Role: ai.RoleUser, Text: kickoff})
	}
	for _, t := range session.Turns {
		switch {
		case t.Role == interview.RoleAgent:
			messages = append(messages, ai.Message{Role: ai.RoleModel, Text: t.Text})
		case t.Redacted:
			messages = append(messages, ai.Message{Role: ai.RoleUser, Text: redactedMessage})
		default:
			messages = append(messages, ai.Message{Role: ai.RoleUser, Text: t.Text})
		}
	}

	return ai.Request{
		SystemInstruction: system,
		Messages:          messages,
		Temperature:       b.interviewerTemperature,
	}
}

// Evaluator builds the structured scoring request. The tier is never asked
// for; it is derived from the scores.
func (b *Builder) Evaluator(transcript []interview.Turn, job *interview.JobProfile) ai.Request {
	prompt := render(evaluatorTemplate, map[string]string{
		"JOB_TITLE":       singleLine(job.Title),
		"JOB_DESCRIPTION": block(job.Description),
		"REDACTED":        interview.RedactedText,
		"TRANSCRIPT":      renderTranscript(transcript),
	})

	return ai.Request{
		Messages:    []ai.Message{{Role: ai.RoleUser, Text: prompt}},
		Schema:      EvaluationSchema(),
		Temperature: b.evaluatorTemperature,
	}
}

// EvaluationSchema describes the evaluator response.
func EvaluationSchema() *ai.Schema {
	score := func(desc string) *ai.Schema {
		return &ai.Schema{Type: ai.TypeNumber, Description: desc, Minimum: ai.Float(0), Maximum: ai.Float(100)}
	}
	text := func(desc string) *ai.Schema {
		return &ai.Schema{Type: ai.TypeString, Description: desc}
	}
	list := func(desc string) *ai.Schema {
		return &ai.Schema{Type: ai.TypeArray, Description: desc, Items: &ai.Schema{Type: ai.TypeString}}
	}

	return &ai.Schema{
		Type: ai.TypeObject,
		Properties: map[string]*ai.Schema{
			FieldSkillMatch:             score("Skill match for the role, 0-100."),
			FieldSkillMatchRationale:    text("Evidence behind the skill match score."),
			FieldCommunication:          score("Communication quality, 0-100."),
			FieldCommunicationRationale: text("Evidence behind the communication score."),
			FieldRemoteFit:              score("Remote work fit, 0-100."),
			FieldRemoteFitRationale:     text("Evidence behind the remote fit score."),
			FieldStrengths:              list("Concrete strengths shown in the transcript."),
			FieldRedFlags:               list("Concerns or red flags."),
			FieldSummary:                text("Two-sentence summary for the hiring team."),
		},
		Required: []string{
			FieldSkillMatch, FieldSkillMatchRationale,
			FieldCommunication, FieldCommunicationRationale,
			FieldRemoteFit, FieldRemoteFitRationale,
		},
	}
}

func renderTranscript(turns []interview.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		speaker := "Interviewer"
		if t.Role == interview.RoleCandidate {
			speaker = "Candidate"
		}
		text := strings.TrimSpace(t.Text)
		if t.Redacted {
			text = interview.RedactedText
		}
		fmt.Fprintf(&sb, "[%d] %s: %s\n", t.Seq, speaker, bracketReplacer.Replace(text))
	}
	if sb.Len() == 0 {
		return noneValue
	}
	return sb.String()
}

func candidateName(name string) string {
	if name = singleLine(name); name == "" {
		return defaultCandidateName
	}
	return name
}

func render(template string, values map[string]string) string {
	out := template
	for key, value := range values {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return strings.TrimSpace(out)
}
