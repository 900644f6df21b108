package notify

import (
	"fmt"
	"strings"

	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/interview"
	"github.com/WFHTask/AI-interview/internal/utils"
)

// Transcript excerpts longer than this are cut.
const maxTranscript = 1500

var tierColors = map[evaluation.Tier]string{
	evaluation.TierS: "red",
	evaluation.TierA: "green",
	evaluation.TierB: "orange",
	evaluation.TierC: "grey",
}

var tierLabels = map[evaluation.Tier]string{
	evaluation.TierS: "[S] Follow up now",
	evaluation.TierA: "[A] Strong",
	evaluation.TierB: "[B] Backup",
	evaluation.TierC: "[C] Decline",
}

type text struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type element struct {
	Tag      string   `json:"tag"`
	Text     *text    `json:"text,omitempty"`
	Elements []text   `json:"elements,omitempty"`
	Actions  []button `json:"actions,omitempty"`
}

type button struct {
	Tag  string `json:"tag"`
	Text text   `json:"text"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

type cardMessage struct {
	MsgType string `json:"msg_type"`
	Card    card   `json:"card"`
}

type card struct {
	Config   map[string]bool `json:"config"`
	Header   header          `json:"header"`
	Elements []element       `json:"elements"`
}

type header struct {
	Title    text   `json:"title"`
	Template string `json:"template"`
}

type textMessage struct {
	MsgType string            `json:"msg_type"`
	Content map[string]string `json:"content"`
}

func markdown(content string) element {
	return element{Tag: "div", Text: &text{Tag: "lark_md", Content: content}}
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}

func candidate(session *interview.Session) string {
	if name := strings.TrimSpace(session.CandidateName); name != "" {
		return name
	}
	return "Anonymous candidate"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func buildCard(session *interview.Session, job *interview.JobProfile, result *evaluation.Result, detailURL string, urgent bool) cardMessage {
	label := tierLabels[result.Tier]
	color, ok := tierColors[result.Tier]
	if !ok {
		color = "grey"
	}

	head := fmt.Sprintf("**Candidate**: %s\n**Role**: %s\n**Score**: %d/100\n**Tier**: %s",
		candidate(session), job.Title, result.Composite, label)

	elements := []element{
		markdown(head),
		{Tag: "hr"},
		markdown("**Summary**\n" + result.Summary),
		{Tag: "hr"},
		markdown("**Strengths**\n" + bullets(result.Strengths)),
		markdown("**Red flags**\n" + bullets(result.RedFlags)),
	}

	if transcript := session.TranscriptText(); transcript != "" {
		excerpt := utils.TruncateForLog(transcript, maxTranscript)
		elements = append(elements, markdown("**Transcript**\n```\n"+excerpt+"\n```"))
	}

	elements = append(elements,
		element{Tag: "hr"},
		element{Tag: "note", Elements: []text{{
			Tag:     "plain_text",
			Content: fmt.Sprintf("Session %s | %s", shortID(session.ID), result.EvaluatedAt.Format("2006-01-02 15:04")),
		}}},
	)

	if detailURL != "" {
		kind := "default"
		if urgent {
			kind = "primary"
		}
		elements = append(elements, element{Tag: "action", Actions: []button{{
			Tag:  "button",
			Text: text{Tag: "plain_text", Content: "Open full interview"},
			Type: kind,
			URL:  detailURL,
		}}})
	}

	title := "AI interview result - " + candidate(session)
	if urgent {
		title = "[URGENT] " + title
	}

	return cardMessage{
		MsgType: "interactive",
		Card: card{
			Config:   map[string]bool{"wide_screen_mode": true},
			Header:   header{Title: text{Tag: "plain_text", Content: title}, Template: color},
			Elements: elements,
		},
	}
}

func buildAlert(session *interview.Session, job *interview.JobProfile, result *evaluation.Result) textMessage {
	msg := fmt.Sprintf("[URGENT] S-tier candidate: %s for %s scored %d/100. Please follow up now.",
		candidate(session), job.Title, result.Composite)
	return textMessage{MsgType: "text", Content: map[string]string{"text": msg}}
}
