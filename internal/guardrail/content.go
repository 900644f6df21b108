package guardrail

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// patternRule rejects text matching any of its patterns. When gate is set,
// a pattern match only counts if gate matches too.
type patternRule struct {
	toggle
	name     string
	reason   error
	patterns []*regexp.Regexp
	gate     *regexp.Regexp
}

func (r *patternRule) Name() string { return r.name }

func (r *patternRule) Check(text string) error {
	if r.gate != nil && !r.gate.MatchString(text) {
		return nil
	}
	for _, p := range r.patterns {
		if p.MatchString(text) {
			return r.reason
		}
	}
	return nil
}

func (r *patternRule) Status() Status {
	return Status{
		Name:    r.name,
		Enabled: r.IsEnabled(),
		Reason:  r.toggle.reason,
		Details: map[string]string{"patterns": strconv.Itoa(len(r.patterns))},
	}
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\b.{0,40}\b(previous|prior|above|earlier|all|your|these)\b.{0,20}\b(instructions?|prompts?|rules|directions|guidelines)\b`),
	regexp.MustCompile(`(?i)\byou are now\b`),
	regexp.MustCompile(`(?i)\b(from now on|pretend)\b.{0,30}\b(act as|you are|to be)\b`),
	regexp.MustCompile(`(?i)^\s*(please\s+)?act as\b`),
	regexp.MustCompile(`(?im)^\s*(system|assistant|developer)\s*:`),
	regexp.MustCompile(`(?i)\[/?INST\]|<<\s*/?SYS\s*>>`),
	regexp.MustCompile(`<\|[a-z_]+\|>`),
	regexp.MustCompile(`\[\[[A-Z_]+\]\]`),
	regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|tell me)\b.{0,30}\b(system prompt|your prompt|your instructions|hidden instructions|initial instructions)\b`),
}

// NewInjection rejects attempts to override the interviewer's instructions.
func NewInjection() Rule {
	return &patternRule{
		name:     "injection",
		reason:   errors.New("message tries to change the interviewer's instructions"),
		patterns: injectionPatterns,
	}
}

var (
	probeGate = regexp.MustCompile(`(?i)\?|\b(what|what's|how much|how many|tell me|share|disclose|reveal|can you|could you|do you|is there|give me|let me know|(i'd|i would|i want to|want to) (like to )?(know|hear|learn)|hear about|please)\b`)

	confidentialPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(salary|salaries|compensation|pay range|pay band|pay scale|equity package|stock options|bonus structure)\b`),
		regexp.MustCompile(`(?i)\bbudget\b.{0,30}\b(role|position|hire|hiring|this job)\b`),
		regexp.MustCompile(`(?i)\b(funding|valuation|investors?|burn rate|runway|series [a-e])\b`),
		regexp.MustCompile(`(?i)\b(headcount|how many (people|employees|engineers|staff))\b`),
	}
)

// NewConfidentialProbe rejects questions about compensation, funding and
// internal company data.
func NewConfidentialProbe() Rule {
	return &patternRule{
		name:     "confidential_probe",
		reason:   errors.New("message asks for confidential company information"),
		patterns: confidentialPatterns,
		gate:     probeGate,
	}
}

var markupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`(?i)<\s*iframe\b`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)<[^>]*\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
}

// NewMarkup rejects script or markup injection.
func NewMarkup() Rule {
	return &patternRule{
		name:     "markup",
		reason:   errors.New("message contains executable markup"),
		patterns: markupPatterns,
	}
}

type blockedTermsRule struct {
	toggle
	terms []string
}

// NewBlockedTerms rejects input containing any configured term, ignoring case.
func NewBlockedTerms(terms []string) Rule {
	r := &blockedTermsRule{}
	for _, term := range terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			r.terms = append(r.terms, term)
		}
	}
	return r
}

func (r *blockedTermsRule) Name() string { return "blocked_terms" }

func (r *blockedTermsRule) Check(text string) error {
	if len(r.terms) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	for _, term := range r.terms {
		if strings.Contains(lower, term) {
			return errors.New("message contains a blocked term")
		}
	}
	return nil
}

func (r *blockedTermsRule) Status() Status {
	return Status{
		Name:    r.Name(),
		Enabled: r.IsEnabled(),
		Reason:  r.reason,
		Details: map[string]string{"terms": strconv.Itoa(len(r.terms))},
	}
}
