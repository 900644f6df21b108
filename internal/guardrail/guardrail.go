package guardrail

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/WFHTask/AI-interview/internal/interview"
)

const defaultMaxLength = 5000

var (
	excessBlankLines = regexp.MustCompile(`\n{3,}`)
	trailingSpaces   = regexp.MustCompile(`[ \t]+\n`)
)

// Rule is a single check applied to normalized candidate input.
type Rule interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	// Check returns a non-nil error describing why text is rejected.
	Check(text string) error
}

// Status represents runtime information about a rule.
type Status struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// statusProvider is implemented by rules that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// Config tunes the default rule set.
type Config struct {
	MaxLength    int      `mapstructure:"max-length"`
	BlockedTerms []string `mapstructure:"blocked-terms"`
	Disabled     []string `mapstructure:"disabled"`
}

// Filter screens candidate messages before they reach the interviewer. It is
// stateless and safe for concurrent use.
type Filter struct {
	rules  []Rule
	logger *zap.Logger
}

// New builds the default rule pipeline: structural rules first, content rules
// after.
func New(cfg Config, logger *zap.Logger) *Filter {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultMaxLength
	}

	rules := []Rule{
		NewEmpty(),
		NewMaxLength(cfg.MaxLength),
		NewControlChars(),
		NewRepetition(),
		NewWhitespaceFlood(),
		NewInjection(),
		NewConfidentialProbe(),
		NewMarkup(),
		NewBlockedTerms(cfg.BlockedTerms),
	}

	for _, name := range cfg.Disabled {
		DisableByName(rules, strings.TrimSpace(name), "disabled by configuration")
	}

	return NewWithRules(rules, logger)
}

// NewWithRules builds a filter from an explicit rule list.
func NewWithRules(rules []Rule, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{rules: rules, logger: logger}
}

// DisableByName marks a rule with the provided name as disabled while keeping it in the list.
func DisableByName(rules []Rule, name, reason string) {
	for _, rule := range rules {
		if rule.Name() == name {
			rule.Disable(reason)
		}
	}
}

// Sanitize normalizes text and runs every enabled rule. It returns the cleaned
// text, or a *interview.Error of KindValidation naming the first rule that
// rejected it. Input is never mutated beyond normalization.
func (f *Filter) Sanitize(text string) (string, error) {
	normalized := normalize(text)

	for _, rule := range f.rules {
		if !rule.IsEnabled() {
			continue
		}
		if err := rule.Check(normalized); err != nil {
			f.logger.Info("guardrail rejected input",
				zap.String("rule", rule.Name()),
				zap.Int("input_length", utf8.RuneCountInString(normalized)),
				zap.String("reason", err.Error()),
			)
			return "", &interview.Error{
				Kind: interview.KindValidation,
				Op:   "guardrail",
				Rule: rule.Name(),
				Err:  err,
			}
		}
	}

	return tidy(normalized), nil
}

// Describe returns status entries for the configured rules.
func (f *Filter) Describe() []Status {
	statuses := make([]Status, 0, len(f.rules))
	for _, rule := range f.rules {
		if reporter, ok := rule.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    rule.Name(),
			Enabled: rule.IsEnabled(),
		})
	}
	return statuses
}

func normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

func tidy(text string) string {
	text = trailingSpaces.ReplaceAllString(text, "\n")
	return excessBlankLines.ReplaceAllString(text, "\n\n")
}

var errEmpty = errors.New("message is empty")
