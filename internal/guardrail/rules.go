package guardrail

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// toggle carries the enable/disable state shared by all rules.
type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

type emptyRule struct{ toggle }

// NewEmpty rejects blank input.
func NewEmpty() Rule { return &emptyRule{} }

func (r *emptyRule) Name() string { return "empty" }

func (r *emptyRule) Check(text string) error {
	if text == "" {
		return errEmpty
	}
	return nil
}

type maxLengthRule struct {
	toggle
	limit int
}

// NewMaxLength rejects input longer than limit runes.
func NewMaxLength(limit int) Rule { return &maxLengthRule{limit: limit} }

func (r *maxLengthRule) Name() string { return "max_length" }

func (r *maxLengthRule) Check(text string) error {
	if n := utf8.RuneCountInString(text); n > r.limit {
		return fmt.Errorf("message has %d characters, limit is %d", n, r.limit)
	}
	return nil
}

func (r *maxLengthRule) Status() Status {
	return Status{
		Name:    r.Name(),
		Enabled: r.IsEnabled(),
		Reason:  r.reason,
		Details: map[string]string{"limit": strconv.Itoa(r.limit)},
	}
}

type controlCharsRule struct{ toggle }

// NewControlChars rejects control characters other than tab and newline,
// and bidirectional override or isolate marks.
func NewControlChars() Rule { return &controlCharsRule{} }

func (r *controlCharsRule) Name() string { return "control_chars" }

func (r *controlCharsRule) Check(text string) error {
	for _, c := range text {
		if c == '\t' || c == '\n' {
			continue
		}
		if c == utf8.RuneError || unicode.IsControl(c) || isBidiControl(c) {
			return fmt.Errorf("message contains disallowed character %U", c)
		}
	}
	return nil
}

func isBidiControl(c rune) bool {
	return (c >= 0x202A && c <= 0x202E) || (c >= 0x2066 && c <= 0x2069)
}

const maxRepeatedRunes = 20

type repetitionRule struct{ toggle }

// NewRepetition rejects the same non-space character repeated more than 20
// times in a row.
func NewRepetition() Rule { return &repetitionRule{} }

func (r *repetitionRule) Name() string { return "repetition" }

func (r *repetitionRule) Check(text string) error {
	var prev rune
	run := 0
	for _, c := range text {
		if c == prev {
			run++
		} else {
			prev, run = c, 1
		}
		if run > maxRepeatedRunes && !unicode.IsSpace(c) {
			return fmt.Errorf("character %q repeated more than %d times", c, maxRepeatedRunes)
		}
	}
	return nil
}

const (
	maxConsecutiveNewlines = 4
	maxConsecutiveSpaces   = 19
)

type whitespaceFloodRule struct{ toggle }

// NewWhitespaceFlood rejects padding used to push content out of view.
func NewWhitespaceFlood() Rule { return &whitespaceFloodRule{} }

func (r *whitespaceFloodRule) Name() string { return "whitespace_flood" }

func (r *whitespaceFloodRule) Check(text string) error {
	if strings.Contains(text, strings.Repeat("\n", maxConsecutiveNewlines+1)) {
		return errors.New("message contains too many consecutive line breaks")
	}
	if strings.Contains(text, strings.Repeat(" ", maxConsecutiveSpaces+1)) {
		return errors.New("message contains too many consecutive spaces")
	}
	return nil
}
