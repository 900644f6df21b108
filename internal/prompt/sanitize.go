package prompt

import (
	"strings"
	"unicode/utf8"
)

const (
	maxSingleLineRunes = 200
	maxBlockRunes      = 8000
	noneValue          = "none"
)

var bracketReplacer = strings.NewReplacer("[", "(", "]", ")", "{{", "(", "}}", ")")

// singleLine collapses whitespace, neutralizes brackets and truncates, so a
// value cannot open a new section of the prompt.
func singleLine(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	value = bracketReplacer.Replace(value)
	return truncateRunes(value, maxSingleLineRunes)
}

// block keeps line structure but trims every line, drops blank runs,
// neutralizes brackets and caps the total length.
func block(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")

	lines := strings.Split(value, "\n")
	kept := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(kept) > 0 {
				kept = append(kept, "")
			}
			blank = true
			continue
		}
		blank = false
		kept = append(kept, bracketReplacer.Replace(line))
	}

	out := strings.TrimSpace(strings.Join(kept, "\n"))
	if out == "" {
		return noneValue
	}
	return truncateRunes(out, maxBlockRunes)
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
