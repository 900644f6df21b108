package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// payload is the evaluator's JSON reply. Scores are pointers so a missing
// field is distinguishable from zero.
type payload struct {
	SkillMatch             *float64 `json:"skill_match_score" validate:"required,min=0,max=100"`
	SkillMatchRationale    string   `json:"skill_match_rationale" validate:"required"`
	Communication          *float64 `json:"communication_score" validate:"required,min=0,max=100"`
	CommunicationRationale string   `json:"communication_rationale" validate:"required"`
	RemoteFit              *float64 `json:"remote_fit_score" validate:"required,min=0,max=100"`
	RemoteFitRationale     string   `json:"remote_fit_rationale" validate:"required"`
	Strengths              []string `json:"strengths"`
	RedFlags               []string `json:"red_flags"`
	Summary                string   `json:"summary"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode parses and validates a raw evaluator reply. Values out of range are
// reported, never clamped.
func decode(raw string, v *validator.Validate) (*payload, error) {
	cleaned := extractJSON(raw)
	if cleaned == "" {
		return nil, errors.New("empty evaluator response")
	}

	var p payload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, fmt.Errorf("parse evaluator response: %w", err)
	}

	if err := v.Struct(&p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problems := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				problems = append(problems, describe(fe))
			}
			return nil, fmt.Errorf("invalid evaluator response: %s", strings.Join(problems, "; "))
		}
		return nil, err
	}

	return &p, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is missing"
	case "min", "max":
		value := fe.Value()
		if ptr, ok := value.(*float64); ok && ptr != nil {
			value = *ptr
		}
		return fmt.Sprintf("%s=%v outside [0,100]", fe.Field(), value)
	default:
		return fe.Field() + " failed " + fe.Tag()
	}
}

// extractJSON strips markdown code fences some models wrap around JSON.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
