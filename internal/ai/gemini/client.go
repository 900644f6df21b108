package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/WFHTask/AI-interview/internal/ai"
	"github.com/WFHTask/AI-interview/internal/logger"
	"github.com/WFHTask/AI-interview/internal/utils"
)

const (
	providerName = "gemini"

	defaultInterviewerModel = "gemini-2.5-flash"
	defaultEvaluatorModel   = "gemini-2.5-pro"
	defaultMaxAttempts      = 2
	defaultMaxLogLength     = 200

	retryBaseDelay = time.Second
	retryMaxDelay  = 8 * time.Second
	// maxQuotaDelay is the longest server-requested wait we are willing to sit through.
	maxQuotaDelay = 10 * time.Second
)

var sleep = utils.WaitFor

var retryDelayPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*(s|sec|secs|seconds?)?\b`)

// models is the subset of genai.Models used by the generator.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Config selects models and retry behaviour.
type Config struct {
	APIKey           string
	InterviewerModel string
	EvaluatorModel   string
	MaxAttempts      int
	MaxLogLength     int
}

// Generator serves both agents through the Gemini API: the interviewer via
// streaming and the evaluator via schema-constrained JSON.
type Generator struct {
	models           models
	interviewerModel string
	evaluatorModel   string
	maxAttempts      int
	maxLogLen        int
	logger           *zap.Logger
}

// NewGenerator creates a Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, cfg Config, log *zap.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGenerator(client.Models, cfg, log), nil
}

func newGenerator(m models, cfg Config, log *zap.Logger) *Generator {
	g := &Generator{
		models:           m,
		interviewerModel: strings.TrimSpace(cfg.InterviewerModel),
		evaluatorModel:   strings.TrimSpace(cfg.EvaluatorModel),
		maxAttempts:      cfg.MaxAttempts,
		maxLogLen:        cfg.MaxLogLength,
	}
	if g.interviewerModel == "" {
		g.interviewerModel = defaultInterviewerModel
	}
	if g.evaluatorModel == "" {
		g.evaluatorModel = defaultEvaluatorModel
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = defaultMaxAttempts
	}
	if g.maxLogLen <= 0 {
		g.maxLogLen = defaultMaxLogLength
	}
	g.logger = logger.WithModel(log, providerName, "")
	return g
}

// Name reports the provider and models in use.
func (g *Generator) Name() string {
	if g == nil {
		return ""
	}
	if g.interviewerModel == g.evaluatorModel {
		return providerName + "/" + g.evaluatorModel
	}
	return providerName + "/" + g.interviewerModel + "+" + g.evaluatorModel
}

// StreamComplete streams the interviewer reply. Thought parts are skipped.
// The stream is not retried: a partial reply has already reached the caller.
func (g *Generator) StreamComplete(ctx context.Context, req ai.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if g == nil || g.models == nil {
			yield("", errors.New("gemini generator is not initialized"))
			return
		}

		contents, cfg, err := buildCall(req)
		if err != nil {
			yield("", err)
			return
		}

		log := g.logger.With(zap.String(logger.FieldModel, g.interviewerModel))
		log.Debug("gemini stream request",
			zap.Int("messages", len(contents)),
			zap.String("last_message_preview", utils.TruncateForLog(lastMessage(req), g.maxLogLen)),
		)

		var total int
		for resp, err := range g.models.GenerateContentStream(ctx, g.interviewerModel, contents, cfg) {
			if err != nil {
				yield("", fmt.Errorf("stream content: %w", err))
				return
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			total += utf8.RuneCountInString(text)
			if !yield(text, nil) {
				log.Debug("gemini stream stopped by consumer", zap.Int("response_length", total))
				return
			}
		}

		log.Debug("gemini stream finished", zap.Int("response_length", total))
	}
}

// StructuredComplete asks for JSON matching req.Schema. Temporary API
// failures are retried with backoff up to the configured number of attempts.
func (g *Generator) StructuredComplete(ctx context.Context, req ai.Request) (string, error) {
	if g == nil || g.models == nil {
		return "", errors.New("gemini generator is not initialized")
	}
	if req.Schema == nil {
		return "", errors.New("structured request requires a schema")
	}

	contents, cfg, err := buildCall(req)
	if err != nil {
		return "", err
	}

	log := g.logger.With(zap.String(logger.FieldModel, g.evaluatorModel))

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		log.Debug("gemini generate content request",
			zap.Int("attempt", attempt+1),
			zap.String("prompt_preview", utils.TruncateForLog(lastMessage(req), g.maxLogLen)),
		)

		resp, err := g.models.GenerateContent(ctx, g.evaluatorModel, contents, cfg)
		if err == nil {
			output := strings.TrimSpace(responseText(resp))
			if output == "" {
				return "", errors.New("gemini api returned empty response")
			}
			log.Debug("gemini generate content response",
				zap.Int("response_length", utf8.RuneCountInString(output)),
				zap.String("response_preview", utils.TruncateForLog(output, g.maxLogLen)),
			)
			return output, nil
		}

		lastErr = fmt.Errorf("generate content: %w", err)
		if attempt+1 >= g.maxAttempts {
			break
		}

		delay, retry := retryDelay(err, attempt)
		if !retry {
			break
		}

		log.Warn("gemini call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", lastErr
}

func buildCall(req ai.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if msg.Role == ai.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("request has no messages")
	}

	cfg := &genai.GenerateContentConfig{Temperature: req.Temperature}
	if sys := strings.TrimSpace(req.SystemInstruction); sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toSchema(req.Schema)
	}

	return contents, cfg, nil
}

func toSchema(s *ai.Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
		Items:       toSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toSchema(prop)
		}
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case ai.TypeObject:
		return genai.TypeObject
	case ai.TypeNumber:
		return genai.TypeNumber
	case ai.TypeInteger:
		return genai.TypeInteger
	case ai.TypeBoolean:
		return genai.TypeBoolean
	case ai.TypeArray:
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var builder strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		builder.WriteString(part.Text)
	}
	return builder.String()
}

func lastMessage(req ai.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Text
}

// retryDelay decides whether err is worth another attempt and how long to wait.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) || apiErrPtr == nil {
			return 0, false
		}
		apiErr = *apiErrPtr
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		if d, ok := quotaDelay(apiErr.Message); ok {
			if d > maxQuotaDelay {
				return 0, false
			}
			return d, true
		}
		return utils.Backoff(attempt, retryBaseDelay, retryMaxDelay), true
	case apiErr.Code >= http.StatusInternalServerError:
		return utils.Backoff(attempt, retryBaseDelay, retryMaxDelay), true
	default:
		return 0, false
	}
}

func quotaDelay(message string) (time.Duration, bool) {
	match := retryDelayPattern.FindStringSubmatch(message)
	if len(match) < 2 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
