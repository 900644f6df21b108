package httpapi

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/interview"
	"github.com/WFHTask/AI-interview/internal/ratelimit"
	"github.com/WFHTask/AI-interview/internal/service"
)

// Interviews is the part of the service the HTTP layer needs.
type Interviews interface {
	StartSession(ctx context.Context, jobID, candidateName string, sink interview.ChunkSink) (*service.Started, error)
	SubmitTurn(ctx context.Context, sessionID, clientID, text string, sink interview.ChunkSink) (*interview.Reply, error)
	GetSessionState(ctx context.Context, sessionID string) (*service.State, error)
	Abandon(ctx context.Context, sessionID, reason string) (*interview.Session, error)
	Evaluate(ctx context.Context, sessionID string) (*evaluation.Result, error)
	GetRateLimitStatus(ctx context.Context, sessionID, clientID string) ([]ratelimit.ScopeStatus, error)
}

type startRequest struct {
	JobID         string `json:"job_id" validate:"required,max=64"`
	CandidateName string `json:"candidate_name" validate:"max=100"`
}

type turnRequest struct {
	// Content rules are enforced by the guardrail so that rejected input
	// still counts as a turn; this only bounds the payload.
	Text string `json:"text" validate:"max=20000"`
}

type abandonRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

// turnResponse adds the deflection details hidden on interview.Reply.
type turnResponse struct {
	*interview.Reply
	Rejected bool   `json:"rejected"`
	Rule     string `json:"rule,omitempty"`
}

// Handler serves the interview routes.
type Handler struct {
	svc           Interviews
	validate      *validator.Validate
	streamTimeout time.Duration
	logger        *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc Interviews, streamTimeout time.Duration, logger *zap.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})

	return &Handler{
		svc:           svc,
		validate:      v,
		streamTimeout: streamTimeout,
		logger:        logger,
	}
}

// RegisterRoutes registers the interview routes on router.
func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Post("/sessions", h.StartSession)
	router.Get("/sessions/:id", h.GetSession)
	router.Post("/sessions/:id/turns", h.SubmitTurn)
	router.Post("/sessions/:id/abandon", h.Abandon)
	router.Post("/sessions/:id/evaluation", h.Evaluate)
	router.Get("/rate-limit", h.RateLimitStatus)
}

// StartSession handles POST /sessions
func (h *Handler) StartSession(c *fiber.Ctx) error {
	var req startRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, err)
	}

	run := func(ctx context.Context, sink interview.ChunkSink) (any, error) {
		return h.svc.StartSession(ctx, req.JobID, req.CandidateName, sink)
	}
	if wantsStream(c) {
		return h.stream(c, run)
	}

	started, err := run(c.UserContext(), nil)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(started)
}

// SubmitTurn handles POST /sessions/:id/turns
func (h *Handler) SubmitTurn(c *fiber.Ctx) error {
	// Copied: fiber reuses these buffers once the handler returns, and
	// streamed turns run after that.
	sessionID := strings.Clone(c.Params("id"))
	clientID := strings.Clone(c.IP())

	var req turnRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, err)
	}

	run := func(ctx context.Context, sink interview.ChunkSink) (any, error) {
		reply, err := h.svc.SubmitTurn(ctx, sessionID, clientID, req.Text, sink)
		if err != nil {
			return nil, err
		}
		resp := turnResponse{Reply: reply}
		if reply.Rejection != nil {
			resp.Rejected = true
			resp.Rule = reply.Rejection.Rule
		}
		return resp, nil
	}
	if wantsStream(c) {
		return h.stream(c, run)
	}

	resp, err := run(c.UserContext(), nil)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(resp)
}

// GetSession handles GET /sessions/:id
func (h *Handler) GetSession(c *fiber.Ctx) error {
	state, err := h.svc.GetSessionState(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(state)
}

// Abandon handles POST /sessions/:id/abandon
func (h *Handler) Abandon(c *fiber.Ctx) error {
	var req abandonRequest
	if len(c.Body()) > 0 {
		if err := h.bind(c, &req); err != nil {
			return writeError(c, err)
		}
	}

	session, err := h.svc.Abandon(c.UserContext(), c.Params("id"), req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(session)
}

// Evaluate handles POST /sessions/:id/evaluation
func (h *Handler) Evaluate(c *fiber.Ctx) error {
	result, err := h.svc.Evaluate(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// RateLimitStatus handles GET /rate-limit?session_id=
func (h *Handler) RateLimitStatus(c *fiber.Ctx) error {
	statuses, err := h.svc.GetRateLimitStatus(c.UserContext(), c.Query("session_id"), c.IP())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"scopes": statuses})
}

// bind parses and validates a JSON body. Failures are validation errors.
func (h *Handler) bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return &interview.Error{Kind: interview.KindValidation, Op: "parse request", Err: err}
	}
	if err := h.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problems := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				problems = append(problems, fe.Field()+" failed "+fe.Tag())
			}
			err = errors.New(strings.Join(problems, "; "))
		}
		return &interview.Error{Kind: interview.KindValidation, Op: "validate request", Err: err}
	}
	return nil
}

func wantsStream(c *fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderAccept), "text/event-stream")
}
