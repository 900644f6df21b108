package httpapi

import (
	"errors"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/WFHTask/AI-interview/internal/interview"
	"github.com/WFHTask/AI-interview/internal/service"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Rule       string `json:"rule,omitempty"`
	Scope      string `json:"scope,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// classify maps an error to its HTTP status and body.
func classify(err error) (int, errorBody) {
	body := errorBody{Error: "internal", Message: err.Error()}

	var ierr *interview.Error
	switch {
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()}
	case errors.As(err, &ierr):
		body.Error = string(ierr.Kind)
		body.Rule = ierr.Rule
		body.Scope = string(ierr.Scope)
		switch ierr.Kind {
		case interview.KindValidation:
			return fiber.StatusUnprocessableEntity, body
		case interview.KindRateLimited:
			body.RetryAfter = retrySeconds(ierr)
			return fiber.StatusTooManyRequests, body
		case interview.KindTransientModel:
			return fiber.StatusServiceUnavailable, body
		case interview.KindSchemaViolation:
			return fiber.StatusBadGateway, body
		case interview.KindFatalSession:
			return fiber.StatusConflict, body
		}
	}

	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return ferr.Code, errorBody{Error: "request", Message: ferr.Message}
	}
	return fiber.StatusInternalServerError, body
}

func retrySeconds(err *interview.Error) int {
	return max(int(math.Ceil(err.RetryAfter.Seconds())), 1)
}

func writeError(c *fiber.Ctx, err error) error {
	status, body := classify(err)
	if status == fiber.StatusTooManyRequests {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(body.RetryAfter))
	}
	return c.Status(status).JSON(body)
}

func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, _ := classify(err)
		if status >= fiber.StatusInternalServerError {
			log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		}
		return writeError(c, err)
	}
}
