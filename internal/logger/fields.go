package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Structured log keys shared across packages.
const (
	FieldProvider = "ai_provider"
	FieldModel    = "ai_model"
	FieldSession  = "session_id"
	FieldJob      = "job_id"
	FieldClient   = "client_id"
)

// Pairs builds string fields from alternating keys and values. Keys and
// values are trimmed and pairs with either side blank are skipped, as is a
// trailing key without a value.
func Pairs(kv ...string) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, value := strings.TrimSpace(kv[i]), strings.TrimSpace(kv[i+1])
		if key == "" || value == "" {
			continue
		}
		fields = append(fields, zap.String(key, value))
	}
	return fields
}

// With attaches fields to logger. A nil logger becomes a no-op logger.
func With(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// WithModel tags logger with the AI provider and model.
func WithModel(logger *zap.Logger, provider, model string) *zap.Logger {
	return With(logger, Pairs(FieldProvider, provider, FieldModel, model)...)
}

// WithSession tags logger with the interview session and job.
func WithSession(logger *zap.Logger, sessionID, jobID string) *zap.Logger {
	return With(logger, Pairs(FieldSession, sessionID, FieldJob, jobID)...)
}
