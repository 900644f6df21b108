package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/WFHTask/AI-interview/internal/interview"
)

// Server-sent event names.
const (
	eventChunk = "chunk"
	eventDone  = "done"
	eventError = "error"
)

type chunkEvent struct {
	Text string `json:"text"`
}

// stream runs fn after the response headers are sent and forwards every chunk
// as an event. A failed write cancels the turn through the sink. The final
// event is either done with the result or error with the error body.
func (h *Handler) stream(c *fiber.Ctx, fn func(ctx context.Context, sink interview.ChunkSink) (any, error)) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	timeout := h.streamTimeout
	log := h.logger.With(zap.String("path", strings.Clone(c.Path())))

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		sink := func(chunk string) error {
			if err := writeEvent(w, eventChunk, chunkEvent{Text: chunk}); err != nil {
				return err
			}
			return w.Flush()
		}

		result, err := fn(ctx, sink)
		if err != nil {
			_, body := classify(err)
			if werr := writeEvent(w, eventError, body); werr != nil {
				log.Debug("client went away before the error event", zap.Error(werr))
			}
			_ = w.Flush()
			return
		}

		if werr := writeEvent(w, eventDone, result); werr != nil {
			log.Debug("client went away before the done event", zap.Error(werr))
		}
		_ = w.Flush()
	}))

	return nil
}

func writeEvent(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
