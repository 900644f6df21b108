package gemini

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/WFHTask/AI-interview/internal/ai"
)

type callRecord struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeModels struct {
	mu      sync.Mutex
	calls   []callRecord
	queue   []fakeResponse
	chunks  []fakeResponse
	yielded int
}

func (f *fakeModels) enqueue(resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeResponse{resp: resp, err: err})
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, callRecord{model: model, contents: contents, config: config})
	if len(f.queue) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := f.queue[0]
	f.queue = f.queue[1:]
	return res.resp, res.err
}

func (f *fakeModels) GenerateContentStream(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.mu.Lock()
	f.calls = append(f.calls, callRecord{model: model, contents: contents, config: config})
	chunks := f.chunks
	f.mu.Unlock()

	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, chunk := range chunks {
			f.mu.Lock()
			f.yielded++
			f.mu.Unlock()
			if !yield(chunk.resp, chunk.err) {
				return
			}
		}
	}
}

func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func noSleep(t *testing.T) {
	t.Helper()
	original := sleep
	sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { sleep = original })
}

func structuredRequest() ai.Request {
	return ai.Request{
		SystemInstruction: "system",
		Messages:          []ai.Message{{Role: ai.RoleUser, Text: "message"}},
		Schema: &ai.Schema{
			Type: ai.TypeObject,
			Properties: map[string]*ai.Schema{
				"score": {Type: ai.TypeNumber, Minimum: ai.Float(0), Maximum: ai.Float(100)},
			},
			Required: []string{"score"},
		},
	}
}

func TestStructuredCompleteRetriesOnTemporaryError(t *testing.T) {
	noSleep(t)

	fake := &fakeModels{}
	fake.enqueue(nil, genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"})
	fake.enqueue(textResponse(&genai.Part{Text: `{"score": 80}`}), nil)

	g := newGenerator(fake, Config{EvaluatorModel: "gemini-pro", MaxAttempts: 2}, zap.NewNop())

	output, err := g.StructuredComplete(context.Background(), structuredRequest())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if output != `{"score": 80}` {
		t.Fatalf("unexpected output: %q", output)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(fake.calls))
	}

	for _, call := range fake.calls {
		if call.model != "gemini-pro" {
			t.Fatalf("unexpected model %q", call.model)
		}
		if call.config == nil || call.config.SystemInstruction == nil {
			t.Fatalf("expected system instruction to be set")
		}
		if got := call.config.SystemInstruction.Parts[0].Text; got != "system" {
			t.Fatalf("unexpected system instruction: %q", got)
		}
		if call.config.ResponseMIMEType != "application/json" {
			t.Fatalf("expected json mime type, got %q", call.config.ResponseMIMEType)
		}
		score := call.config.ResponseSchema.Properties["score"]
		if score == nil || score.Type != genai.TypeNumber || *score.Maximum != 100 {
			t.Fatalf("unexpected schema property: %+v", score)
		}
		if len(call.contents) != 1 || call.contents[0].Parts[0].Text != "message" {
			t.Fatalf("unexpected contents: %+v", call.contents)
		}
	}
}

func TestStructuredCompleteStopsAfterAttemptsExhausted(t *testing.T) {
	noSleep(t)

	fake := &fakeModels{}
	tempErr := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	fake.enqueue(nil, tempErr)
	fake.enqueue(nil, tempErr)

	g := newGenerator(fake, Config{MaxAttempts: 2}, zap.NewNop())

	_, err := g.StructuredComplete(context.Background(), structuredRequest())
	if err == nil {
		t.Fatal("expected error after attempts exhausted")
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(fake.calls))
	}
}

func TestStructuredCompleteDoesNotRetryOnLongQuotaDelay(t *testing.T) {
	fake := &fakeModels{}
	fake.enqueue(nil, genai.APIError{
		Code:    http.StatusTooManyRequests,
		Status:  "RESOURCE_EXHAUSTED",
		Message: "quota exhausted, retry after 60 seconds",
	})

	g := newGenerator(fake, Config{MaxAttempts: 3}, zap.NewNop())

	if _, err := g.StructuredComplete(context.Background(), structuredRequest()); err == nil {
		t.Fatal("expected error when quota delay too long")
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(fake.calls))
	}
}

func TestStructuredCompleteDoesNotRetryClientErrors(t *testing.T) {
	fake := &fakeModels{}
	fake.enqueue(nil, genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"})

	g := newGenerator(fake, Config{MaxAttempts: 3}, zap.NewNop())

	if _, err := g.StructuredComplete(context.Background(), structuredRequest()); err == nil {
		t.Fatal("expected error")
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(fake.calls))
	}
}

func TestStructuredCompleteRequiresSchema(t *testing.T) {
	g := newGenerator(&fakeModels{}, Config{}, zap.NewNop())

	req := structuredRequest()
	req.Schema = nil
	if _, err := g.StructuredComplete(context.Background(), req); err == nil {
		t.Fatal("expected error without schema")
	}
}

func TestStreamCompleteYieldsChunksAndSkipsThoughts(t *testing.T) {
	fake := &fakeModels{chunks: []fakeResponse{
		{resp: textResponse(&genai.Part{Text: "thinking", Thought: true}, &genai.Part{Text: "Hello "})},
		{resp: textResponse(&genai.Part{Text: "there."})},
		{resp: &genai.GenerateContentResponse{}},
	}}

	g := newGenerator(fake, Config{InterviewerModel: "flash"}, zap.NewNop())

	req := ai.Request{
		SystemInstruction: "persona",
		Messages: []ai.Message{
			{Role: ai.RoleUser, Text: "Hi"},
			{Role: ai.RoleModel, Text: "Welcome"},
			{Role: ai.RoleUser, Text: "Ready"},
		},
	}

	var got []string
	for chunk, err := range g.StreamComplete(context.Background(), req) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, chunk)
	}

	if len(got) != 2 || got[0] != "Hello " || got[1] != "there." {
		t.Fatalf("unexpected chunks: %q", got)
	}

	call := fake.calls[0]
	if call.model != "flash" {
		t.Fatalf("expected interviewer model, got %q", call.model)
	}
	if call.contents[1].Role != string(genai.RoleModel) || call.contents[2].Role != string(genai.RoleUser) {
		t.Fatalf("unexpected roles: %s, %s", call.contents[1].Role, call.contents[2].Role)
	}
	if call.config.ResponseSchema != nil {
		t.Fatalf("streaming call must not request a schema")
	}
}

func TestStreamCompleteStopsWhenConsumerBreaks(t *testing.T) {
	fake := &fakeModels{chunks: []fakeResponse{
		{resp: textResponse(&genai.Part{Text: "one"})},
		{resp: textResponse(&genai.Part{Text: "two"})},
		{resp: textResponse(&genai.Part{Text: "three"})},
	}}
	g := newGenerator(fake, Config{}, zap.NewNop())

	req := ai.Request{Messages: []ai.Message{{Role: ai.RoleUser, Text: "Hi"}}}
	for range g.StreamComplete(context.Background(), req) {
		break
	}

	if fake.yielded != 1 {
		t.Fatalf("expected upstream to stop after the first chunk, got %d", fake.yielded)
	}
}

func TestStreamCompleteSurfacesMidStreamError(t *testing.T) {
	fake := &fakeModels{chunks: []fakeResponse{
		{resp: textResponse(&genai.Part{Text: "partial"})},
		{err: errors.New("connection reset")},
		{resp: textResponse(&genai.Part{Text: "never"})},
	}}
	g := newGenerator(fake, Config{}, zap.NewNop())

	req := ai.Request{Messages: []ai.Message{{Role: ai.RoleUser, Text: "Hi"}}}
	var chunks int
	var streamErr error
	for _, err := range g.StreamComplete(context.Background(), req) {
		if err != nil {
			streamErr = err
			continue
		}
		chunks++
	}

	if streamErr == nil {
		t.Fatal("expected stream error")
	}
	if chunks != 1 {
		t.Fatalf("expected 1 chunk before the error, got %d", chunks)
	}
}

func TestQuotaDelay(t *testing.T) {
	tests := []struct {
		message string
		expect  time.Duration
		ok      bool
	}{
		{message: "retry after 60 seconds", expect: time.Minute, ok: true},
		{message: "Please retry in 2.5s.", expect: 2500 * time.Millisecond, ok: true},
		{message: "quota exhausted", ok: false},
	}

	for _, tt := range tests {
		got, ok := quotaDelay(tt.message)
		if ok != tt.ok || got != tt.expect {
			t.Fatalf("%q: expected (%s, %v), got (%s, %v)", tt.message, tt.expect, tt.ok, got, ok)
		}
	}
}
