package ai

import (
	"context"
	"iter"
)

// Role is the author of a message in a conversation sent to the model.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is a single conversational turn.
type Message struct {
	Role Role
	Text string
}

// Schema types understood by providers.
const (
	TypeObject  = "object"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
)

// Schema constrains a structured response. It is a provider-neutral subset of
// JSON schema.
type Schema struct {
	Type        string
	Description string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
	Minimum     *float64
	Maximum     *float64
}

// Request is everything a provider needs for a single call.
type Request struct {
	SystemInstruction string
	Messages          []Message
	// Schema, when set, asks for a JSON response matching it.
	Schema      *Schema
	Temperature *float32
}

// Streamer produces a reply incrementally. The sequence yields text chunks and
// ends after the final chunk or the first error. Breaking out of the range
// loop stops the underlying call.
type Streamer interface {
	StreamComplete(ctx context.Context, req Request) iter.Seq2[string, error]
}

// StructuredCompleter returns a single JSON document constrained by req.Schema.
type StructuredCompleter interface {
	StructuredComplete(ctx context.Context, req Request) (string, error)
}

// Model is implemented by providers that serve both agents.
type Model interface {
	Streamer
	StructuredCompleter
	Name() string
}

// Float returns a pointer to v, for Schema bounds.
func Float(v float64) *float64 { return &v }
