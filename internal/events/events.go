// Package events types the JSON payloads of the optimization stream.
package events

import "encoding/json"

// Kind is the value of a frame's "type" discriminant.
type Kind string

const (
	KindStatus         Kind = "status"
	KindIterationStart Kind = "iteration_start"
	KindMessage        Kind = "message"
	KindResult         Kind = "result"
	KindOptimization   Kind = "optimization"
	KindError          Kind = "error"
	KindDone           Kind = "done"
)

// Known reports whether k is one of the kinds this client understands.
func (k Kind) Known() bool {
	switch k {
	case KindStatus, KindIterationStart, KindMessage, KindResult,
		KindOptimization, KindError, KindDone:
		return true
	}
	return false
}

// Event is one parsed frame. The set of implementations is closed; frames
// with an unrecognized kind parse as Unknown.
type Event interface {
	Kind() Kind
	sealed()
}

// Status is an informational progress line.
type Status struct {
	Content string `json:"content"`
}

// IterationStart opens a new agent-evaluation cycle.
type IterationStart struct {
	Iteration int    `json:"iteration"`
	Prompt    string `json:"prompt"`
}

// Message is one turn of the live conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result carries the judge's overall score for the iteration.
type Result struct {
	Score float64 `json:"score"`
}

// Optimization carries the optimizer's revised instruction.
type Optimization struct {
	NewPrompt string `json:"new_prompt"`
}

// Error is a problem reported by the backend. It does not end the stream.
type Error struct {
	Content string `json:"content"`
}

// Done is the backend's terminal event.
type Done struct {
	Reason string `json:"reason"`
}

// Unknown is a well-formed frame whose kind this client does not handle.
type Unknown struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func (Status) Kind() Kind         { return KindStatus }
func (IterationStart) Kind() Kind { return KindIterationStart }
func (Message) Kind() Kind        { return KindMessage }
func (Result) Kind() Kind         { return KindResult }
func (Optimization) Kind() Kind   { return KindOptimization }
func (Error) Kind() Kind          { return KindError }
func (Done) Kind() Kind           { return KindDone }
func (u Unknown) Kind() Kind      { return Kind(u.Type) }

func (Status) sealed()         {}
func (IterationStart) sealed() {}
func (Message) sealed()        {}
func (Result) sealed()         {}
func (Optimization) sealed()   {}
func (Error) sealed()          {}
func (Done) sealed()           {}
func (Unknown) sealed()        {}
