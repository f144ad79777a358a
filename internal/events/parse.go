package events

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spboyer/promptloop/internal/validation"
)

// ErrDecode marks a payload that is not a valid event. Such frames are
// dropped by the caller; they never end a session.
var ErrDecode = errors.New("invalid event payload")

//go:embed events.schema.json
var schemaJSON []byte

// schemas holds one compiled schema per known kind.
var schemas = compileKinds(schemaJSON)

func compileKinds(raw []byte) map[Kind]*jsonschema.Schema {
	set := validation.MustCompileSet(raw)
	out := make(map[Kind]*jsonschema.Schema, len(set))
	for kind, sch := range set {
		out[Kind(kind)] = sch
	}
	return out
}

// Parse types one frame payload. An empty payload yields (nil, nil).
// A payload that is not a JSON object with a string "type", or a known
// kind that is missing required fields, returns an error wrapping
// ErrDecode. Unrecognized kinds return an Unknown event and no error.
func Parse(payload string) (Event, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload is not an object", ErrDecode)
	}
	typ, ok := obj["type"].(string)
	if !ok || typ == "" {
		return nil, fmt.Errorf("%w: missing type discriminant", ErrDecode)
	}

	kind := Kind(typ)
	sch, known := schemas[kind]
	if !known {
		return Unknown{Type: typ, Raw: json.RawMessage(payload)}, nil
	}
	if msgs := validation.Validate(sch, obj); len(msgs) > 0 {
		return nil, fmt.Errorf("%w: %s event: %s", ErrDecode, kind, strings.Join(msgs, "; "))
	}

	raw := []byte(payload)
	switch kind {
	case KindStatus:
		return decode[Status](raw)
	case KindIterationStart:
		return decode[IterationStart](raw)
	case KindMessage:
		return decode[Message](raw)
	case KindResult:
		return parseResult(obj)
	case KindOptimization:
		return decode[Optimization](raw)
	case KindError:
		return decode[Error](raw)
	case KindDone:
		return decode[Done](raw)
	}
	return Unknown{Type: typ, Raw: json.RawMessage(payload)}, nil
}

func decode[T Event](raw []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

// parseResult accepts {"score": N} and the single-run shape
// {"content": {"scores": {"score_geral": N}}} or {"content": {"score": N}}.
func parseResult(obj map[string]any) (Event, error) {
	if s, ok := obj["score"].(float64); ok {
		return Result{Score: s}, nil
	}
	content, _ := obj["content"].(map[string]any) //nolint:errcheck
	if scores, ok := content["scores"].(map[string]any); ok {
		if s, ok := scores["score_geral"].(float64); ok {
			return Result{Score: s}, nil
		}
	}
	if s, ok := content["score"].(float64); ok {
		return Result{Score: s}, nil
	}
	return nil, fmt.Errorf("%w: result event without a score", ErrDecode)
}
