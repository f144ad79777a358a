package events

import (
	"encoding/json"
	"fmt"
)

// Encode renders ev as a complete stream frame ("data: {...}\n\n").
func Encode(ev Event) (string, error) {
	var fields map[string]any
	switch e := ev.(type) {
	case Status:
		fields = map[string]any{"content": e.Content}
	case IterationStart:
		fields = map[string]any{"iteration": e.Iteration, "prompt": e.Prompt}
	case Message:
		fields = map[string]any{"role": e.Role, "content": e.Content}
	case Result:
		fields = map[string]any{"score": e.Score}
	case Optimization:
		fields = map[string]any{"new_prompt": e.NewPrompt}
	case Error:
		fields = map[string]any{"content": e.Content}
	case Done:
		fields = map[string]any{"reason": e.Reason}
	case Unknown:
		if len(e.Raw) > 0 {
			return "data: " + string(e.Raw) + "\n\n", nil
		}
		fields = map[string]any{}
	default:
		return "", fmt.Errorf("cannot encode event %T", ev)
	}
	fields["type"] = ev.Kind()

	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encoding %s event: %w", ev.Kind(), err)
	}
	return "data: " + string(b) + "\n\n", nil
}
