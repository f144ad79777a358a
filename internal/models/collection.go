package models

// Collection is a named optimization configuration owned by the backend.
// The client only reads it to seed the baseline prompt.
type Collection struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	Description              string `json:"description,omitempty"`
	BaseSubjectInstruction   string `json:"base_subject_instruction"`
	BaseEvaluatorInstruction string `json:"base_evaluator_instruction,omitempty"`
	ModelID                  string `json:"model,omitempty"`
	OpenAIAPIKey             string `json:"openai_api_key,omitempty"`
	MaxTurns                 int    `json:"max_turns,omitempty"`
	NumPersonas              int    `json:"num_personas,omitempty"`
}

// Message is one exchanged turn in a transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles emitted by the backend.
const (
	RoleEvaluator = "evaluator"
	RoleSubject   = "subject"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)
