// Package schema defines the chainer data model: tool bindings, chain
// definitions, execution records, and the persisted state document.
package schema

import "time"

// DefaultTimeoutSeconds is applied when a binding omits timeout_seconds.
const DefaultTimeoutSeconds = 30

// ToolBinding associates a short tool_id with the server command and
// function name needed to invoke it. Re-registering a tool_id fully
// replaces the prior binding.
type ToolBinding struct {
	ToolID         string `json:"tool_id"                   yaml:"tool_id"`
	ServerCommand  string `json:"server_command"            yaml:"server_command"`
	ToolName       string `json:"tool_name"                 yaml:"tool_name"`
	Description    string `json:"description,omitempty"     yaml:"description,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// ToolStep is one invocation inside a chain: a registered tool, its
// arguments, an optional guard condition, and an optional output capture.
type ToolStep struct {
	ToolID    string         `json:"tool_id"              yaml:"tool_id"`
	Arguments map[string]any `json:"arguments,omitempty"  yaml:"arguments,omitempty"`
	Condition string         `json:"condition,omitempty"  yaml:"condition,omitempty"`
	OutputTo  string         `json:"output_to,omitempty"  yaml:"output_to,omitempty"`
}

// Chain is an ordered, named sequence of tool steps. Redefining a
// chain_id is a full replace, never an in-place mutation.
type Chain struct {
	ChainID    string     `json:"chain_id"               yaml:"chain_id"`
	Steps      []ToolStep `json:"steps"                  yaml:"steps"`
	SaveToFile string     `json:"save_to_file,omitempty" yaml:"save_to_file,omitempty"`
}

// Execution outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// ExecutionRecord is one append-only history entry for a chain run.
type ExecutionRecord struct {
	ChainID          string    `json:"chain_id"`
	Outcome          string    `json:"outcome"` // success, failure
	StepsExecuted    int       `json:"steps_executed"`
	StepsTotal       int       `json:"steps_total"`
	FailingStepIndex *int      `json:"failing_step_index,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	SaveError        string    `json:"save_error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
}

// State is the complete persisted document: tools, chains, and history.
// Serialized as one JSON file in the cache directory.
type State struct {
	Tools   map[string]ToolBinding `json:"tools"`
	Chains  map[string]Chain       `json:"chains"`
	History []ExecutionRecord      `json:"history"`
}

// NewState returns an all-empty state with non-nil maps.
func NewState() State {
	return State{
		Tools:  make(map[string]ToolBinding),
		Chains: make(map[string]Chain),
	}
}

// BindingsFile is the on-disk format for bulk tool registration
// (chainer register -f bindings.yaml).
type BindingsFile struct {
	Tools []ToolBinding `json:"tools" yaml:"tools"`
}
