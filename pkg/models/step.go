package models

// SessionStep is a single named remote command in a session sequence.
// Steps are immutable once constructed and consumed in order.
type SessionStep struct {
	Name    string            `json:"name" yaml:"name"`
	Command string            `json:"command" yaml:"command"`
	Workdir string            `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// BestEffort steps log a warning on failure instead of aborting the
	// sequence. Used for status and logging steps.
	BestEffort bool `json:"best_effort,omitempty" yaml:"best_effort,omitempty"`
}
