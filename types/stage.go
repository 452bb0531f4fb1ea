package types

// Stage is one named, ordered provisioning step executed inside the guest.
// The script body must be idempotent (install-if-absent): the runner never
// tracks completion across invocations.
type Stage struct {
	Name   string
	Script string
}

// StageResult records the outcome of a single stage execution.
type StageResult struct {
	Name     string `json:"name"`
	ExitCode int    `json:"exit_code"`
	// Output holds the tail of the stage's combined output, enough to
	// diagnose a failure without persisting full transcripts.
	Output string `json:"output,omitempty"`
}

// OK reports whether the stage exited cleanly.
func (r StageResult) OK() bool { return r.ExitCode == 0 }
