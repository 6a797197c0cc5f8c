package harness

// StepResult is the observed outcome of one step.
type StepResult struct {
	Query Query `json:"query"`

	// Output is the step's canonical rendering, nil when the step failed.
	Output map[string]any `json:"output,omitempty"`

	// Error is the auditerr code the step failed with, or the raw message
	// for errors without a code.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation matched.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
