package harness

// StepResult is what one step produced on the in-memory backend.
type StepResult struct {
	Query    string   `json:"query"`
	Files    []string `json:"files,omitempty"`
	Datasets []string `json:"datasets,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every step matched its expectations and both
	// backends agreed.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors holds mismatch messages. Empty if Pass is true.
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

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
