package validator

// ValidationResult accumulates errors and warnings from a validation pass.
// Appending an error forces the result invalid; warnings never affect
// validity.
type ValidationResult struct {
	valid    bool
	errors   []string
	warnings []string
}

// NewValidationResult returns a valid, empty result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{valid: true}
}

// AddError records a violation and marks the result invalid.
func (r *ValidationResult) AddError(msg string) {
	r.valid = false
	r.errors = append(r.errors, msg)
}

// AddWarning records a non-fatal observation.
func (r *ValidationResult) AddWarning(msg string) {
	r.warnings = append(r.warnings, msg)
}

// IsValid reports whether no errors have been recorded.
func (r *ValidationResult) IsValid() bool {
	return r.valid
}

// Errors returns the recorded violations in order.
func (r *ValidationResult) Errors() []string {
	return r.errors
}

// Warnings returns the recorded warnings in order.
func (r *ValidationResult) Warnings() []string {
	return r.warnings
}

// Merge appends the other result's errors and warnings into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for _, e := range other.errors {
		r.AddError(e)
	}
	for _, w := range other.warnings {
		r.AddWarning(w)
	}
}
