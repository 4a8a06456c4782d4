package validation

import (
	"errors"
	"strings"

	"github.com/oriphim/watcher/internal/constraint"
)

// InputError rejects a request before any computation or side effect.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return "invalid input: " + e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

// ComputationError reports a failed run. No score is substituted; the
// violations are carried when the checker completed.
type ComputationError struct {
	Stage      string
	Err        error
	Violations []constraint.Violation
}

func (e *ComputationError) Error() string {
	return "computation failed (" + e.Stage + "): " + e.Err.Error()
}

func (e *ComputationError) Unwrap() error { return e.Err }

// StorageError collects failed persistence side effects. The verdict it
// accompanies is still valid.
type StorageError struct {
	Ops  []string
	Errs []error
}

func (e *StorageError) add(op string, err error) {
	e.Ops = append(e.Ops, op)
	e.Errs = append(e.Errs, err)
}

func (e *StorageError) Error() string {
	parts := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		parts[i] = e.Ops[i] + ": " + err.Error()
	}
	return "storage: " + strings.Join(parts, "; ")
}

func (e *StorageError) Unwrap() []error { return e.Errs }

// IsInput reports whether err is an InputError.
func IsInput(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
