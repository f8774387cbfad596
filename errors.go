package relay

import "fmt"

// ErrValidation signals input that failed a tool or request schema.
// The sandbox surfaces it as a catchable exception; the HTTP layer maps it
// to 400.
type ErrValidation struct {
	ToolPath string
	Message  string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("%s: %s", e.ToolPath, e.Message)
}

// ErrToolExecution signals a tool whose Run returned an error. Recorded on
// the receipt and re-raised into the sandbox.
type ErrToolExecution struct {
	ToolPath string
	Cause    error
}

func (e *ErrToolExecution) Error() string {
	return fmt.Sprintf("%s: %v", e.ToolPath, e.Cause)
}

func (e *ErrToolExecution) Unwrap() error { return e.Cause }

// ErrTaskNotFound signals an unknown task id. The HTTP layer maps it to 404.
type ErrTaskNotFound struct {
	ID string
}

func (e *ErrTaskNotFound) Error() string {
	return "task not found: " + e.ID
}

// ErrNotRunning signals an operation that requires a running task.
type ErrNotRunning struct {
	ID     string
	Status TaskStatus
}

func (e *ErrNotRunning) Error() string {
	return fmt.Sprintf("task %s is %s, not running", e.ID, e.Status)
}
