package tool

import "fmt"

// NotFoundError is returned when an invocation names an unregistered tool. It is
// reported back to the model as the tool result.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool '%s' not found", e.Name)
}

// ExecutionError wraps a failure raised by a tool.
type ExecutionError struct {
	Name string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool '%s' failed: %v", e.Name, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
