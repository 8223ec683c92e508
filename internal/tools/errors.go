package tools

import "fmt"

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not in the effective registry, for example a tool outside a
// specialist's subset. It is a capability mismatch, not a transient
// failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// errNotConfigured reports a service the deployment did not set up.
func errNotConfigured(service string) error {
	return fmt.Errorf("%s is not configured", service)
}

