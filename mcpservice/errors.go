package mcpservice

import "fmt"

// UnknownCapabilityError reports a lookup of a named capability item (tool,
// resource, prompt) that does not exist. Dispatchers translate it to an
// invalid-params protocol error rather than an internal one.
type UnknownCapabilityError struct {
	Kind string // "tool", "resource" or "prompt"
	Name string // tool/prompt name or resource URI
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown %s: %s", e.Kind, e.Name)
}

// InvalidArgumentsError reports arguments that fail validation against the
// declared schema or argument list of a tool or prompt.
type InvalidArgumentsError struct {
	Name   string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Name, e.Reason)
}
