package agent

import (
	"fmt"
	"strings"
)

// Kind classifies a failed dispatch.
type Kind string

const (
	KindUnknownTool      Kind = "unknown_tool"
	KindInvalidArguments Kind = "invalid_arguments"
	KindNotAuthenticated Kind = "not_authenticated"
	KindProviderError    Kind = "provider_error"
	KindSchemaViolation  Kind = "schema_violation"
	KindStorageError     Kind = "storage_error"
)

// Reasons carried by KindNotAuthenticated.
const (
	ReasonAuthRequired  = "auth_required"
	ReasonRefreshFailed = "refresh_failed"
)

type DispatchError struct {
	Kind      Kind
	Connector string
	Function  string

	// Reason is set for KindNotAuthenticated.
	Reason string
	// Fields lists offending paths for KindInvalidArguments and
	// KindSchemaViolation.
	Fields []string

	// Provider failure details, set for KindProviderError.
	Status    int
	Code      string
	Retryable bool
	Timeout   bool

	Err error
}

func (e *DispatchError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "dispatch %s.%s: %s", e.Connector, e.Function, e.Kind)
	switch {
	case e.Reason != "":
		b.WriteString(" (" + e.Reason + ")")
	case len(e.Fields) > 0:
		b.WriteString(" [" + strings.Join(e.Fields, ", ") + "]")
	case e.Timeout:
		b.WriteString(" (timeout)")
	case e.Status != 0:
		fmt.Fprintf(&b, " (status %d", e.Status)
		if e.Code != "" {
			b.WriteString(" " + e.Code)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage is safe to show to the end user or feed back to the model.
func (e *DispatchError) UserMessage() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindNotAuthenticated:
		if e.Reason == ReasonRefreshFailed {
			return fmt.Sprintf("Access to %s has expired. Please reconnect this service.", e.Connector)
		}
		return fmt.Sprintf("%s is not connected yet. Please connect this service first.", e.Connector)
	case KindUnknownTool:
		return fmt.Sprintf("The tool %s is not available.", QualifiedName(e.Connector, e.Function))
	case KindInvalidArguments:
		return "The tool call had invalid arguments: " + strings.Join(e.Fields, ", ") + "."
	case KindProviderError:
		switch {
		case e.Timeout:
			return fmt.Sprintf("%s did not respond in time. Please try again.", e.Connector)
		case e.Retryable:
			return fmt.Sprintf("%s is temporarily unavailable. Please try again.", e.Connector)
		}
	}
	return fmt.Sprintf("The request to %s failed.", e.Connector)
}
