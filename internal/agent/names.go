package agent

import (
	"fmt"
	"strings"

	"github.com/goldilockshq/connector-hub/internal/schema"
)

// NameSeparator joins connector and function in model-facing tool names.
// Neither part may contain it.
const NameSeparator = "__"

func QualifiedName(connector, function string) string {
	return connector + NameSeparator + function
}

// ParseQualifiedName splits a model-facing tool name into its connector and
// function. Connector names never contain the separator, so the first one
// splits.
func ParseQualifiedName(name string) (connector, function string, err error) {
	connector, function, ok := strings.Cut(name, NameSeparator)
	if !ok || connector == "" || function == "" {
		return "", "", fmt.Errorf("tool name %q is not of the form connector%sfunction", name, NameSeparator)
	}
	return connector, function, nil
}

// ToolLister returns the tool definitions of the named connectors.
type ToolLister interface {
	GetToolDefinitions(names []string) map[string][]schema.ToolDefinition
}

// FunctionSchemas renders the tools of the named connectors in
// function-calling form, keyed by connector. Unknown connectors are omitted.
func FunctionSchemas(catalog ToolLister, connectors []string) map[string][]schema.FunctionSchema {
	defs := catalog.GetToolDefinitions(connectors)
	out := make(map[string][]schema.FunctionSchema, len(defs))
	for connector, tools := range defs {
		list := make([]schema.FunctionSchema, 0, len(tools))
		for _, tool := range tools {
			list = append(list, tool.FunctionSchema(QualifiedName(connector, tool.FunctionName)))
		}
		out[connector] = list
	}
	return out
}
