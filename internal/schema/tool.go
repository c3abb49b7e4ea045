package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var functionNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ResponseSchema describes a tool's output. Strict responses carry exactly the
// declared fields.
type ResponseSchema struct {
	Node   *Node `yaml:"schema"`
	Strict bool  `yaml:"strict"`
}

// ToolDefinition is one callable function of a connector.
type ToolDefinition struct {
	FunctionName string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Parameters   *Node          `yaml:"parameters"`
	Response     ResponseSchema `yaml:"response"`
}

func (t ToolDefinition) Validate() error {
	var errs []error
	if !functionNamePattern.MatchString(t.FunctionName) || strings.Contains(t.FunctionName, "__") {
		errs = append(errs, fmt.Errorf("invalid function name %q", t.FunctionName))
	}
	if strings.TrimSpace(t.Description) == "" {
		errs = append(errs, errors.New("description is required"))
	}
	switch {
	case t.Parameters == nil:
		errs = append(errs, errors.New("parameters schema is required"))
	case t.Parameters.Kind != KindObject:
		errs = append(errs, fmt.Errorf("parameters must be an object, got %q", t.Parameters.Kind))
	default:
		if err := t.Parameters.Check(); err != nil {
			errs = append(errs, fmt.Errorf("parameters: %w", err))
		}
	}
	if t.Response.Node == nil {
		if t.Response.Strict {
			errs = append(errs, errors.New("strict response requires a schema"))
		}
	} else if err := t.Response.Node.Check(); err != nil {
		errs = append(errs, fmt.Errorf("response: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("tool %q: %w", t.FunctionName, err)
	}
	return nil
}

// FunctionSchema is the function-calling entry a model receives.
type FunctionSchema struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

type FunctionSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  *Node  `json:"parameters"`
}

// FunctionSchema renders the tool under the given model-facing name.
func (t ToolDefinition) FunctionSchema(name string) FunctionSchema {
	return FunctionSchema{
		Type: "function",
		Function: FunctionSpec{
			Name:        name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}

type catalog struct {
	Tools []ToolDefinition `yaml:"tools"`
}

// LoadTools parses a YAML tool catalog and validates every definition.
func LoadTools(data []byte) ([]ToolDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("tool catalog is empty")
		}
		return nil, fmt.Errorf("decode tool catalog: %w", err)
	}
	if len(c.Tools) == 0 {
		return nil, errors.New("tool catalog declares no tools")
	}

	seen := make(map[string]struct{}, len(c.Tools))
	var errs []error
	for _, tool := range c.Tools {
		if err := tool.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[tool.FunctionName]; dup {
			errs = append(errs, fmt.Errorf("duplicate function name %q", tool.FunctionName))
			continue
		}
		seen[tool.FunctionName] = struct{}{}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c.Tools, nil
}

// MustLoadTools is LoadTools for catalogs embedded at build time.
func MustLoadTools(data []byte) []ToolDefinition {
	tools, err := LoadTools(data)
	if err != nil {
		panic(err)
	}
	return tools
}
