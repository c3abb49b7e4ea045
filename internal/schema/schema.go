// Package schema models tool parameter and response schemas as a closed set of
// node kinds, validates model arguments against them and shapes provider
// responses to them.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
)

func (k Kind) Valid() bool {
	switch k {
	case KindObject, KindArray, KindString, KindNumber, KindInteger, KindBoolean:
		return true
	default:
		return false
	}
}

// Property is one named field of an object node. Declaration order is kept so
// the schema the model sees matches the catalog file.
type Property struct {
	Name string
	Node *Node
}

// Node is a schema node. Which fields may be set depends on Kind:
// Properties and Required on objects, Items on arrays, Enum on strings.
type Node struct {
	Kind        Kind
	Description string
	Properties  []Property
	Required    []string
	Items       *Node
	Enum        []string
}

// Property returns the named property of an object node.
func (n *Node) Property(name string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	for _, p := range n.Properties {
		if p.Name == name {
			return p.Node, true
		}
	}
	return nil, false
}

func (n *Node) isRequired(name string) bool {
	for _, r := range n.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Check validates the node's structure recursively.
func (n *Node) Check() error {
	return n.check("")
}

func (n *Node) check(path string) error {
	label := path
	if label == "" {
		label = "(root)"
	}
	if n == nil {
		return fmt.Errorf("%s: schema node is missing", label)
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("%s: unknown type %q", label, n.Kind)
	}

	var errs []error
	if n.Kind != KindObject && (len(n.Properties) > 0 || len(n.Required) > 0) {
		errs = append(errs, fmt.Errorf("%s: properties and required are only allowed on objects", label))
	}
	if n.Kind != KindArray && n.Items != nil {
		errs = append(errs, fmt.Errorf("%s: items is only allowed on arrays", label))
	}
	if n.Kind != KindString && len(n.Enum) > 0 {
		errs = append(errs, fmt.Errorf("%s: enum is only allowed on strings", label))
	}

	switch n.Kind {
	case KindObject:
		seen := make(map[string]struct{}, len(n.Properties))
		for _, p := range n.Properties {
			if strings.TrimSpace(p.Name) == "" {
				errs = append(errs, fmt.Errorf("%s: property name is empty", label))
				continue
			}
			if _, dup := seen[p.Name]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate property %q", label, p.Name))
				continue
			}
			seen[p.Name] = struct{}{}
			if err := p.Node.check(joinField(path, p.Name)); err != nil {
				errs = append(errs, err)
			}
		}
		for _, r := range n.Required {
			if _, ok := seen[r]; !ok {
				errs = append(errs, fmt.Errorf("%s: required field %q is not a declared property", label, r))
			}
		}
	case KindArray:
		if n.Items == nil {
			errs = append(errs, fmt.Errorf("%s: array requires items", label))
		} else if err := n.Items.check(path + "[]"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UnmarshalYAML decodes a node keeping property order.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.AliasNode && value.Alias != nil {
		return n.UnmarshalYAML(value.Alias)
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: schema node must be a mapping", value.Line)
	}
	*n = Node{}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		var err error
		switch key.Value {
		case "type":
			var k string
			err = val.Decode(&k)
			n.Kind = Kind(k)
		case "description":
			err = val.Decode(&n.Description)
		case "required":
			err = val.Decode(&n.Required)
		case "enum":
			err = val.Decode(&n.Enum)
		case "items":
			n.Items = &Node{}
			err = val.Decode(n.Items)
		case "properties":
			if val.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: properties must be a mapping", val.Line)
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				child := &Node{}
				if err := val.Content[j+1].Decode(child); err != nil {
					return err
				}
				n.Properties = append(n.Properties, Property{Name: val.Content[j].Value, Node: child})
			}
		default:
			return fmt.Errorf("line %d: unknown schema key %q", key.Line, key.Value)
		}
		if err != nil {
			return fmt.Errorf("line %d: %s: %w", val.Line, key.Value, err)
		}
	}
	return nil
}

// MarshalJSON emits JSON Schema with properties in declaration order.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	writeJSONString(&buf, string(n.Kind))
	if n.Description != "" {
		buf.WriteString(`,"description":`)
		writeJSONString(&buf, n.Description)
	}
	if n.Kind == KindObject {
		buf.WriteString(`,"properties":{`)
		for i, p := range n.Properties {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(&buf, p.Name)
			buf.WriteByte(':')
			child, err := p.Node.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(child)
		}
		buf.WriteByte('}')
		if len(n.Required) > 0 {
			req, err := json.Marshal(n.Required)
			if err != nil {
				return nil, err
			}
			buf.WriteString(`,"required":`)
			buf.Write(req)
		}
	}
	if n.Items != nil {
		items, err := n.Items.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"items":`)
		buf.Write(items)
	}
	if len(n.Enum) > 0 {
		enum, err := json.Marshal(n.Enum)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"enum":`)
		buf.Write(enum)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

func joinField(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
