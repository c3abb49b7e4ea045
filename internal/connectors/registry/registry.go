package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/goldilockshq/connector-hub/internal/schema"
	"github.com/goldilockshq/connector-hub/internal/tokens"
	"github.com/google/uuid"
)

var (
	ErrConnectorNotFound = errors.New("connector not found")
	ErrToolNotFound      = errors.New("tool not found")
)

var connectorNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://connector-hub/connectors"))

// Connector is the immutable catalog view of a registered connector.
type Connector struct {
	ID          uuid.UUID
	Name        string
	DisplayName string
	Provider    string
	AuthFlow    AuthFlow
	Tools       []schema.ToolDefinition
	Metadata    map[string]string
}

type entry struct {
	connector  Connector
	definition ConnectorDefinition
	tools      map[string]int
}

// ConnectorRegistry is the central registry for all connectors. It is filled
// at startup and read-only afterwards.
type ConnectorRegistry struct {
	definitions map[string]*entry
	order       []string // Registration order
}

// NewRegistry creates a new connector registry.
func NewRegistry() *ConnectorRegistry {
	return &ConnectorRegistry{
		definitions: make(map[string]*entry),
		order:       make([]string, 0),
	}
}

// Register adds a connector definition to the registry.
func (r *ConnectorRegistry) Register(def ConnectorDefinition) error {
	name := normalizeName(def.Name())
	if name == "" {
		return fmt.Errorf("connector name cannot be empty")
	}
	if strings.Contains(name, "__") {
		return fmt.Errorf("connector name %q cannot contain \"__\"", name)
	}
	if _, exists := r.definitions[name]; exists {
		return fmt.Errorf("connector %q already registered", name)
	}
	if !def.AuthFlow().Valid() {
		return fmt.Errorf("connector %q: unknown auth flow %q", name, def.AuthFlow())
	}
	if err := checkAuthorizer(def); err != nil {
		return fmt.Errorf("connector %q: %w", name, err)
	}

	tools := def.Tools()
	if len(tools) == 0 {
		return fmt.Errorf("connector %q declares no tools", name)
	}
	index := make(map[string]int, len(tools))
	for i, tool := range tools {
		if err := tool.Validate(); err != nil {
			return fmt.Errorf("connector %q: %w", name, err)
		}
		if _, dup := index[tool.FunctionName]; dup {
			return fmt.Errorf("connector %q: duplicate function %q", name, tool.FunctionName)
		}
		index[tool.FunctionName] = i
	}

	providerName := normalizeName(def.Provider())
	if providerName == "" {
		providerName = name
	}
	displayName := strings.TrimSpace(def.DisplayName())
	if displayName == "" {
		displayName = name
	}

	r.definitions[name] = &entry{
		connector: Connector{
			ID:          ConnectorID(name),
			Name:        name,
			DisplayName: displayName,
			Provider:    providerName,
			AuthFlow:    def.AuthFlow(),
			Tools:       append([]schema.ToolDefinition(nil), tools...),
			Metadata:    maps.Clone(def.Metadata()),
		},
		definition: def,
		tools:      index,
	}
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a connector definition by name.
func (r *ConnectorRegistry) Get(name string) (ConnectorDefinition, bool) {
	e, ok := r.definitions[normalizeName(name)]
	if !ok {
		return nil, false
	}
	return e.definition, true
}

func (r *ConnectorRegistry) GetConnector(name string) (Connector, error) {
	e, ok := r.definitions[normalizeName(name)]
	if !ok {
		return Connector{}, fmt.Errorf("%w: %q", ErrConnectorNotFound, name)
	}
	return e.connector, nil
}

// ListConnectors returns every connector in registration order.
func (r *ConnectorRegistry) ListConnectors() []Connector {
	out := make([]Connector, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.definitions[name].connector)
	}
	return out
}

// GetToolDefinitions returns the tools of each named connector. Unknown names
// are left out rather than failing the whole lookup.
func (r *ConnectorRegistry) GetToolDefinitions(names []string) map[string][]schema.ToolDefinition {
	out := make(map[string][]schema.ToolDefinition, len(names))
	for _, raw := range names {
		name := normalizeName(raw)
		e, ok := r.definitions[name]
		if !ok {
			continue
		}
		out[name] = e.connector.Tools
	}
	return out
}

// Tool looks up one function of one connector.
func (r *ConnectorRegistry) Tool(connector, function string) (schema.ToolDefinition, bool) {
	e, ok := r.definitions[normalizeName(connector)]
	if !ok {
		return schema.ToolDefinition{}, false
	}
	i, ok := e.tools[function]
	if !ok {
		return schema.ToolDefinition{}, false
	}
	return e.connector.Tools[i], true
}

// Invoke routes a validated call to the connector that owns it.
func (r *ConnectorRegistry) Invoke(ctx context.Context, connector string, inv Invocation) (any, error) {
	e, ok := r.definitions[normalizeName(connector)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConnectorNotFound, connector)
	}
	if _, ok := e.tools[inv.Function]; !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrToolNotFound, e.connector.Name, inv.Function)
	}
	return e.definition.Invoke(ctx, inv)
}

// Refreshers maps each provider to the Authorizer that can refresh its
// tokens. Providers whose grants cannot be refreshed are absent.
func (r *ConnectorRegistry) Refreshers() map[string]tokens.Refresher {
	out := make(map[string]tokens.Refresher)
	for _, name := range r.order {
		e := r.definitions[name]
		if refresher, ok := e.definition.Authorizer().(tokens.Refresher); ok {
			out[e.connector.Provider] = refresher
		}
	}
	return out
}

// ConnectorID is the stable identifier of a connector name.
func ConnectorID(name string) uuid.UUID {
	return uuid.NewSHA1(connectorNamespace, []byte(normalizeName(name)))
}

func checkAuthorizer(def ConnectorDefinition) error {
	auth := def.Authorizer()
	if auth == nil {
		return errors.New("authorizer is required")
	}
	switch def.AuthFlow() {
	case AuthFlowOAuthRedirect:
		if _, ok := auth.(RedirectAuthorizer); !ok {
			return errors.New("oauth_redirect connectors need an authorizer with AuthURL")
		}
	case AuthFlowPublicToken:
		if _, ok := auth.(LinkAuthorizer); !ok {
			return errors.New("public_token connectors need an authorizer with LinkToken")
		}
	}
	return nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
