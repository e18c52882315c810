package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/z1w2r3/suna-sub001/pkg/llm"
)

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the function signature for tool execution. Arguments arrive
// either as a kwargs map or as a single value, per NormalizeArguments.
type Handler func(ctx context.Context, args interface{}) (interface{}, error)

// Definition defines a tool's metadata and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
	XMLTag      string      `json:"xml_tag,omitempty"` // legacy single-tag dialect name
}

// Registry manages tool definitions and their parameter schemas
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	xmlTags map[string]string // tag -> function name
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		xmlTags: make(map[string]string),
	}
}

// Register validates and registers a tool
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := buildSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema
	if def.XMLTag != "" {
		r.xmlTags[def.XMLTag] = def.Name
	}

	log.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Unregister removes a tool
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def, ok := r.tools[name]; ok && def.XMLTag != "" {
		delete(r.xmlTags, def.XMLTag)
	}
	delete(r.tools, name)
	delete(r.schemas, name)

	log.Info().Str("tool", name).Msg("Tool unregistered")
}

// Get returns a tool definition by name
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	return def, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Schema returns the compiled parameter schema for a tool, or nil.
func (r *Registry) Schema(name string) *gojsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.schemas[name]
}

// ResolveTag maps a legacy XML tag to its function name.
func (r *Registry) ResolveTag(tag string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.xmlTags[tag]
	return name, ok
}

// XMLTags returns the registered legacy tag names, sorted.
func (r *Registry) XMLTags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.xmlTags))
	for tag := range r.xmlTags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	return tags
}

// Definitions renders all tools in the provider-neutral shape used for
// native tool calling.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		def := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schemaMap(*def),
		})
	}

	return defs
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}

		validTypes := map[string]bool{
			"string": true, "number": true, "boolean": true,
			"object": true, "array": true, "integer": true,
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// schemaMap builds the JSON Schema object form of a tool's parameters.
func schemaMap(def Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}

		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func buildSchema(def Definition) (*gojsonschema.Schema, error) {
	m := schemaMap(def)
	m["additionalProperties"] = false

	schemaLoader := gojsonschema.NewGoLoader(m)
	schema, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		return nil, err
	}

	return schema, nil
}
