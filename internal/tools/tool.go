// Package tools implements the tool registry, the text-format tool call
// parser and the parallel executor agents use to act on the world.
//
// A Tool declares its parameters once; the package derives the system
// prompt catalogue entry and both provider schema dialects from that
// declaration. Execution is failure-isolated: a misbehaving tool yields an
// "Error: ..." response instead of aborting the assistant turn.
package tools

import "context"

// Param describes a single tool parameter.
type Param struct {
	// Name is the JSON property name.
	Name string `json:"name"`

	// Type is the JSON-schema type: string, number, integer, boolean,
	// object or array.
	Type string `json:"type"`

	// Description is shown to the model in the catalogue and schema.
	Description string `json:"description,omitempty"`

	// Required marks the parameter as mandatory. Calls missing a required
	// parameter are rejected before the tool runs.
	Required bool `json:"required,omitempty"`

	// Enum restricts string parameters to a fixed value set.
	Enum []string `json:"enum,omitempty"`

	// Items is the schema for array element types.
	Items map[string]any `json:"items,omitempty"`

	// Properties is the schema for object parameter members.
	Properties map[string]any `json:"properties,omitempty"`
}

// Result is what a tool produces. Output is the text handed back to the
// model; RenderInChat is an opaque payload surfaced to chat clients as-is.
type Result struct {
	Output       string
	RenderInChat map[string]any
}

// Tool is a named capability an agent can invoke.
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}
