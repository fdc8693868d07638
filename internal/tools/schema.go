package tools

import "github.com/haasonsaas/tenex/pkg/models"

// ParamsSchema builds the JSON-schema object describing a tool's parameters.
// All derived wire formats share this shape.
func ParamsSchema(tool Tool) map[string]any {
	properties := make(map[string]any)
	required := make([]string, 0)

	for _, p := range tool.Params() {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if len(p.Items) > 0 {
			prop["items"] = p.Items
		}
		if len(p.Properties) > 0 {
			prop["properties"] = p.Properties
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Specs renders the registry as provider-neutral tool descriptions. LLM
// providers translate these into their native dialect: input_schema for
// Anthropic-style APIs, function.parameters for OpenAI-style ones.
func Specs(r *Registry) []models.ToolSpec {
	tools := r.List()
	specs := make([]models.ToolSpec, 0, len(tools))
	for _, tool := range tools {
		specs = append(specs, models.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: ParamsSchema(tool),
		})
	}
	return specs
}
