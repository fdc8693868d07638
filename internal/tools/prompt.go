package tools

import (
	"fmt"
	"strings"
)

// SystemPrompt renders the tool catalogue block injected into agent system
// prompts. Providers without native function calling rely on this block and
// the <tool_use> text format it teaches.
func SystemPrompt(r *Registry) string {
	tools := r.List()
	if len(tools) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("# Available Tools\n\n")
	b.WriteString("You can use the following tools. To invoke one, respond with a block in exactly this form:\n\n")
	b.WriteString("<tool_use>\n")
	b.WriteString(`{"tool": "<tool name>", "arguments": {<json arguments>}}`)
	b.WriteString("\n</tool_use>\n")

	for _, tool := range tools {
		b.WriteString("\n## ")
		b.WriteString(tool.Name())
		b.WriteString("\n")
		if desc := strings.TrimSpace(tool.Description()); desc != "" {
			b.WriteString(desc)
			b.WriteString("\n")
		}
		params := tool.Params()
		if len(params) == 0 {
			b.WriteString("Takes no parameters.\n")
			continue
		}
		b.WriteString("Parameters:\n")
		for _, p := range params {
			b.WriteString(describeParam(p))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func describeParam(p Param) string {
	attrs := p.Type
	if p.Required {
		attrs += ", required"
	}
	line := fmt.Sprintf("- %s (%s)", p.Name, attrs)
	if p.Description != "" {
		line += ": " + p.Description
	}
	if len(p.Enum) > 0 {
		line += fmt.Sprintf(" One of: %s.", strings.Join(p.Enum, ", "))
	}
	return line
}
