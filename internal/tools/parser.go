package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/tenex/internal/jsonrepair"
	"github.com/haasonsaas/tenex/pkg/models"
)

const (
	openTag  = "<tool_use>"
	closeTag = "</tool_use>"
)

// TextCall is a tool invocation recovered from assistant text. Start and End
// are byte offsets of the raw block within the scanned content, so callers
// can splice results back in place.
type TextCall struct {
	Call  models.ToolCall
	Start int
	End   int
}

// ParseCalls extracts tool invocations from assistant text. Three formats
// are recognised:
//
//	<tool_use>{"tool": "name", "arguments": {...}}</tool_use>
//	{"type": "tool_use", "name": "...", "input": {...}}
//	{"function_call": {"name": "...", "arguments": "<json string>"}}
//
// The first may appear multiple times anywhere in the content; the other two
// must be the content itself. Payloads go through the repair parser, so the
// usual LLM damage (fences, single quotes, trailing commas) is tolerated.
// Blocks whose payload stays unparseable after repair are reported in the
// returned error and omitted from the result, never guessed at.
func ParseCalls(content string) ([]TextCall, error) {
	if calls, errs, found := parseBlocks(content); found {
		return calls, errors.Join(errs...)
	}

	// No explicit blocks. A content that is itself a JSON object may still
	// be an invocation in one of the two bare formats.
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "```") {
		return nil, nil
	}
	obj, err := jsonrepair.Object(trimmed)
	if err != nil {
		return nil, nil
	}
	call, ok, err := bareCallFromObject(obj)
	if err != nil || !ok {
		return nil, err
	}
	return []TextCall{{Call: call, Start: 0, End: len(content)}}, nil
}

// parseBlocks scans for <tool_use> blocks. found reports whether any opening
// tag was present, even if nothing could be parsed out of it.
func parseBlocks(content string) (calls []TextCall, errs []error, found bool) {
	offset := 0
	for {
		rest := content[offset:]
		start := strings.Index(rest, openTag)
		if start < 0 {
			break
		}
		found = true
		start += offset
		end := strings.Index(content[start+len(openTag):], closeTag)
		if end < 0 {
			errs = append(errs, fmt.Errorf("tool_use block at offset %d is unterminated", start))
			break
		}
		end += start + len(openTag)
		payload := content[start+len(openTag) : end]
		blockEnd := end + len(closeTag)

		obj, err := jsonrepair.Object(payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool_use block at offset %d: %w", start, err))
			offset = blockEnd
			continue
		}
		call, ok, err := callFromObject(obj)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool_use block at offset %d: %w", start, err))
			offset = blockEnd
			continue
		}
		if ok {
			calls = append(calls, TextCall{Call: call, Start: start, End: blockEnd})
		}
		offset = blockEnd
	}
	return calls, errs, found
}

// bareCallFromObject interprets a whole-content JSON object. Unlike block
// payloads, a bare object must identify itself explicitly, either through
// "type": "tool_use" or a function_call member; anything else is an ordinary
// JSON answer, not an invocation.
func bareCallFromObject(obj map[string]any) (models.ToolCall, bool, error) {
	if _, isFC := obj["function_call"].(map[string]any); isFC {
		return callFromObject(obj)
	}
	if typ, _ := obj["type"].(string); typ != "tool_use" {
		return models.ToolCall{}, false, nil
	}
	return callFromObject(obj)
}

// callFromObject interprets a decoded JSON object as a tool invocation.
// ok is false when the object is not invocation-shaped at all.
func callFromObject(obj map[string]any) (models.ToolCall, bool, error) {
	if fc, isFC := obj["function_call"].(map[string]any); isFC {
		name, _ := fc["name"].(string)
		if name == "" {
			return models.ToolCall{}, false, nil
		}
		args, err := functionArguments(fc["arguments"])
		if err != nil {
			return models.ToolCall{}, false, fmt.Errorf("function_call %q arguments: %w", name, err)
		}
		return newCall(name, args), true, nil
	}

	// Inside a block the type key is optional, but a payload typed as
	// something other than tool_use is ordinary content.
	if typ, hasType := obj["type"].(string); hasType && typ != "tool_use" {
		return models.ToolCall{}, false, nil
	}

	name, _ := obj["tool"].(string)
	if name == "" {
		name, _ = obj["name"].(string)
	}
	if name == "" {
		return models.ToolCall{}, false, nil
	}

	args, _ := obj["arguments"].(map[string]any)
	if args == nil {
		args, _ = obj["input"].(map[string]any)
	}
	if args == nil {
		args = map[string]any{}
	}
	return newCall(name, args), true, nil
}

// functionArguments decodes the function_call arguments field, which is
// usually a JSON-encoded string but sometimes arrives as a plain object.
func functionArguments(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]any{}, nil
		}
		return jsonrepair.Object(v)
	default:
		return nil, fmt.Errorf("unsupported arguments type %T", raw)
	}
}

func newCall(name string, args map[string]any) models.ToolCall {
	return models.ToolCall{ID: uuid.NewString(), Name: name, Arguments: args}
}
