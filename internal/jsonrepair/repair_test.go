package jsonrepair

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	value, err := Parse(`{"name": "alice", "count": 2}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("Parse() = %T, want map", value)
	}
	if obj["name"] != "alice" {
		t.Errorf("name = %v, want alice", obj["name"])
	}
}

func TestParse_JSON5(t *testing.T) {
	value, err := Parse("{lead: 'alice', members: ['alice', 'bob'],}")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	obj := value.(map[string]any)
	if obj["lead"] != "alice" {
		t.Errorf("lead = %v, want alice", obj["lead"])
	}
	members, ok := obj["members"].([]any)
	if !ok || len(members) != 2 {
		t.Errorf("members = %v, want two entries", obj["members"])
	}
}

func TestParse_Repairs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		key   string
		want  any
	}{
		{
			name:  "fenced block",
			input: "```json\n{\"tool\": \"shell\"}\n```",
			key:   "tool",
			want:  "shell",
		},
		{
			name:  "fenced block no tag",
			input: "```\n{\"tool\": \"shell\"}\n```",
			key:   "tool",
			want:  "shell",
		},
		{
			name:  "single quotes",
			input: `{'tool': 'read_specs'}`,
			key:   "tool",
			want:  "read_specs",
		},
		{
			name:  "trailing comma",
			input: `{"tool": "shell",}`,
			key:   "tool",
			want:  "shell",
		},
		{
			name:  "quotes then trailing comma",
			input: `{'msg': "don't", 'tool': 'shell',}`,
			key:   "tool",
			want:  "shell",
		},
		{
			name:  "unterminated string",
			input: `{"tool": "shell`,
			key:   "tool",
			want:  "shell",
		},
		{
			name:  "unterminated nesting",
			input: `{"args": [1, 2`,
			key:   "args",
			want:  nil, // presence checked below
		},
		{
			name:  "prose wrapped",
			input: `Here is the result: {"tool": "shell"} as requested.`,
			key:   "tool",
			want:  "shell",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := Object(tt.input)
			if err != nil {
				t.Fatalf("Object(%q) error = %v", tt.input, err)
			}
			if _, present := obj[tt.key]; !present {
				t.Fatalf("Object(%q) missing key %q", tt.input, tt.key)
			}
			if tt.want != nil && obj[tt.key] != tt.want {
				t.Errorf("Object(%q)[%q] = %v, want %v", tt.input, tt.key, obj[tt.key], tt.want)
			}
		})
	}
}

func TestParse_SingleQuotesAndEmptyObject(t *testing.T) {
	obj, err := Object(`{'tool': 'read_specs', 'arguments': {,}}`)
	if err != nil {
		t.Fatalf("Object() error = %v", err)
	}
	if obj["tool"] != "read_specs" {
		t.Errorf("tool = %v, want read_specs", obj["tool"])
	}
	args, ok := obj["arguments"].(map[string]any)
	if !ok {
		t.Fatalf("arguments = %T, want map", obj["arguments"])
	}
	if len(args) != 0 {
		t.Errorf("arguments = %v, want empty object", args)
	}
}

func TestParse_ApostropheInsideDoubleQuotes(t *testing.T) {
	obj, err := Object(`{'note': "it's fine"}`)
	if err != nil {
		t.Fatalf("Object() error = %v", err)
	}
	if obj["note"] != "it's fine" {
		t.Errorf("note = %q, want %q", obj["note"], "it's fine")
	}
}

func TestParse_TerminalFailure(t *testing.T) {
	tests := []string{
		`{"a": }`,
		`completely free text with no structure`,
		``,
	}
	for _, input := range tests {
		_, err := Parse(input)
		if err == nil {
			t.Errorf("Parse(%q) expected error", input)
			continue
		}
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("Parse(%q) error = %T, want *ParseError", input, err)
		}
	}
}

func TestObject_RejectsNonObject(t *testing.T) {
	if _, err := Object(`[1, 2, 3]`); err == nil {
		t.Fatal("Object() expected error for array input")
	}
}

func TestDecode(t *testing.T) {
	var out struct {
		Lead    string   `json:"lead"`
		Members []string `json:"members"`
	}
	if err := Decode(`{'lead': 'alice', 'members': ['alice', 'bob'],}`, &out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.Lead != "alice" || len(out.Members) != 2 {
		t.Errorf("Decode() = %+v, want lead alice with two members", out)
	}
}

func TestNormalizeQuotes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{'a': 'b'}`, `{"a": "b"}`},
		{`{"a": "don't"}`, `{"a": "don't"}`},
		{`{'a': 'say "hi"'}`, `{"a": "say \"hi\""}`},
		{`{'a': 'it\'s'}`, `{"a": "it's"}`},
	}
	for _, tt := range tests {
		if got := normalizeQuotes(tt.input); got != tt.want {
			t.Errorf("normalizeQuotes(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCloseUnterminated(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{"a": "b"}`, `{"a": "b"}`},
		{`{"a": "b`, `{"a": "b"}`},
		{`{"a": [1,`, `{"a": [1]}`},
		{`{"a": {"b": 1`, `{"a": {"b": 1}}`},
	}
	for _, tt := range tests {
		if got := closeUnterminated(tt.input); got != tt.want {
			t.Errorf("closeUnterminated(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestExtractBalancedObject(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`prefix {"a": 1} suffix`, `{"a": 1}`},
		{`{"a": 1} and {"b": {"c": 2}}`, `{"b": {"c": 2}}`},
		{`no braces here`, ``},
		{`{"s": "fake } brace"}`, `{"s": "fake } brace"}`},
	}
	for _, tt := range tests {
		if got := extractBalancedObject(tt.input); got != tt.want {
			t.Errorf("extractBalancedObject(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
