package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/haasonsaas/tenex/internal/eventbus"
)

// SpecsConfig configures the specification document tools. Documents live as
// markdown files under Dir and mirror the addressable kind-30023 records
// published for them.
type SpecsConfig struct {
	// Dir is the specs directory. Default: "specs".
	Dir string

	// ProjectAddress is the a-tag target stamped on published documents.
	ProjectAddress string

	// Bus and Signer publish updated documents. The signer holds the
	// project key; agent keys never sign specs.
	Bus    eventbus.Bus
	Signer *eventbus.Signer

	Logger *slog.Logger
}

func (c *SpecsConfig) dir() string {
	if c.Dir == "" {
		return "specs"
	}
	return c.Dir
}

// specDocName normalises a filename argument to the document identifier used
// for both the on-disk file and the d tag: the uppercased base name without
// extension.
func specDocName(filename string) (string, error) {
	base := filepath.Base(strings.TrimSpace(filename))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid spec filename: %q", filename)
	}
	return strings.ToUpper(base), nil
}

// ReadSpecsTool lists and reads project specification documents.
type ReadSpecsTool struct {
	config SpecsConfig
}

// NewReadSpecsTool creates a read_specs tool.
func NewReadSpecsTool(config SpecsConfig) *ReadSpecsTool {
	return &ReadSpecsTool{config: config}
}

func (t *ReadSpecsTool) Name() string { return "read_specs" }

func (t *ReadSpecsTool) Description() string {
	return "List the project's specification documents, or read one by filename."
}

func (t *ReadSpecsTool) Params() []Param {
	return []Param{
		{Name: "filename", Type: "string", Description: "Document to read, e.g. SPEC.md. Omit to list all documents."},
	}
}

func (t *ReadSpecsTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	filename := stringArg(args, "filename")
	if strings.TrimSpace(filename) == "" {
		return t.list()
	}

	name, err := specDocName(filename)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(filepath.Join(t.config.dir(), name+".md"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("spec %s not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("read spec %s: %w", name, err)
	}
	return &Result{Output: string(content)}, nil
}

func (t *ReadSpecsTool) list() (*Result, error) {
	entries, err := os.ReadDir(t.config.dir())
	if os.IsNotExist(err) {
		return &Result{Output: "No specification documents found."}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list specs: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return &Result{Output: "No specification documents found."}, nil
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Specification documents:\n")
	for _, name := range names {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	return &Result{Output: b.String()}, nil
}

// UpdateSpecTool writes a specification document and publishes it as an
// addressable kind-30023 record signed by the project key.
type UpdateSpecTool struct {
	config SpecsConfig
	logger *slog.Logger
}

// NewUpdateSpecTool creates an update_spec tool.
func NewUpdateSpecTool(config SpecsConfig) *UpdateSpecTool {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateSpecTool{config: config, logger: logger.With("component", "spec-tool")}
}

func (t *UpdateSpecTool) Name() string { return "update_spec" }

func (t *UpdateSpecTool) Description() string {
	return "Create or update a project specification document and publish the new version."
}

func (t *UpdateSpecTool) Params() []Param {
	return []Param{
		{Name: "filename", Type: "string", Required: true, Description: "Document filename, e.g. SPEC.md."},
		{Name: "content", Type: "string", Required: true, Description: "Full new document content."},
		{Name: "changelog", Type: "string", Required: true, Description: "Short summary of what changed."},
		{Name: "title", Type: "string", Description: "Document title. Defaults to the document name."},
	}
}

func (t *UpdateSpecTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	name, err := specDocName(stringArg(args, "filename"))
	if err != nil {
		return nil, err
	}
	content := stringArg(args, "content")
	changelog := stringArg(args, "changelog")
	title := stringArg(args, "title")
	if title == "" {
		title = name
	}

	dir := t.config.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create specs dir: %w", err)
	}
	path := filepath.Join(dir, name+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write spec %s: %w", name, err)
	}

	if t.config.Bus == nil || t.config.Signer == nil {
		return nil, fmt.Errorf("project signer not configured, spec saved to %s but not published", path)
	}

	event := &nostr.Event{
		Kind:    eventbus.KindSpecDocument,
		Content: content,
		Tags: nostr.Tags{
			{"d", name},
			{"title", title},
			{"summary", changelog},
			{"published_at", strconv.FormatInt(time.Now().Unix(), 10)},
		},
	}
	if t.config.ProjectAddress != "" {
		event.Tags = append(event.Tags, nostr.Tag{"a", t.config.ProjectAddress})
	}
	if err := t.config.Signer.Sign(event); err != nil {
		return nil, fmt.Errorf("sign spec %s: %w", name, err)
	}
	if err := t.config.Bus.Publish(ctx, event); err != nil {
		return nil, fmt.Errorf("publish spec %s: %w", name, err)
	}

	t.logger.Info("spec updated", "doc", name, "event_id", event.ID)
	return &Result{Output: fmt.Sprintf("Spec %s saved and published (event %s).", name, event.ID)}, nil
}
