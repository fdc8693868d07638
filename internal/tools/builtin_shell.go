package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/haasonsaas/tenex/internal/eventbus"
)

const (
	defaultShellTimeout = 5 * time.Minute
	defaultMaxOutput    = 64000
)

// ShellConfig configures the shell tool.
type ShellConfig struct {
	// Cwd is the workspace root commands run under. Relative cwd arguments
	// resolve against it and may not escape it.
	Cwd string

	// Timeout bounds a single command. Default: 5 minutes.
	Timeout time.Duration

	// MaxOutput caps captured bytes per stream. Default: 64000.
	MaxOutput int

	// Bus and Signer, when set, stream command lifecycle as ephemeral
	// kind-24200 events. Streaming is best-effort.
	Bus    eventbus.Bus
	Signer *eventbus.Signer

	Logger *slog.Logger
}

// ShellTool runs shell commands in the project workspace.
type ShellTool struct {
	config ShellConfig
	logger *slog.Logger
}

// NewShellTool creates a shell tool.
func NewShellTool(config ShellConfig) *ShellTool {
	if config.Timeout <= 0 {
		config.Timeout = defaultShellTimeout
	}
	if config.MaxOutput <= 0 {
		config.MaxOutput = defaultMaxOutput
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellTool{config: config, logger: logger.With("component", "shell-tool")}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command in the project workspace and return its output."
}

func (t *ShellTool) Params() []Param {
	return []Param{
		{Name: "command", Type: "string", Required: true, Description: "Shell command to execute."},
		{Name: "cwd", Type: "string", Description: "Working directory, relative to the workspace."},
		{Name: "timeout_seconds", Type: "integer", Description: "Timeout in seconds. Defaults to 300."},
	}
}

type shellResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Duration string `json:"duration"`
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	command := strings.TrimSpace(stringArg(args, "command"))
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}

	dir, err := t.resolveDir(stringArg(args, "cwd"))
	if err != nil {
		return nil, err
	}

	timeout := t.config.Timeout
	if seconds := intArg(args, "timeout_seconds"); seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	executionID := uuid.NewString()
	t.stream(ctx, shellEvent{Type: "start", Command: command, ExecutionID: executionID})

	stdout := newLimitedBuffer(t.config.MaxOutput, func(data string) {
		t.stream(ctx, shellEvent{Type: "stdout", Data: data, ExecutionID: executionID})
	})
	stderr := newLimitedBuffer(t.config.MaxOutput, func(data string) {
		t.stream(ctx, shellEvent{Type: "stderr", Data: data, ExecutionID: executionID})
	})

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	exit := exitCode(runErr)
	t.stream(ctx, shellEvent{Type: "exit", ExitCode: &exit, ExecutionID: executionID})

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}
	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			return nil, fmt.Errorf("run command: %w", runErr)
		}
	}

	payload, err := json.MarshalIndent(shellResult{
		Command:  command,
		ExitCode: exit,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Result{Output: string(payload)}, nil
}

// resolveDir resolves a cwd argument against the workspace root, refusing
// paths that escape it.
func (t *ShellTool) resolveDir(sub string) (string, error) {
	root := filepath.Clean(t.config.Cwd)
	if root == "" || root == "." {
		root = "."
	}
	if sub == "" {
		return root, nil
	}
	if filepath.IsAbs(sub) {
		return "", fmt.Errorf("cwd must be relative to the workspace: %s", sub)
	}
	joined := filepath.Join(root, sub)
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd escapes the workspace: %s", sub)
	}
	return joined, nil
}

// shellEvent is the content of a kind-24200 streaming event.
type shellEvent struct {
	Type        string `json:"type"`
	Command     string `json:"command,omitempty"`
	Data        string `json:"data,omitempty"`
	ExitCode    *int   `json:"exitCode,omitempty"`
	ExecutionID string `json:"executionId"`
	Timestamp   int64  `json:"timestamp"`
}

func (t *ShellTool) stream(ctx context.Context, event shellEvent) {
	if t.config.Bus == nil || t.config.Signer == nil {
		return
	}
	event.Timestamp = time.Now().Unix()
	content, err := json.Marshal(event)
	if err != nil {
		return
	}
	evt := &nostr.Event{
		Kind:    eventbus.KindShellOutput,
		Content: string(content),
		Tags:    nostr.Tags{},
	}
	if err := t.config.Signer.Sign(evt); err != nil {
		t.logger.Debug("sign shell stream event failed", "error", err)
		return
	}
	if err := t.config.Bus.PublishEphemeral(ctx, evt); err != nil {
		t.logger.Debug("publish shell stream event failed", "error", err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// limitedBuffer captures up to max bytes and forwards each written chunk to
// an optional callback.
type limitedBuffer struct {
	mu      sync.Mutex
	buf     strings.Builder
	max     int
	dropped int
	onWrite func(string)
}

func newLimitedBuffer(max int, onWrite func(string)) *limitedBuffer {
	return &limitedBuffer{max: max, onWrite: onWrite}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	room := b.max - b.buf.Len()
	if room > 0 {
		if len(p) <= room {
			b.buf.Write(p)
		} else {
			b.buf.Write(p[:room])
			b.dropped += len(p) - room
		}
	} else {
		b.dropped += len(p)
	}
	b.mu.Unlock()

	if b.onWrite != nil {
		b.onWrite(string(p))
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped > 0 {
		return b.buf.String() + fmt.Sprintf("\n... (%d bytes truncated)", b.dropped)
	}
	return b.buf.String()
}

func stringArg(args map[string]any, name string) string {
	value, _ := args[name].(string)
	return value
}

func intArg(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
