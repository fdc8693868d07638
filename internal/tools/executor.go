package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/tenex/internal/observability"
	"github.com/haasonsaas/tenex/pkg/models"
)

// ExecutorConfig configures the parallel tool executor.
type ExecutorConfig struct {
	// MaxConcurrency limits simultaneous tool executions. Default: 5.
	MaxConcurrency int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Executor runs tool calls against a registry. Calls from one assistant turn
// run in parallel; the response slice matches the call order. Tool failures
// of any sort, including panics, come back as "Error: ..." responses and
// never abort the surrounding turn.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	sem      chan struct{}

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, config ExecutorConfig) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		logger:   logger.With("component", "tools"),
		metrics:  config.Metrics,
		tracer:   config.Tracer,
		sem:      make(chan struct{}, config.MaxConcurrency),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// ExecuteAll executes the calls in parallel and returns one response per
// call, in call order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResponse {
	if len(calls) == 0 {
		return nil
	}

	responses := make([]models.ToolResponse, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			e.sem <- struct{}{}
			defer func() { <-e.sem }()
			responses[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return responses
}

// Execute runs a single tool call.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) models.ToolResponse {
	start := time.Now()

	tool, canonical, ok := e.registry.Resolve(call.Name)
	if !ok {
		e.logger.Warn("tool not found", "tool", call.Name)
		e.metrics.RecordToolExecution(call.Name, "unknown", time.Since(start).Seconds())
		return errorResponse(call.ID, fmt.Sprintf("Unknown tool: %s", call.Name))
	}
	if canonical != call.Name {
		e.logger.Info("normalised tool name", "from", call.Name, "to", canonical)
	}

	if missing := missingRequired(tool, call.Arguments); len(missing) > 0 {
		e.metrics.RecordToolExecution(canonical, "invalid_args", time.Since(start).Seconds())
		return errorResponse(call.ID, "Error: Missing required parameters: "+strings.Join(missing, ", "))
	}
	if err := e.validateArgs(tool, canonical, call.Arguments); err != nil {
		e.metrics.RecordToolExecution(canonical, "invalid_args", time.Since(start).Seconds())
		return errorResponse(call.ID, fmt.Sprintf("Error: invalid arguments for %s: %v", canonical, err))
	}

	runCtx, span := e.tracer.TraceToolExecution(ctx, canonical)
	result, err := e.run(runCtx, tool, call)
	e.tracer.RecordError(span, err)
	span.End()

	duration := time.Since(start)
	if err != nil {
		e.logger.Warn("tool execution failed", "tool", canonical, "error", err, "duration", duration)
		e.metrics.RecordToolExecution(canonical, "error", duration.Seconds())
		return errorResponse(call.ID, "Error: "+err.Error())
	}

	e.logger.Debug("tool executed", "tool", canonical, "duration", duration)
	e.metrics.RecordToolExecution(canonical, "success", duration.Seconds())

	response := models.ToolResponse{ToolCallID: call.ID}
	if result != nil {
		response.Output = result.Output
		response.RenderInChat = result.RenderInChat
	}
	return response
}

// run invokes the tool, converting a panic into an ordinary error.
func (e *Executor) run(ctx context.Context, tool Tool, call models.ToolCall) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked",
				"tool", tool.Name(),
				"panic", r,
				"stack", string(debug.Stack()))
			result = nil
			err = fmt.Errorf("%v", r)
		}
	}()

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return tool.Execute(ctx, args)
}

func missingRequired(tool Tool, args map[string]any) []string {
	var missing []string
	for _, p := range tool.Params() {
		if !p.Required {
			continue
		}
		if _, present := args[p.Name]; !present {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// validateArgs checks the arguments against the tool's parameter schema.
// A schema that fails to compile disables validation for that tool rather
// than blocking execution.
func (e *Executor) validateArgs(tool Tool, canonical string, args map[string]any) error {
	schema := e.compiledSchema(tool, canonical)
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip so numeric types match what a JSON decode would produce.
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(decoded)
}

func (e *Executor) compiledSchema(tool Tool, canonical string) *jsonschema.Schema {
	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()

	if schema, ok := e.schemas[canonical]; ok {
		return schema
	}

	payload, err := json.Marshal(ParamsSchema(tool))
	if err != nil {
		e.logger.Warn("tool schema not encodable, validation disabled", "tool", canonical, "error", err)
		e.schemas[canonical] = nil
		return nil
	}
	schema, err := jsonschema.CompileString(canonical+".schema.json", string(payload))
	if err != nil {
		e.logger.Warn("tool schema not compilable, validation disabled", "tool", canonical, "error", err)
		e.schemas[canonical] = nil
		return nil
	}
	e.schemas[canonical] = schema
	return schema
}

func errorResponse(callID, output string) models.ToolResponse {
	if !strings.HasPrefix(output, "Error:") {
		output = "Error: " + output
	}
	return models.ToolResponse{ToolCallID: callID, Output: output}
}
