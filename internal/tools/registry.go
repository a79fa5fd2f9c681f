// Package tools implements the Tool Registry (spec.md §4.5): name -> Tool,
// per-tool argument schema, a blacklist set, and the interrupt/approval
// protocol for blacklisted tool calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pgoagent/agentserver/internal/convmodel"
)

// Tool is a registered effect with a declared argument schema and a text
// result. Run may be synchronous or suspend-capable; the registry offloads
// synchronous tools to a worker goroutine so it never blocks the stage
// scheduler (spec.md §4.5).
type Tool interface {
	Name() string
	Run(ctx context.Context, args json.RawMessage) (string, error)
}

// Result is one tool's outcome, always serialized to text.
type Result struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Registry holds the static and dynamically-registered (e.g. MCP-discovered)
// tools plus the blacklist set.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	schemas   map[string]*jsonschema.Schema
	blacklist map[string]struct{}

	// maxOutputBytes bounds a single tool result; results exceeding it are
	// truncated with an explicit marker (spec.md §4.5).
	maxOutputBytes int

	// sem bounds how many tool Runs execute at once, offloading synchronous
	// tools to a worker so they never starve the stage scheduler (spec.md
	// §4.5, §4.9's "bounded worker pool for synchronous work"). Nil means
	// unbounded.
	sem chan struct{}
}

// New constructs an empty Registry with unbounded tool concurrency.
// maxOutputBytes is typically half of the model input budget times 4
// (spec.md §4.5's default derivation).
func New(maxOutputBytes int) *Registry {
	return &Registry{
		tools:          map[string]Tool{},
		schemas:        map[string]*jsonschema.Schema{},
		blacklist:      map[string]struct{}{},
		maxOutputBytes: maxOutputBytes,
	}
}

// NewWithWorkerPool is New plus a bound on concurrent tool executions,
// sized from the server's configured worker pool (spec.md §4.9).
func NewWithWorkerPool(maxOutputBytes, workerPoolSize int) *Registry {
	r := New(maxOutputBytes)
	if workerPoolSize > 0 {
		r.sem = make(chan struct{}, workerPoolSize)
	}
	return r
}

// Register adds a statically-known tool with its compiled argument schema.
func (r *Registry) Register(t Tool, schema *jsonschema.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema
}

// RegisterDynamic adds a tool discovered at runtime (e.g. via an external MCP
// server), distinct from the statically-registered built-ins, so MCP tools
// can come and go without touching the closed capability set (SPEC_FULL.md
// supplemented features).
func (r *Registry) RegisterDynamic(t Tool, schema *jsonschema.Schema) {
	r.Register(t, schema)
}

// Blacklist marks name as requiring human approval before execution.
func (r *Registry) Blacklist(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklist[name] = struct{}{}
}

// IsBlacklisted reports whether name requires approval.
func (r *Registry) IsBlacklisted(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blacklist[name]
	return ok
}

func (r *Registry) lookup(name string) (Tool, *jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, r.schemas[name], ok
}

// truncate applies the MAX_TOOL_OUTPUT_BYTES cap with an explicit marker.
func (r *Registry) truncate(content string) string {
	if r.maxOutputBytes <= 0 || len(content) <= r.maxOutputBytes {
		return content
	}
	kept := content[:r.maxOutputBytes]
	return fmt.Sprintf("%s\n[output truncated: original length %d bytes, kept first %d bytes]", kept, len(content), r.maxOutputBytes)
}

// run executes a single validated call synchronously (offloaded to a
// goroutine by ExecuteAllowed's fan-out) and converts the outcome to a
// Result.
func (r *Registry) run(ctx context.Context, call convmodel.ToolCall) Result {
	t, schema, ok := r.lookup(call.Name)
	if !ok {
		return Result{CallID: call.CallID, Name: call.Name, Content: fmt.Sprintf("tool %q is not registered", call.Name), IsError: true}
	}
	if schema != nil {
		var v any
		if err := json.Unmarshal([]byte(call.Args), &v); err != nil {
			return Result{CallID: call.CallID, Name: call.Name, Content: fmt.Sprintf("invalid arguments JSON: %v", err), IsError: true}
		}
		if err := schema.Validate(v); err != nil {
			return Result{CallID: call.CallID, Name: call.Name, Content: fmt.Sprintf("arguments failed schema validation: %v", err), IsError: true}
		}
	}
	out, err := t.Run(ctx, json.RawMessage(call.Args))
	if err != nil {
		return Result{CallID: call.CallID, Name: call.Name, Content: fmt.Sprintf("tool execution failed: %v", err), IsError: true}
	}
	return Result{CallID: call.CallID, Name: call.Name, Content: r.truncate(out)}
}

// ExecuteAllowed runs every call in calls concurrently and joins before
// returning, matching the "independent tools execute concurrently" rule in
// spec.md §4.5. results[i] is the outcome of calls[i], whatever order the
// calls finish in; each result also carries its own CallID for correlation.
func (r *Registry) ExecuteAllowed(ctx context.Context, calls []convmodel.ToolCall) []Result {
	if len(calls) == 0 {
		return nil
	}
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, call := range calls {
		go func(i int, call convmodel.ToolCall) {
			defer wg.Done()
			if r.sem != nil {
				r.sem <- struct{}{}
				defer func() { <-r.sem }()
			}
			results[i] = r.run(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Partition splits calls into allowed and blacklisted sets per spec.md §4.5.
func (r *Registry) Partition(calls []convmodel.ToolCall) (allowed, blacklisted []convmodel.ToolCall) {
	for _, c := range calls {
		if r.IsBlacklisted(c.Name) {
			blacklisted = append(blacklisted, c)
		} else {
			allowed = append(allowed, c)
		}
	}
	return allowed, blacklisted
}
