// Package tools matches tool invocations from the remote model to local
// handlers and guarantees exactly one correlated result per invocation id.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spanearme/voicebridge/internal/observability"
)

var (
	// ErrInvalidArguments indicates arguments that do not satisfy the
	// handler's declared parameter schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
	// ErrUnknownTool indicates an invocation naming no registered handler.
	ErrUnknownTool = errors.New("unknown tool")
)

// Invocation is a structured request from the remote model to execute a
// named local action.
type Invocation struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is the correlated outcome sent back upstream. Exactly one Result is
// produced per Invocation id, success or failure.
type Result struct {
	ID      string
	Name    string
	Payload map[string]any
}

// Handler executes the side-effecting action behind a tool.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Definition declares a tool: its name, model-facing description, JSON-Schema
// parameter shape, and handler.
type Definition struct {
	Name            string
	Description     string
	ParameterSchema map[string]any
	Handler         Handler
}

// Declaration is the schema projection advertised to the remote model.
type Declaration struct {
	Name            string
	Description     string
	ParameterSchema map[string]any
}

type registered struct {
	def    Definition
	schema *jsonschema.Schema
}

// Registry holds registered tools and dispatches invocations to them.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*registered
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRegistry creates a registry; timeout bounds each handler execution.
func NewRegistry(timeout time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]*registered),
		timeout: timeout,
		logger:  logger.With().Str("component", "tools").Logger(),
	}
}

// Register adds a tool, compiling its parameter schema once up front.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition missing name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q missing handler", def.Name)
	}

	raw, err := json.Marshal(def.ParameterSchema)
	if err != nil {
		return fmt.Errorf("marshal schema for %q: %w", def.Name, err)
	}

	compiler := jsonschema.NewCompiler()
	url := "tool://" + def.Name + "/parameters.json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema resource for %q: %w", def.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = &registered{def: def, schema: schema}
	return nil
}

// Declarations returns the advertised schema of every registered tool.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Declaration, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, Declaration{
			Name:            reg.def.Name,
			Description:     reg.def.Description,
			ParameterSchema: reg.def.ParameterSchema,
		})
	}
	return out
}

// Handle dispatches one invocation and always returns a Result carrying the
// invocation id: unknown tool, schema violation, handler failure, and
// timeout all map to a failure payload rather than a dropped correlation.
func (r *Registry) Handle(ctx context.Context, inv Invocation) Result {
	r.mu.RLock()
	reg, ok := r.tools[inv.Name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn().Str("tool", inv.Name).Str("invocation_id", inv.ID).Msg("invocation for unregistered tool")
		observability.RecordToolInvocation(inv.Name, "failure")
		return failure(inv, fmt.Errorf("%w: %s", ErrUnknownTool, inv.Name))
	}

	if err := validateArgs(reg.schema, inv.Args); err != nil {
		r.logger.Warn().Err(err).Str("tool", inv.Name).Str("invocation_id", inv.ID).Msg("invocation rejected")
		observability.RecordToolInvocation(inv.Name, "failure")
		return failure(inv, err)
	}

	payload, err := r.invoke(ctx, reg.def.Handler, inv.Args)
	if err != nil {
		r.logger.Error().Err(err).Str("tool", inv.Name).Str("invocation_id", inv.ID).Msg("tool handler failed")
		observability.RecordToolInvocation(inv.Name, "failure")
		return failure(inv, err)
	}

	observability.RecordToolInvocation(inv.Name, "success")
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	return Result{ID: inv.ID, Name: inv.Name, Payload: payload}
}

// invoke runs the handler with the registry's execution bound so a stuck
// external service cannot stall the session's event loop indefinitely.
func (r *Registry) invoke(ctx context.Context, h Handler, args map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		payload map[string]any
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		payload, err := h(ctx, args)
		ch <- outcome{payload: payload, err: err}
	}()

	select {
	case out := <-ch:
		return out.payload, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("tool execution: %w", ctx.Err())
	}
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	// The schema library validates generic decoded JSON; a nil map is an
	// empty argument object.
	var doc any = map[string]any(args)
	if args == nil {
		doc = map[string]any{}
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func failure(inv Invocation, err error) Result {
	return Result{
		ID:   inv.ID,
		Name: inv.Name,
		Payload: map[string]any{
			"success": false,
			"error":   err.Error(),
		},
	}
}
