package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/solagent/solagent/internal/models"
)

var (
	ErrDuplicateTool = errors.New("tool already registered")
	ErrEmptyName     = errors.New("tool name is empty")
	ErrNilHandler    = errors.New("tool handler is nil")
	ErrBadSchema     = errors.New("input schema is not a well-formed object schema")
)

type entry struct {
	spec    Spec
	handler Handler
	schema  *jsonschema.Schema
}

// Registry holds tool definitions and performs validated invocation.
// Registration is rare and lookups are frequent, so reads take an RLock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register stores a tool spec with its handler. The input schema is
// compiled once here so Call never pays compilation cost.
func (r *Registry) Register(spec Spec, handler Handler) error {
	if spec.Name == "" {
		return ErrEmptyName
	}
	if handler == nil {
		return fmt.Errorf("%w: %q", ErrNilHandler, spec.Name)
	}

	schema, err := compileObjectSchema(spec.Name, spec.InputSchema)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[spec.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, spec.Name)
	}
	r.entries[spec.Name] = &entry{spec: spec, handler: handler, schema: schema}
	r.order = append(r.order, spec.Name)
	return nil
}

// ListSpecs returns a snapshot of all registered specs in registration order.
func (r *Registry) ListSpecs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.entries[name].spec)
	}
	return specs
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Call validates the call's arguments against the tool's schema and invokes
// the handler. The handler never observes invalid input, and handler
// failures (including panics) never propagate past this boundary: every
// outcome is a ToolResult.
func (r *Registry) Call(ctx context.Context, call models.ToolCall) models.ToolResult {
	r.mu.RLock()
	e, ok := r.entries[call.Name]
	r.mu.RUnlock()
	if !ok {
		return models.Fail(call, models.KindUnknownTool, fmt.Sprintf("tool %q is not registered", call.Name))
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := e.schema.Validate(normalize(args)); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return models.Fail(call, models.KindValidation,
				"invalid arguments: "+strings.Join(violations(ve), "; "))
		}
		return models.Fail(call, models.KindValidation, "invalid arguments: "+err.Error())
	}

	output, err := r.invoke(ctx, e.handler, args)
	switch {
	case err == nil:
		return models.OK(call, output)
	case errors.Is(err, context.DeadlineExceeded):
		return models.Fail(call, models.KindTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return models.Fail(call, models.KindTimeout, err.Error())
	default:
		return models.Fail(call, models.KindExecution, err.Error())
	}
}

// invoke shields the caller from handler panics.
func (r *Registry) invoke(ctx context.Context, h Handler, args map[string]any) (output any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("tool handler panicked")
			err = fmt.Errorf("tool handler panicked: %v", rec)
		}
	}()
	return h(ctx, args)
}

func compileObjectSchema(name string, raw map[string]any) (*jsonschema.Schema, error) {
	if raw == nil {
		raw = map[string]any{"type": "object"}
	}
	if t, ok := raw["type"]; ok && t != "object" {
		return nil, fmt.Errorf("%w: type is %v", ErrBadSchema, t)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	return schema, nil
}

// violations flattens a validation error into one line per violated field.
func violations(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := strings.TrimPrefix(ve.InstanceLocation, "/")
		if loc == "" {
			loc = "(arguments)"
		}
		return []string{loc + ": " + ve.Message}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, violations(cause)...)
	}
	return out
}

// normalize re-encodes argument values through JSON so the validator sees
// the same shapes it would for a decoded request body (e.g. numbers as
// float64, no typed nils).
func normalize(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return args
	}
	return decoded
}
