package toolbus

import (
	"context"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ToolExecutor performs one tool call with validated arguments. It is the
// backend-supplied function the registry invokes; its failure is surfaced as
// a TOOL_EXECUTION_ERROR reply, never as a transport failure.
type ToolExecutor func(ctx context.Context, args map[string]any) (any, error)

type registeredTool struct {
	spec     ToolSpec
	compiled *gojsonschema.Schema
	execute  ToolExecutor
}

// ToolRegistry declares the tools one backend instance exposes and validates
// call arguments before the executor is reached. Registries are built once at
// server startup and are read-only afterwards, so routing needs no locking.
type ToolRegistry struct {
	order []string
	tools map[string]registeredTool
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]registeredTool),
	}
}

// NewToolRegistryFromBackend builds a registry from a backend adapter: one
// entry per declared spec, each executing through the backend.
func NewToolRegistryFromBackend(backend ToolBackend) (*ToolRegistry, error) {
	r := NewToolRegistry()
	for _, spec := range backend.Tools() {
		name := spec.Name
		err := r.Register(spec, func(ctx context.Context, args map[string]any) (any, error) {
			return backend.ExecuteTool(ctx, name, args)
		})
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique; the schema, when present, is
// compiled here so Call never pays compilation cost.
func (r *ToolRegistry) Register(spec ToolSpec, execute ToolExecutor) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if _, ok := r.tools[spec.Name]; ok {
		return fmt.Errorf("duplicate tool name: %s", spec.Name)
	}
	if execute == nil {
		return fmt.Errorf("tool %s has no executor", spec.Name)
	}

	rt := registeredTool{
		spec:    spec,
		execute: execute,
	}
	if spec.InputSchema != nil {
		compiled, err := spec.InputSchema.compile()
		if err != nil {
			return fmt.Errorf("tool %s: %w", spec.Name, err)
		}
		rt.compiled = compiled
	}

	r.order = append(r.order, spec.Name)
	r.tools[spec.Name] = rt
	return nil
}

// List returns the declared specs in declaration order. The result is a copy;
// the registry itself stays immutable.
func (r *ToolRegistry) List() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].spec)
	}
	return specs
}

// Call resolves the named tool, validates args against its schema, applies
// declared defaults for omitted optional properties, and invokes the
// executor. Unknown names, invalid arguments and executor failures are
// reported as protocol errors; the executor is never invoked unless the
// arguments validated.
func (r *ToolRegistry) Call(ctx context.Context, name string, args map[string]any) (any, *Error) {
	rt, ok := r.tools[name]
	if !ok {
		return nil, Errorf(CodeToolNotFound, "Unknown tool: %s", name)
	}

	if args == nil {
		args = map[string]any{}
	}
	if rt.spec.InputSchema != nil {
		args = rt.spec.InputSchema.applyDefaults(args)
		if verr := validateArgs(rt.compiled, args); verr != nil {
			return nil, verr
		}
	}

	result, err := rt.execute(ctx, args)
	if err != nil {
		return nil, Errorf(CodeToolExecutionError, "%s", err.Error())
	}
	return result, nil
}
