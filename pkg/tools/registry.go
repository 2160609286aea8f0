package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/barekit/tabletalk/pkg/observability"
	"github.com/cespare/xxhash/v2"
)

// Call is a request to run a registered tool, produced by the parser for a
// single turn and discarded afterwards.
type Call struct {
	Name string          `json:"tool"`
	Args json.RawMessage `json:"parameters,omitempty"`
}

// Registry is the immutable catalog of tools. It is safe for concurrent use.
type Registry struct {
	tools   map[string]*Tool
	names   []string
	version string
}

// NewRegistry creates a registry. Tool names must be unique.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			return nil, fmt.Errorf("nil tool")
		}
		if _, dup := r.tools[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		r.tools[t.Name()] = t
		r.names = append(r.names, t.Name())
	}
	sort.Strings(r.names)

	b, err := json.Marshal(r.Specs())
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint catalog: %w", err)
	}
	r.version = fmt.Sprintf("%016x", xxhash.Sum64(b))
	return r, nil
}

// Specs returns every tool contract sorted by name.
func (r *Registry) Specs() []Spec {
	specs := make([]Spec, len(r.names))
	for i, name := range r.names {
		specs[i] = r.tools[name].Spec()
	}
	return specs
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Version is a fingerprint of the catalog. Any change to a tool name,
// parameter name or parameter type produces a new version.
func (r *Registry) Version() string { return r.version }

// Dispatch resolves call to a tool, validates its arguments and invokes the
// handler. An unregistered name fails with an unknown_tool error before any
// work is done. The handler result is returned unmodified.
func (r *Registry) Dispatch(ctx context.Context, call Call) (any, error) {
	t, ok := r.tools[call.Name]
	if !ok {
		observability.ObserveToolCall("unknown", string(fault.KindUnknownTool))
		return nil, fault.UnknownTool(call.Name)
	}

	out, err := t.Call(ctx, call.Args)
	if err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) && fe.Kind == fault.KindValidation && fe.Op == "" {
			fe.Op = call.Name
		}
		status := string(fault.KindOf(err))
		if status == "" {
			status = "error"
		}
		observability.ObserveToolCall(call.Name, status)
		return nil, err
	}
	observability.ObserveToolCall(call.Name, "ok")
	return out, nil
}
