// Package capability provides the external lookup tools available to the
// media checkers: web search, page fetch, reverse image search, video
// metadata, and claim verification. Every call runs through the resilience
// executor under a per-capability circuit breaker.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/pkg/llm"
)

// Capability defines the interface for an executable lookup tool.
type Capability interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds registered capabilities and routes calls through the
// resilience layer.
type Registry struct {
	caps map[string]Capability
	exec *resilience.Executor
}

// NewRegistry creates an empty capability registry.
func NewRegistry(exec *resilience.Executor) *Registry {
	return &Registry{
		caps: make(map[string]Capability),
		exec: exec,
	}
}

// Register adds a capability to the registry.
func (r *Registry) Register(c Capability) {
	r.caps[c.Name()] = c
}

// Get returns a capability by name.
func (r *Registry) Get(name string) (Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// Call executes the named capability with retry and circuit breaking.
// The guarding breaker is named "tool:<name>".
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	c, ok := r.caps[name]
	if !ok {
		return "", resilience.NewError(resilience.KindNotFound, "tool:"+name, "unknown capability", nil)
	}
	var out string
	err := r.exec.Do(ctx, "tool:"+name, func(ctx context.Context) error {
		var execErr error
		out, execErr = c.Execute(ctx, args)
		return execErr
	})
	return out, err
}

// AsLLMTools converts the named capabilities to the LLM provider format.
// Unknown names are skipped.
func (r *Registry) AsLLMTools(names []string) []llm.Tool {
	out := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		c, ok := r.caps[name]
		if !ok {
			continue
		}
		out = append(out, llm.Tool{
			Name:        c.Name(),
			Description: c.Description(),
			Parameters:  c.Parameters(),
		})
	}
	return out
}

// wrapStatusErr converts a generic or StatusError failure from an upstream
// HTTP call into the typed taxonomy the resilience layer understands.
func wrapStatusErr(op string, err error) error {
	var se *llm.StatusError
	if errors.As(err, &se) {
		return resilience.FromHTTPStatus(se.StatusCode, op, se.Body)
	}
	var re *resilience.Error
	if errors.As(err, &re) {
		return err
	}
	return resilience.NewError(resilience.KindNetwork, op, fmt.Sprintf("request failed: %v", err), err)
}
