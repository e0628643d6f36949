package enrich

import (
	"context"
	"fmt"
	"sync"
)

// Context carries the dispatch context into handlers.
type Context struct {
	TenantID string
	AgentID  string
}

// Handler transforms one task payload. It must not mutate the input map.
type Handler func(ctx context.Context, payload map[string]interface{}, ec Context) (map[string]interface{}, error)

// Registry maps (action, operation) pairs to payload handlers. The
// dispatcher always tries the "auto" operation; actions without one simply
// pass through unchanged.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]map[string]Handler)}
}

// Register installs a handler for the action and operation.
func (r *Registry) Register(action, operation string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops[action] == nil {
		r.ops[action] = make(map[string]Handler)
	}
	r.ops[action][operation] = h
}

// Apply runs the handler for the action and operation. A missing action or
// operation is a no-op: the payload comes back untouched with applied set
// to false. A handler error means the payload is invalid and the task must
// be rejected.
func (r *Registry) Apply(ctx context.Context, action, operation string, payload map[string]interface{}, ec Context) (map[string]interface{}, bool, error) {
	if action == "" {
		return nil, false, fmt.Errorf("action is required")
	}
	if operation == "" {
		return nil, false, fmt.Errorf("operation is required")
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	r.mu.RLock()
	var h Handler
	if ops := r.ops[action]; ops != nil {
		h = ops[operation]
	}
	r.mu.RUnlock()

	if h == nil {
		return payload, false, nil
	}
	out, err := h(ctx, payload, ec)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func clonePayload(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
