package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"propflow.app/assist/common/logger"
)

type registration struct {
	descriptor Descriptor
	handler    Handler
}

// Registry maps capability names to typed handlers. Built once at process
// start; read-only afterwards, so concurrent runs share it without locking.
type Registry struct {
	order   []string
	entries map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register declares a capability and binds its handler. Descriptor and
// handler are registered as a pair so a declared-but-unhandled capability
// cannot exist.
func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if desc.Name == "" {
		return fmt.Errorf("capability descriptor missing name")
	}
	if handler == nil {
		return fmt.Errorf("capability %q has no handler", desc.Name)
	}
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("capability %q registered twice", desc.Name)
	}
	r.entries[desc.Name] = registration{descriptor: desc, handler: handler}
	r.order = append(r.order, desc.Name)
	return nil
}

// Validate is called once at startup after all registrations.
func (r *Registry) Validate() error {
	if len(r.entries) == 0 {
		return fmt.Errorf("capability registry is empty")
	}
	for name, reg := range r.entries {
		if reg.descriptor.Parameters == nil {
			return fmt.Errorf("capability %q has no parameter schema", name)
		}
	}
	return nil
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	result := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.entries[name].descriptor)
	}
	return result
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	reg, ok := r.entries[name]
	return reg.descriptor, ok
}

// Execute runs one invocation. The tenant scope check lives here so no
// handler can be reached without it.
func (r *Registry) Execute(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	if inv.TenantID == "" {
		return nil, NewError(KindInvalidArguments, "missing tenant scope")
	}

	reg, ok := r.entries[inv.Name]
	if !ok {
		return nil, NewError(KindNotFound, fmt.Sprintf("unknown capability %q", inv.Name))
	}

	if len(inv.Args) > 0 && !json.Valid(inv.Args) {
		return nil, NewError(KindInvalidArguments, "arguments are not valid JSON")
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "assist.capability." + inv.Name,
	})

	start := time.Now()
	result, err := reg.handler(ctx, inv)

	slog.DebugContext(ctx, "capability executed",
		"capability", inv.Name,
		"correlation_id", inv.CorrelationID,
		"latency_ms", time.Since(start).Milliseconds(),
		"failed", err != nil)

	return result, err
}
