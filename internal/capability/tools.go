package capability

import (
	"encoding/json"
	"fmt"

	"propflow.app/assist/common/search"
	"propflow.app/assist/internal/store"
)

// BuildRegistry wires every domain's capabilities into one validated
// registry. listings may be nil; property search then degrades to Postgres.
func BuildRegistry(q store.Querier, escalations store.EscalationStore, listings search.Client) (*Registry, error) {
	registry := NewRegistry()

	registrars := []interface {
		Register(r *Registry) error
	}{
		NewLeadTools(q),
		NewPropertyTools(q, listings),
		NewEmailTools(escalations),
		NewCalendarTools(q),
		NewDocumentTools(q),
		NewContactTools(q),
	}

	for _, registrar := range registrars {
		if err := registrar.Register(registry); err != nil {
			return nil, fmt.Errorf("register capabilities: %w", err)
		}
	}

	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

// decodeArgs unmarshals invocation arguments into the handler's param
// struct, folding malformed input into the invalid_arguments kind so the
// model gets a correctable message instead of a decoder dump.
func decodeArgs[T any](inv Invocation) (T, error) {
	var params T
	if len(inv.Args) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(inv.Args, &params); err != nil {
		return params, NewError(KindInvalidArguments, fmt.Sprintf("arguments for %s could not be parsed", inv.Name))
	}
	return params, nil
}

func encode(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode capability result: %w", err)
	}
	return data, nil
}
