package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Error kinds surfaced by capability executions. The orchestrator maps them
// onto model-visible tool results; raw internal errors never cross that line.
const (
	KindNotFound             = "not_found"
	KindInvalidArguments     = "invalid_arguments"
	KindConfirmationRequired = "confirmation_required"
	KindInternal             = "internal"
)

// ErrConfirmationRequired suspends an execution pending a human gate.
// Capabilities return it (possibly wrapped) instead of performing the
// side effect.
var ErrConfirmationRequired = errors.New("confirmation required")

// Error is a typed capability failure: Kind is stable and safe to branch
// on, Message is safe to show the model.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewError(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Descriptor declares one capability: its wire name, the description the
// model sees, and a JSON schema for its arguments. Immutable after startup.
type Descriptor struct {
	Name        string
	Description string
	Parameters  any
}

// Invocation is one requested execution. TenantID is mandatory: no
// capability runs unscoped.
type Invocation struct {
	Name           string
	Args           json.RawMessage
	TenantID       string
	UserID         string
	ConversationID int64
	CorrelationID  string
}

// Handler executes one capability invocation. Handlers must be re-entrant:
// the model may legitimately request the same capability several times per
// turn with different arguments, concurrently.
type Handler func(ctx context.Context, inv Invocation) (json.RawMessage, error)
