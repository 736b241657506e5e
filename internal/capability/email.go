package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"propflow.app/assist/common/id"
	"propflow.app/assist/common/llm"
	"propflow.app/assist/internal/model"
	"propflow.app/assist/internal/store"
)

type DraftEmailParams struct {
	To      string `json:"to" jsonschema:"required,description=Recipient email address"`
	Subject string `json:"subject" jsonschema:"required,description=Email subject line"`
	Body    string `json:"body" jsonschema:"required,description=Full email body, ready to send"`
}

type SendEmailParams struct {
	To      string `json:"to" jsonschema:"required,description=Recipient email address"`
	Subject string `json:"subject" jsonschema:"required,description=Email subject line"`
	Body    string `json:"body" jsonschema:"required,description=Full email body"`
}

// EmailTools owns the outbound mail capabilities. Nothing here ever sends:
// draft_email returns the validated draft for the user to see, and
// send_email always parks behind a pending escalation.
type EmailTools struct {
	escalations store.EscalationStore
}

func NewEmailTools(escalations store.EscalationStore) *EmailTools {
	return &EmailTools{escalations: escalations}
}

func (t *EmailTools) Register(r *Registry) error {
	if err := r.Register(Descriptor{
		Name:        "draft_email",
		Description: "Validate and register an email draft for the user to review. Does not send anything.",
		Parameters:  llm.GenerateSchemaFrom(DraftEmailParams{}),
	}, t.draftEmail); err != nil {
		return err
	}
	return r.Register(Descriptor{
		Name:        "send_email",
		Description: "Request that an email be sent. Sending always requires explicit human confirmation; this queues the email and reports its pending status.",
		Parameters:  llm.GenerateSchemaFrom(SendEmailParams{}),
	}, t.sendEmail)
}

func (t *EmailTools) draftEmail(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[DraftEmailParams](inv)
	if err != nil {
		return nil, err
	}
	if err := validateEmail(params.To, params.Subject, params.Body); err != nil {
		return nil, err
	}

	return encode(map[string]any{
		"draft_id": id.New(),
		"to":       params.To,
		"subject":  params.Subject,
		"body":     params.Body,
	})
}

// sendEmail records a pending escalation and returns ErrConfirmationRequired.
// The actual delivery happens out of band once a human approves the row.
func (t *EmailTools) sendEmail(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[SendEmailParams](inv)
	if err != nil {
		return nil, err
	}
	if err := validateEmail(params.To, params.Subject, params.Body); err != nil {
		return nil, err
	}

	escalation := &model.Escalation{
		ID:             id.New(),
		TenantID:       inv.TenantID,
		ConversationID: inv.ConversationID,
		Capability:     inv.Name,
		Arguments:      inv.Args,
		Status:         model.EscalationPending,
	}
	if err := t.escalations.Create(ctx, escalation); err != nil {
		return nil, fmt.Errorf("record escalation: %w", err)
	}

	slog.InfoContext(ctx, "send_email parked for confirmation",
		"escalation_id", escalation.ID,
		"to", params.To)

	return nil, fmt.Errorf("escalation %d pending: %w", escalation.ID, ErrConfirmationRequired)
}

func validateEmail(to, subject, body string) error {
	if _, err := mail.ParseAddress(strings.TrimSpace(to)); err != nil {
		return NewError(KindInvalidArguments, fmt.Sprintf("%q is not a valid email address", to))
	}
	if strings.TrimSpace(subject) == "" {
		return NewError(KindInvalidArguments, "subject is required")
	}
	if strings.TrimSpace(body) == "" {
		return NewError(KindInvalidArguments, "body is required")
	}
	return nil
}
