package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"propflow.app/assist/common/id"
	"propflow.app/assist/common/llm"
	"propflow.app/assist/internal/store"
)

var leadStatuses = map[string]struct{}{
	"new": {}, "contacted": {}, "qualified": {}, "viewing": {},
	"offer": {}, "won": {}, "lost": {},
}

type CreateLeadParams struct {
	Name   string `json:"name" jsonschema:"required,description=Full name of the lead"`
	Email  string `json:"email,omitempty" jsonschema:"description=Email address if known"`
	Phone  string `json:"phone,omitempty" jsonschema:"description=Phone number if known"`
	Source string `json:"source,omitempty" jsonschema:"description=Where the lead came from (portal, referral, walk-in, ...)"`
	Notes  string `json:"notes,omitempty" jsonschema:"description=Free-form notes captured from the conversation"`
}

type UpdateLeadStatusParams struct {
	LeadID int64  `json:"lead_id" jsonschema:"required,description=ID of the lead to update"`
	Status string `json:"status" jsonschema:"required,enum=new,enum=contacted,enum=qualified,enum=viewing,enum=offer,enum=won,enum=lost,description=New pipeline status"`
	Note   string `json:"note,omitempty" jsonschema:"description=Optional note to append explaining the change"`
}

type FindLeadsParams struct {
	Query  string `json:"query,omitempty" jsonschema:"description=Name or email fragment to match"`
	Status string `json:"status,omitempty" jsonschema:"enum=new,enum=contacted,enum=qualified,enum=viewing,enum=offer,enum=won,enum=lost,description=Restrict to one pipeline status"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Max results (default 10, max 25)"`
}

type leadRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

// LeadTools owns the lead pipeline capabilities.
type LeadTools struct {
	db store.Querier
}

func NewLeadTools(q store.Querier) *LeadTools {
	return &LeadTools{db: q}
}

func (t *LeadTools) Register(r *Registry) error {
	registrations := []struct {
		desc    Descriptor
		handler Handler
	}{
		{
			Descriptor{
				Name:        "create_lead",
				Description: "Create a new lead in the pipeline. Use when a new prospect appears in the conversation. Returns the created lead including its ID.",
				Parameters:  llm.GenerateSchemaFrom(CreateLeadParams{}),
			},
			t.createLead,
		},
		{
			Descriptor{
				Name:        "update_lead_status",
				Description: "Move a lead to a different pipeline status. Requires the lead ID; use find_leads first if only a name is known.",
				Parameters:  llm.GenerateSchemaFrom(UpdateLeadStatusParams{}),
			},
			t.updateLeadStatus,
		},
		{
			Descriptor{
				Name:        "find_leads",
				Description: "Find leads by name or email fragment, optionally filtered by status. Returns at most 25 matches, newest first.",
				Parameters:  llm.GenerateSchemaFrom(FindLeadsParams{}),
			},
			t.findLeads,
		},
	}

	for _, reg := range registrations {
		if err := r.Register(reg.desc, reg.handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *LeadTools) createLead(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[CreateLeadParams](inv)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, NewError(KindInvalidArguments, "lead name is required")
	}

	lead := leadRecord{
		ID:     id.New(),
		Name:   strings.TrimSpace(params.Name),
		Email:  strings.TrimSpace(params.Email),
		Phone:  strings.TrimSpace(params.Phone),
		Source: params.Source,
		Status: "new",
		Notes:  params.Notes,
	}

	row := t.db.QueryRow(ctx, `
		INSERT INTO leads (id, tenant_id, name, email, phone, source, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		lead.ID, inv.TenantID, lead.Name, lead.Email, lead.Phone, lead.Source, lead.Status, lead.Notes)
	if err := row.Scan(&lead.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert lead: %w", err)
	}

	return encode(lead)
}

func (t *LeadTools) updateLeadStatus(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[UpdateLeadStatusParams](inv)
	if err != nil {
		return nil, err
	}
	if params.LeadID == 0 {
		return nil, NewError(KindInvalidArguments, "lead_id is required")
	}
	if _, ok := leadStatuses[params.Status]; !ok {
		return nil, NewError(KindInvalidArguments, fmt.Sprintf("unknown lead status %q", params.Status))
	}

	query := `
		UPDATE leads
		SET status = $1,
		    notes = CASE WHEN $2 = '' THEN notes ELSE trim(both E'\n' from notes || E'\n' || $2) END,
		    updated_at = now()
		WHERE id = $3 AND tenant_id = $4`

	tag, err := t.db.Exec(ctx, query, params.Status, params.Note, params.LeadID, inv.TenantID)
	if err != nil {
		return nil, fmt.Errorf("update lead status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, NewError(KindNotFound, fmt.Sprintf("lead %d not found", params.LeadID))
	}

	return encode(map[string]any{
		"lead_id": params.LeadID,
		"status":  params.Status,
	})
}

func (t *LeadTools) findLeads(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[FindLeadsParams](inv)
	if err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	query := `
		SELECT id, name, email, phone, source, status, notes, created_at
		FROM leads
		WHERE tenant_id = $1
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4`

	rows, err := t.db.Query(ctx, query, inv.TenantID, strings.TrimSpace(params.Query), params.Status, limit)
	if err != nil {
		return nil, fmt.Errorf("find leads: %w", err)
	}
	defer rows.Close()

	var leads []leadRecord
	for rows.Next() {
		var lead leadRecord
		if err := rows.Scan(&lead.ID, &lead.Name, &lead.Email, &lead.Phone,
			&lead.Source, &lead.Status, &lead.Notes, &lead.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find leads: %w", err)
	}

	return encode(map[string]any{
		"count": len(leads),
		"leads": leads,
	})
}
