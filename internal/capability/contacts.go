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

type CreateContactParams struct {
	Name    string `json:"name" jsonschema:"required,description=Full name of the contact"`
	Email   string `json:"email,omitempty" jsonschema:"description=Email address if known"`
	Phone   string `json:"phone,omitempty" jsonschema:"description=Phone number if known"`
	Address string `json:"address,omitempty" jsonschema:"description=Postal address if known"`
}

type FindContactsParams struct {
	Query string `json:"query" jsonschema:"required,description=Name, email or phone fragment to match"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max results (default 10, max 25)"`
}

type contactRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// ContactTools owns the address-book capabilities.
type ContactTools struct {
	db store.Querier
}

func NewContactTools(q store.Querier) *ContactTools {
	return &ContactTools{db: q}
}

func (t *ContactTools) Register(r *Registry) error {
	if err := r.Register(Descriptor{
		Name:        "create_contact",
		Description: "Create a contact record (owner, notary, craftsman, ...). Not for prospects; use create_lead for those.",
		Parameters:  llm.GenerateSchemaFrom(CreateContactParams{}),
	}, t.createContact); err != nil {
		return err
	}
	return r.Register(Descriptor{
		Name:        "find_contacts",
		Description: "Find contacts by name, email or phone fragment. Returns at most 25 matches.",
		Parameters:  llm.GenerateSchemaFrom(FindContactsParams{}),
	}, t.findContacts)
}

func (t *ContactTools) createContact(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[CreateContactParams](inv)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, NewError(KindInvalidArguments, "contact name is required")
	}

	contact := contactRecord{
		ID:      id.New(),
		Name:    strings.TrimSpace(params.Name),
		Email:   strings.TrimSpace(params.Email),
		Phone:   strings.TrimSpace(params.Phone),
		Address: strings.TrimSpace(params.Address),
	}

	row := t.db.QueryRow(ctx, `
		INSERT INTO contacts (id, tenant_id, name, email, phone, address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		contact.ID, inv.TenantID, contact.Name, contact.Email, contact.Phone, contact.Address)
	if err := row.Scan(&contact.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}

	return encode(contact)
}

func (t *ContactTools) findContacts(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[FindContactsParams](inv)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, NewError(KindInvalidArguments, "query is required")
	}

	limit := params.Limit
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	rows, err := t.db.Query(ctx, `
		SELECT id, name, email, phone, address, created_at
		FROM contacts
		WHERE tenant_id = $1
		  AND (name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%' OR phone ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC
		LIMIT $3`,
		inv.TenantID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}
	defer rows.Close()

	var contacts []contactRecord
	for rows.Next() {
		var contact contactRecord
		if err := rows.Scan(&contact.ID, &contact.Name, &contact.Email,
			&contact.Phone, &contact.Address, &contact.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}

	return encode(map[string]any{
		"count":    len(contacts),
		"contacts": contacts,
	})
}
