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

type AttachDocumentParams struct {
	AttachmentID string `json:"attachment_id" jsonschema:"required,description=Opaque ID of the uploaded attachment from the current message"`
	Filename     string `json:"filename" jsonschema:"required,description=Original filename of the attachment"`
	MimeType     string `json:"mime_type,omitempty" jsonschema:"description=MIME type if known (e.g. application/pdf)"`
	LeadID       int64  `json:"lead_id,omitempty" jsonschema:"description=Lead to file the document under, if any"`
}

type ListDocumentsParams struct {
	LeadID int64 `json:"lead_id,omitempty" jsonschema:"description=Only documents filed under this lead"`
	Limit  int   `json:"limit,omitempty" jsonschema:"description=Max results (default 10, max 25)"`
}

type documentRecord struct {
	ID           int64     `json:"id"`
	AttachmentID string    `json:"attachment_id"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mime_type"`
	LeadID       *int64    `json:"lead_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DocumentTools owns document ingestion. These two are force-included for
// any turn carrying attachments so an upload always has a path in.
type DocumentTools struct {
	db store.Querier
}

func NewDocumentTools(q store.Querier) *DocumentTools {
	return &DocumentTools{db: q}
}

func (t *DocumentTools) Register(r *Registry) error {
	if err := r.Register(Descriptor{
		Name:        "attach_document",
		Description: "File an uploaded attachment as a document, optionally under a lead. Use for any file the user uploads.",
		Parameters:  llm.GenerateSchemaFrom(AttachDocumentParams{}),
	}, t.attachDocument); err != nil {
		return err
	}
	return r.Register(Descriptor{
		Name:        "list_documents",
		Description: "List stored documents, newest first, optionally filtered by lead.",
		Parameters:  llm.GenerateSchemaFrom(ListDocumentsParams{}),
	}, t.listDocuments)
}

func (t *DocumentTools) attachDocument(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[AttachDocumentParams](inv)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.AttachmentID) == "" {
		return nil, NewError(KindInvalidArguments, "attachment_id is required")
	}
	if strings.TrimSpace(params.Filename) == "" {
		return nil, NewError(KindInvalidArguments, "filename is required")
	}

	doc := documentRecord{
		ID:           id.New(),
		AttachmentID: strings.TrimSpace(params.AttachmentID),
		Filename:     strings.TrimSpace(params.Filename),
		MimeType:     params.MimeType,
	}
	if params.LeadID != 0 {
		doc.LeadID = &params.LeadID
	}

	row := t.db.QueryRow(ctx, `
		INSERT INTO documents (id, tenant_id, lead_id, attachment_id, filename, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		doc.ID, inv.TenantID, doc.LeadID, doc.AttachmentID, doc.Filename, doc.MimeType)
	if err := row.Scan(&doc.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	return encode(doc)
}

func (t *DocumentTools) listDocuments(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[ListDocumentsParams](inv)
	if err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	rows, err := t.db.Query(ctx, `
		SELECT id, attachment_id, filename, mime_type, lead_id, created_at
		FROM documents
		WHERE tenant_id = $1 AND ($2::bigint = 0 OR lead_id = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		inv.TenantID, params.LeadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var documents []documentRecord
	for rows.Next() {
		var doc documentRecord
		if err := rows.Scan(&doc.ID, &doc.AttachmentID, &doc.Filename,
			&doc.MimeType, &doc.LeadID, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	return encode(map[string]any{
		"count":     len(documents),
		"documents": documents,
	})
}
