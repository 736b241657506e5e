package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"propflow.app/assist/common/llm"
	"propflow.app/assist/common/search"
	"propflow.app/assist/internal/store"
)

type SearchPropertiesParams struct {
	Query         string  `json:"query,omitempty" jsonschema:"description=Free-text search over title, city and address"`
	City          string  `json:"city,omitempty" jsonschema:"description=Restrict to one city"`
	MaxPriceCents int64   `json:"max_price_cents,omitempty" jsonschema:"description=Upper price bound in cents"`
	MinRooms      float64 `json:"min_rooms,omitempty" jsonschema:"description=Minimum number of rooms"`
	Limit         int     `json:"limit,omitempty" jsonschema:"description=Max results (default 10, max 25)"`
}

type GetPropertyParams struct {
	PropertyID int64 `json:"property_id" jsonschema:"required,description=ID of the property to fetch"`
}

type propertyRecord struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	City          string    `json:"city"`
	Address       string    `json:"address"`
	PriceCents    int64     `json:"price_cents"`
	Rooms         float64   `json:"rooms"`
	LivingAreaSqm float64   `json:"living_area_sqm"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// PropertyTools owns the listing capabilities. The search index is optional:
// without it search_properties falls back to a Postgres scan, which is
// slower and unranked but keeps the capability available.
type PropertyTools struct {
	db     store.Querier
	search search.Client
}

func NewPropertyTools(q store.Querier, searchClient search.Client) *PropertyTools {
	return &PropertyTools{db: q, search: searchClient}
}

func (t *PropertyTools) Register(r *Registry) error {
	if err := r.Register(Descriptor{
		Name:        "search_properties",
		Description: "Search property listings by free text and filters (city, max price, min rooms). Returns active listings ranked by relevance.",
		Parameters:  llm.GenerateSchemaFrom(SearchPropertiesParams{}),
	}, t.searchProperties); err != nil {
		return err
	}
	return r.Register(Descriptor{
		Name:        "get_property",
		Description: "Fetch one property listing by ID, including price, size and status.",
		Parameters:  llm.GenerateSchemaFrom(GetPropertyParams{}),
	}, t.getProperty)
}

func (t *PropertyTools) searchProperties(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[SearchPropertiesParams](inv)
	if err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	if t.search != nil {
		listings, err := t.search.SearchListings(ctx, search.Query{
			TenantID:      inv.TenantID,
			Text:          params.Query,
			City:          params.City,
			MaxPriceCents: params.MaxPriceCents,
			MinRooms:      params.MinRooms,
			Limit:         limit,
		})
		if err == nil {
			return encode(map[string]any{
				"count":      len(listings),
				"properties": listings,
			})
		}
		// Index trouble must not take the capability down; fall back to
		// Postgres and let the operator find the warning.
		slog.WarnContext(ctx, "listing index search failed, falling back to postgres", "error", err)
	}

	properties, err := t.scanProperties(ctx, inv.TenantID, params, limit)
	if err != nil {
		return nil, err
	}
	return encode(map[string]any{
		"count":      len(properties),
		"properties": properties,
	})
}

func (t *PropertyTools) scanProperties(ctx context.Context, tenantID string, params SearchPropertiesParams, limit int) ([]propertyRecord, error) {
	query := `
		SELECT id, title, city, address, price_cents, rooms, living_area_sqm, status, created_at
		FROM properties
		WHERE tenant_id = $1
		  AND status = 'active'
		  AND ($2 = '' OR title ILIKE '%' || $2 || '%' OR city ILIKE '%' || $2 || '%' OR address ILIKE '%' || $2 || '%')
		  AND ($3 = '' OR city ILIKE $3)
		  AND ($4::bigint = 0 OR price_cents <= $4)
		  AND ($5::real = 0 OR rooms >= $5)
		ORDER BY created_at DESC
		LIMIT $6`

	rows, err := t.db.Query(ctx, query,
		tenantID, strings.TrimSpace(params.Query), strings.TrimSpace(params.City),
		params.MaxPriceCents, params.MinRooms, limit)
	if err != nil {
		return nil, fmt.Errorf("search properties: %w", err)
	}
	defer rows.Close()

	var properties []propertyRecord
	for rows.Next() {
		var p propertyRecord
		if err := rows.Scan(&p.ID, &p.Title, &p.City, &p.Address, &p.PriceCents,
			&p.Rooms, &p.LivingAreaSqm, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		properties = append(properties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search properties: %w", err)
	}
	return properties, nil
}

func (t *PropertyTools) getProperty(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[GetPropertyParams](inv)
	if err != nil {
		return nil, err
	}
	if params.PropertyID == 0 {
		return nil, NewError(KindInvalidArguments, "property_id is required")
	}

	var p propertyRecord
	row := t.db.QueryRow(ctx, `
		SELECT id, title, city, address, price_cents, rooms, living_area_sqm, status, created_at
		FROM properties
		WHERE id = $1 AND tenant_id = $2`,
		params.PropertyID, inv.TenantID)
	if err := row.Scan(&p.ID, &p.Title, &p.City, &p.Address, &p.PriceCents,
		&p.Rooms, &p.LivingAreaSqm, &p.Status, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, "property "+strconv.FormatInt(params.PropertyID, 10)+" not found")
		}
		return nil, fmt.Errorf("get property: %w", err)
	}

	return encode(p)
}
