package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"
)

var ErrNotConfigured = errors.New("search backend not configured")

// Listing is the denormalized property document kept in the search index.
// Postgres stays the source of truth; the index holds just what ranking and
// filtering need.
type Listing struct {
	ID            string  `json:"id"`
	TenantID      string  `json:"tenant_id"`
	Title         string  `json:"title"`
	City          string  `json:"city"`
	Address       string  `json:"address"`
	PriceCents    int64   `json:"price_cents"`
	Rooms         float64 `json:"rooms"`
	LivingAreaSqm float64 `json:"living_area_sqm"`
	Status        string  `json:"status"`
}

// Query is one tenant-scoped listing search. Zero values mean "no filter".
type Query struct {
	TenantID      string
	Text          string
	City          string
	MaxPriceCents int64
	MinRooms      float64
	Limit         int
}

type Client interface {
	EnsureCollection(ctx context.Context) error
	UpsertListings(ctx context.Context, listings []Listing) error
	SearchListings(ctx context.Context, q Query) ([]Listing, error)
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("typesense URL is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("typesense API key is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("typesense collection name is required")
	}
	return nil
}

type client struct {
	ts  *typesense.Client
	cfg Config
}

func New(cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("typesense config: %w", err)
	}

	ts := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)

	return &client{ts: ts, cfg: cfg}, nil
}

func (c *client) EnsureCollection(ctx context.Context) error {
	start := time.Now()

	if _, err := c.ts.Collection(c.cfg.Collection).Retrieve(ctx); err == nil {
		return nil
	}

	schema := &api.CollectionSchema{
		Name: c.cfg.Collection,
		Fields: []api.Field{
			{Name: "tenant_id", Type: "string", Facet: pointer.True()},
			{Name: "title", Type: "string"},
			{Name: "city", Type: "string", Facet: pointer.True()},
			{Name: "address", Type: "string"},
			{Name: "price_cents", Type: "int64"},
			{Name: "rooms", Type: "float"},
			{Name: "living_area_sqm", Type: "float"},
			{Name: "status", Type: "string", Facet: pointer.True()},
		},
	}

	if _, err := c.ts.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("create collection %q: %w", c.cfg.Collection, err)
	}

	slog.InfoContext(ctx, "typesense collection created",
		"collection", c.cfg.Collection,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *client) UpsertListings(ctx context.Context, listings []Listing) error {
	docs := c.ts.Collection(c.cfg.Collection).Documents()
	for _, listing := range listings {
		if _, err := docs.Upsert(ctx, listing, &api.DocumentIndexParameters{}); err != nil {
			return fmt.Errorf("upsert listing %s: %w", listing.ID, err)
		}
	}
	return nil
}

func (c *client) SearchListings(ctx context.Context, q Query) ([]Listing, error) {
	if q.TenantID == "" {
		return nil, fmt.Errorf("tenant scope is required for listing search")
	}

	limit := q.Limit
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	text := strings.TrimSpace(q.Text)
	if text == "" {
		text = "*"
	}

	params := &api.SearchCollectionParams{
		Q:        pointer.String(text),
		QueryBy:  pointer.String("title,city,address"),
		FilterBy: pointer.String(buildFilter(q)),
		PerPage:  pointer.Int(limit),
	}

	result, err := c.ts.Collection(c.cfg.Collection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}

	if result.Hits == nil {
		return nil, nil
	}

	listings := make([]Listing, 0, len(*result.Hits))
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		listings = append(listings, listingFromDocument(*hit.Document))
	}
	return listings, nil
}

func buildFilter(q Query) string {
	filters := []string{fmt.Sprintf("tenant_id:=%s", q.TenantID)}
	if q.City != "" {
		filters = append(filters, fmt.Sprintf("city:=%s", q.City))
	}
	if q.MaxPriceCents > 0 {
		filters = append(filters, fmt.Sprintf("price_cents:<=%d", q.MaxPriceCents))
	}
	if q.MinRooms > 0 {
		filters = append(filters, fmt.Sprintf("rooms:>=%g", q.MinRooms))
	}
	return strings.Join(filters, " && ")
}

func listingFromDocument(doc map[string]any) Listing {
	listing := Listing{
		ID:       str(doc["id"]),
		TenantID: str(doc["tenant_id"]),
		Title:    str(doc["title"]),
		City:     str(doc["city"]),
		Address:  str(doc["address"]),
		Status:   str(doc["status"]),
	}
	listing.PriceCents = int64(num(doc["price_cents"]))
	listing.Rooms = num(doc["rooms"])
	listing.LivingAreaSqm = num(doc["living_area_sqm"])
	return listing
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
