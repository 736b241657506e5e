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

const (
	defaultViewingMinutes = 30
	maxViewingMinutes     = 8 * 60
)

type ScheduleViewingParams struct {
	Title           string `json:"title" jsonschema:"required,description=Short title for the appointment (e.g. 'Viewing Hauptstr. 12 with A. Meyer')"`
	StartsAt        string `json:"starts_at" jsonschema:"required,description=Start time in RFC 3339 format (e.g. 2026-09-03T14:00:00+02:00)"`
	DurationMinutes int    `json:"duration_minutes,omitempty" jsonschema:"description=Duration in minutes (default 30)"`
	LeadID          int64  `json:"lead_id,omitempty" jsonschema:"description=Lead attending the appointment, if known"`
	PropertyID      int64  `json:"property_id,omitempty" jsonschema:"description=Property being viewed, if any"`
}

type ListAppointmentsParams struct {
	From  string `json:"from,omitempty" jsonschema:"description=Only appointments starting at or after this RFC 3339 time (default: now)"`
	To    string `json:"to,omitempty" jsonschema:"description=Only appointments starting before this RFC 3339 time"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max results (default 10, max 25)"`
}

type appointmentRecord struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	LeadID     *int64    `json:"lead_id,omitempty"`
	PropertyID *int64    `json:"property_id,omitempty"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
}

// CalendarTools owns the appointment capabilities.
type CalendarTools struct {
	db store.Querier
}

func NewCalendarTools(q store.Querier) *CalendarTools {
	return &CalendarTools{db: q}
}

func (t *CalendarTools) Register(r *Registry) error {
	if err := r.Register(Descriptor{
		Name:        "schedule_viewing",
		Description: "Create a viewing or other appointment. Rejects times in the past and slots overlapping an existing appointment.",
		Parameters:  llm.GenerateSchemaFrom(ScheduleViewingParams{}),
	}, t.scheduleViewing); err != nil {
		return err
	}
	return r.Register(Descriptor{
		Name:        "list_appointments",
		Description: "List upcoming appointments in a time window, earliest first.",
		Parameters:  llm.GenerateSchemaFrom(ListAppointmentsParams{}),
	}, t.listAppointments)
}

func (t *CalendarTools) scheduleViewing(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[ScheduleViewingParams](inv)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, NewError(KindInvalidArguments, "title is required")
	}

	startsAt, err := time.Parse(time.RFC3339, params.StartsAt)
	if err != nil {
		return nil, NewError(KindInvalidArguments, "starts_at must be RFC 3339 (e.g. 2026-09-03T14:00:00+02:00)")
	}
	if startsAt.Before(time.Now()) {
		return nil, NewError(KindInvalidArguments, "starts_at is in the past")
	}

	minutes := params.DurationMinutes
	if minutes <= 0 {
		minutes = defaultViewingMinutes
	}
	if minutes > maxViewingMinutes {
		return nil, NewError(KindInvalidArguments, fmt.Sprintf("duration_minutes exceeds the maximum of %d", maxViewingMinutes))
	}
	endsAt := startsAt.Add(time.Duration(minutes) * time.Minute)

	var overlapping int
	row := t.db.QueryRow(ctx, `
		SELECT count(*) FROM appointments
		WHERE tenant_id = $1 AND starts_at < $2 AND ends_at > $3`,
		inv.TenantID, endsAt, startsAt)
	if err := row.Scan(&overlapping); err != nil {
		return nil, fmt.Errorf("check appointment overlap: %w", err)
	}
	if overlapping > 0 {
		return nil, NewError(KindInvalidArguments, "the requested slot overlaps an existing appointment")
	}

	appointment := appointmentRecord{
		ID:       id.New(),
		Title:    strings.TrimSpace(params.Title),
		StartsAt: startsAt,
		EndsAt:   endsAt,
	}
	if params.LeadID != 0 {
		appointment.LeadID = &params.LeadID
	}
	if params.PropertyID != 0 {
		appointment.PropertyID = &params.PropertyID
	}

	_, err = t.db.Exec(ctx, `
		INSERT INTO appointments (id, tenant_id, lead_id, property_id, title, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		appointment.ID, inv.TenantID, appointment.LeadID, appointment.PropertyID,
		appointment.Title, appointment.StartsAt, appointment.EndsAt)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	return encode(appointment)
}

func (t *CalendarTools) listAppointments(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	params, err := decodeArgs[ListAppointmentsParams](inv)
	if err != nil {
		return nil, err
	}

	from := time.Now()
	if params.From != "" {
		from, err = time.Parse(time.RFC3339, params.From)
		if err != nil {
			return nil, NewError(KindInvalidArguments, "from must be RFC 3339")
		}
	}

	to := from.AddDate(0, 1, 0)
	if params.To != "" {
		to, err = time.Parse(time.RFC3339, params.To)
		if err != nil {
			return nil, NewError(KindInvalidArguments, "to must be RFC 3339")
		}
	}

	limit := params.Limit
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	rows, err := t.db.Query(ctx, `
		SELECT id, title, lead_id, property_id, starts_at, ends_at
		FROM appointments
		WHERE tenant_id = $1 AND starts_at >= $2 AND starts_at < $3
		ORDER BY starts_at ASC
		LIMIT $4`,
		inv.TenantID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var appointments []appointmentRecord
	for rows.Next() {
		var a appointmentRecord
		if err := rows.Scan(&a.ID, &a.Title, &a.LeadID, &a.PropertyID, &a.StartsAt, &a.EndsAt); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appointments = append(appointments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	return encode(map[string]any{
		"count":        len(appointments),
		"appointments": appointments,
	})
}
