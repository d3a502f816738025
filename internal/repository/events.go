package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gridlens/ami-telemetry-worker/internal/db"
)

const eventColumns = `id, tenant_id, feeder_id, event_type, severity, starts_at, ends_at, active, created_at`

// ActiveEvents returns all currently active, unexpired events for a tenant
// in creation order.
func (r *Repository) ActiveEvents(ctx context.Context, tenantID string, now time.Time) ([]db.DisruptionEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM disruption_events
		WHERE tenant_id = $1 AND active AND ends_at > $2
		ORDER BY created_at
	`, eventColumns)

	return r.queryEvents(ctx, query, tenantID, now)
}

// ActiveEventsForFeeder returns the active, unexpired events scoped to one
// feeder, in creation order. The effect engine applies them in this order.
func (r *Repository) ActiveEventsForFeeder(ctx context.Context, tenantID, feederID string, now time.Time) ([]db.DisruptionEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM disruption_events
		WHERE tenant_id = $1 AND feeder_id = $2 AND active AND ends_at > $3
		ORDER BY created_at
	`, eventColumns)

	return r.queryEvents(ctx, query, tenantID, feederID, now)
}

func (r *Repository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]db.DisruptionEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []db.DisruptionEvent
	for rows.Next() {
		var ev db.DisruptionEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.TenantID,
			&ev.FeederID,
			&ev.Type,
			&ev.Severity,
			&ev.StartsAt,
			&ev.EndsAt,
			&ev.Active,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

// HasActiveEvent reports whether an active, unexpired event of the given
// type already exists on (tenant, feeder).
func (r *Repository) HasActiveEvent(ctx context.Context, tenantID, feederID string, eventType db.EventType, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM disruption_events
			WHERE tenant_id = $1 AND feeder_id = $2 AND event_type = $3 AND active AND ends_at > $4
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, tenantID, feederID, eventType, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active event: %w", err)
	}

	return exists, nil
}

// InsertEvent inserts a disruption event. The partial unique index on
// (tenant_id, feeder_id, event_type) WHERE active makes concurrent duplicate
// candidates lose the insert race cleanly; the returned bool is false when
// the event was suppressed by an existing active one.
func (r *Repository) InsertEvent(ctx context.Context, ev *db.DisruptionEvent) (bool, error) {
	query := `
		INSERT INTO disruption_events
			(id, tenant_id, feeder_id, event_type, severity, starts_at, ends_at, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, feeder_id, event_type) WHERE active DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		ev.ID,
		ev.TenantID,
		ev.FeederID,
		ev.Type,
		ev.Severity,
		ev.StartsAt,
		ev.EndsAt,
		ev.Active,
		ev.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeactivateExpiredEvents flips active off for events whose window has
// passed. Runs at the start of each publish cycle.
func (r *Repository) DeactivateExpiredEvents(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE disruption_events SET active = false WHERE active AND ends_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeactivateActiveEvents deactivates every active event for a tenant. Used
// by the demo reset.
func (r *Repository) DeactivateActiveEvents(ctx context.Context, tenantID string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE disruption_events SET active = false WHERE tenant_id = $1 AND active`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate events: %w", err)
	}
	return tag.RowsAffected(), nil
}
