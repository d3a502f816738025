package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridlens/ami-telemetry-worker/internal/db"
)

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertReadings writes a batch in one atomic statement. On key conflict
// (tenant_id, meter_id, interval_ts) the latest values win, so redelivered
// or overlapping jobs converge to the same final state.
func (r *Repository) UpsertReadings(ctx context.Context, readings []db.MeterReading) (int64, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	values := make([]string, 0, len(readings))
	params := make([]interface{}, 0, len(readings)*8)
	i := 1

	for _, reading := range readings {
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			i, i+1, i+2, i+3, i+4, i+5, i+6, i+7))
		i += 8
		params = append(params,
			reading.TenantID,
			reading.MeterID,
			reading.FeederID,
			reading.KWH,
			reading.Voltage,
			reading.IntervalTS,
			reading.Quality,
			now,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO meter_readings
			(tenant_id, meter_id, feeder_id, kwh, voltage, interval_ts, quality, updated_at)
		VALUES %s
		ON CONFLICT (tenant_id, meter_id, interval_ts) DO UPDATE SET
			feeder_id = EXCLUDED.feeder_id,
			kwh = EXCLUDED.kwh,
			voltage = EXCLUDED.voltage,
			quality = EXCLUDED.quality,
			updated_at = EXCLUDED.updated_at
	`, strings.Join(values, ", "))

	tag, err := r.pool.Exec(ctx, query, params...)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert readings: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ListMeterAssignments loads the meter to feeder assignment for a tenant,
// ordered by feeder then meter so batching is stable across publishes.
func (r *Repository) ListMeterAssignments(ctx context.Context, tenantID string) ([]db.MeterAssignment, error) {
	query := `
		SELECT m.id, m.feeder_id
		FROM meters m
		JOIN feeders f ON f.id = m.feeder_id
		WHERE m.tenant_id = $1
		ORDER BY m.feeder_id, m.id
	`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query meter assignments: %w", err)
	}
	defer rows.Close()

	var assignments []db.MeterAssignment
	for rows.Next() {
		var a db.MeterAssignment
		if err := rows.Scan(&a.MeterID, &a.FeederID); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return assignments, nil
}

// LastIngestTimestamp returns the most recent updated_at across the tenant's
// readings, or nil when nothing has been ingested yet.
func (r *Repository) LastIngestTimestamp(ctx context.Context, tenantID string) (*time.Time, error) {
	query := `SELECT MAX(updated_at) FROM meter_readings WHERE tenant_id = $1`

	var ts *time.Time
	if err := r.pool.QueryRow(ctx, query, tenantID).Scan(&ts); err != nil {
		return nil, fmt.Errorf("failed to query last ingest timestamp: %w", err)
	}

	return ts, nil
}

// PurgeReadings deletes all readings for a tenant. Used by the demo reset.
func (r *Repository) PurgeReadings(ctx context.Context, tenantID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM meter_readings WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge readings: %w", err)
	}
	return tag.RowsAffected(), nil
}
