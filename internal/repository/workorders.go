package repository

import (
	"context"
	"fmt"

	"github.com/gridlens/ami-telemetry-worker/internal/db"
)

// InsertWorkOrder inserts a derived work order. The status lifecycle past
// "open" belongs to the field-ops service.
func (r *Repository) InsertWorkOrder(ctx context.Context, wo *db.WorkOrder) error {
	query := `
		INSERT INTO work_orders
			(id, tenant_id, event_id, feeder_id, issue_code, summary, priority, status, est_loss_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		wo.ID,
		wo.TenantID,
		wo.EventID,
		wo.FeederID,
		wo.IssueCode,
		wo.Summary,
		wo.Priority,
		wo.Status,
		wo.EstLossAmount,
		wo.CreatedAt,
		wo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert work order: %w", err)
	}

	return nil
}
