package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
)

// Repository is the reporting read model; queries run over the same Postgres
// schema the domain packages write through gorm
type Repository interface {
	GetWindowSummary(ctx context.Context, windowID uuid.UUID) (*WindowSummary, error)
	ListWindowRequests(ctx context.Context, windowID uuid.UUID) ([]RequestRow, error)
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetWindowSummary(ctx context.Context, windowID uuid.UUID) (*WindowSummary, error) {
	query := `
		SELECT id AS window_id, token_type, status, nav, nav_date,
		       submission_start, submission_end, completed_at,
		       current_requests AS total_requests, total_request_value,
		       approved_value, queued_value, rejected_value
		FROM redemption_windows
		WHERE id = $1
	`

	var summary WindowSummary
	if err := r.db.GetContext(ctx, &summary, query, windowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, redemption.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load window summary: %w", err)
	}

	outcomeQuery := `
		SELECT status, COUNT(*) AS count, COALESCE(SUM(token_amount), 0) AS total_value
		FROM redemption_requests
		WHERE window_id = $1
		GROUP BY status
		ORDER BY status
	`
	if err := r.db.SelectContext(ctx, &summary.Outcomes, outcomeQuery, windowID); err != nil {
		return nil, fmt.Errorf("failed to aggregate window outcomes: %w", err)
	}

	return &summary, nil
}

func (r *PostgresRepository) ListWindowRequests(ctx context.Context, windowID uuid.UUID) ([]RequestRow, error) {
	query := `
		SELECT rr.id AS request_id, rr.investor_id, rr.redemption_type, rr.status,
		       rr.token_amount, rr.nav_used, rr.submitted_at, rr.finalized_at,
		       s.status AS settlement_status, s.burn_tx_hash, s.transfer_tx_hash
		FROM redemption_requests rr
		LEFT JOIN settlements s ON s.request_id = rr.id
		WHERE rr.window_id = $1
		ORDER BY rr.id ASC
	`

	var rows []RequestRow
	if err := r.db.SelectContext(ctx, &rows, query, windowID); err != nil {
		return nil, fmt.Errorf("failed to list window requests: %w", err)
	}
	return rows, nil
}
