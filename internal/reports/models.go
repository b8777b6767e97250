package reports

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WindowSummary aggregates the outcome of one redemption window
type WindowSummary struct {
	WindowID        uuid.UUID        `db:"window_id" json:"window_id"`
	TokenType       string           `db:"token_type" json:"token_type"`
	Status          string           `db:"status" json:"status"`
	NAV             *decimal.Decimal `db:"nav" json:"nav"`
	NAVDate         *time.Time       `db:"nav_date" json:"nav_date"`
	SubmissionStart time.Time        `db:"submission_start" json:"submission_start"`
	SubmissionEnd   time.Time        `db:"submission_end" json:"submission_end"`
	CompletedAt     *time.Time       `db:"completed_at" json:"completed_at"`

	TotalRequests     int             `db:"total_requests" json:"total_requests"`
	TotalRequestValue decimal.Decimal `db:"total_request_value" json:"total_request_value"`
	ApprovedValue     decimal.Decimal `db:"approved_value" json:"approved_value"`
	QueuedValue       decimal.Decimal `db:"queued_value" json:"queued_value"`
	RejectedValue     decimal.Decimal `db:"rejected_value" json:"rejected_value"`

	Outcomes []OutcomeBucket `json:"outcomes"`
}

// OutcomeBucket counts requests sharing a final status within a window
type OutcomeBucket struct {
	Status     string          `db:"status" json:"status"`
	Count      int             `db:"count" json:"count"`
	TotalValue decimal.Decimal `db:"total_value" json:"total_value"`
}

// RequestRow is one request line in the window detail export
type RequestRow struct {
	RequestID        uuid.UUID        `db:"request_id" json:"request_id"`
	InvestorID       uuid.UUID        `db:"investor_id" json:"investor_id"`
	RedemptionType   string           `db:"redemption_type" json:"redemption_type"`
	Status           string           `db:"status" json:"status"`
	TokenAmount      decimal.Decimal  `db:"token_amount" json:"token_amount"`
	NAVUsed          *decimal.Decimal `db:"nav_used" json:"nav_used"`
	SettlementStatus *string          `db:"settlement_status" json:"settlement_status"`
	BurnTxHash       *string          `db:"burn_tx_hash" json:"burn_tx_hash"`
	TransferTxHash   *string          `db:"transfer_tx_hash" json:"transfer_tx_hash"`
	SubmittedAt      *time.Time       `db:"submitted_at" json:"submitted_at"`
	FinalizedAt      *time.Time       `db:"finalized_at" json:"finalized_at"`
}
