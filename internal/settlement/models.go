package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Settlement is the aggregate driving a redemption's fund movement. It owns
// two typed legs; the transfer leg can only start after the burn leg confirms,
// which keeps tokens retired before value moves.
type Settlement struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	RequestID uuid.UUID `json:"request_id" gorm:"type:uuid;not null;uniqueIndex"`

	Type   Type   `json:"type" gorm:"default:'standard'"`
	Status Status `json:"status" gorm:"default:'pending';index"`

	Burn     BurnLeg     `json:"burn" gorm:"embedded;embeddedPrefix:burn_"`
	Transfer TransferLeg `json:"transfer" gorm:"embedded;embeddedPrefix:transfer_"`

	// Pricing captured at window processing (or approval for standard
	// requests); never recomputed mid-settlement
	NAVUsed      decimal.Decimal `json:"nav_used" gorm:"type:decimal(18,8)"`
	ExchangeRate decimal.Decimal `json:"exchange_rate" gorm:"type:decimal(18,8);default:1"`

	// Retry bookkeeping
	RetryCount  int        `json:"retry_count" gorm:"default:0"`
	LastRetryAt *time.Time `json:"last_retry_at"`
	LastError   *string    `json:"last_error"`

	Version int `json:"version" gorm:"default:1"`

	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// Leg holds the state shared by both settlement legs
type Leg struct {
	Status      LegStatus  `json:"status" gorm:"default:'not_started'"`
	TxHash      *string    `json:"tx_hash"`
	SubmittedAt *time.Time `json:"submitted_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
}

// BurnLeg retires the redeemed tokens on the ledger
type BurnLeg struct {
	Leg
	GasUsed *int64 `json:"gas_used"`
}

// TransferLeg moves the redemption value to the investor
type TransferLeg struct {
	Leg
	Amount   decimal.Decimal `json:"amount" gorm:"type:decimal(24,4)"`
	Currency string          `json:"currency" gorm:"default:'USD'"`
}

// Type mirrors the redemption type of the originating request
type Type string

const (
	TypeStandard Type = "standard"
	TypeInterval Type = "interval"
)

// Status is the aggregate settlement status
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusFailedPostBurn marks the partial failure where tokens were burned
	// but value never moved; surfaced for manual intervention, never retried
	StatusFailedPostBurn Status = "failed_post_burn"
)

// IsTerminal reports whether the settlement admits no further transitions
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusFailedPostBurn:
		return true
	}
	return false
}

// LegStatus is the per-leg state machine
type LegStatus string

const (
	LegNotStarted LegStatus = "not_started"
	LegPending    LegStatus = "pending"
	LegConfirmed  LegStatus = "confirmed"
	LegFailed     LegStatus = "failed"
)

func (s *Settlement) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
