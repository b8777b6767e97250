package window

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RedemptionWindow is a time-boxed batch period: interval requests accumulate
// during the submission period, then the window is priced against a NAV
// snapshot and processed as one batch.
type RedemptionWindow struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`

	TokenType string `json:"token_type" gorm:"not null;index"`

	// Submission period: requests are admitted only while the window is open
	// and now falls within [SubmissionStart, SubmissionEnd]
	SubmissionStart time.Time `json:"submission_start" gorm:"not null"`
	SubmissionEnd   time.Time `json:"submission_end" gorm:"not null;index"`

	// Processing period
	Start time.Time `json:"start" gorm:"not null"`
	End   time.Time `json:"end" gorm:"not null"`

	Status Status `json:"status" gorm:"default:'upcoming';index"`

	// Pricing, stamped at closure and immutable afterwards
	NAV     *decimal.Decimal `json:"nav" gorm:"type:decimal(18,8)"`
	NAVDate *time.Time       `json:"nav_date"`

	// Capacity
	MaxRedemptionAmount *decimal.Decimal `json:"max_redemption_amount" gorm:"type:decimal(24,4)"`
	EnableProRata       bool             `json:"enable_pro_rata" gorm:"default:true"`
	QueueUnprocessed    bool             `json:"queue_unprocessed" gorm:"default:true"`

	// Aggregates, maintained via atomic increments
	CurrentRequests   int             `json:"current_requests" gorm:"default:0"`
	TotalRequestValue decimal.Decimal `json:"total_request_value" gorm:"type:decimal(24,4);default:0"`
	ApprovedValue     decimal.Decimal `json:"approved_value" gorm:"type:decimal(24,4);default:0"`
	QueuedValue       decimal.Decimal `json:"queued_value" gorm:"type:decimal(24,4);default:0"`
	RejectedValue     decimal.Decimal `json:"rejected_value" gorm:"type:decimal(24,4);default:0"`

	Version int `json:"version" gorm:"default:1"`

	ProcessingStartedAt *time.Time `json:"processing_started_at"`
	CompletedAt         *time.Time `json:"completed_at"`
	CreatedAt           time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// Status is the window lifecycle state
type Status string

const (
	StatusUpcoming   Status = "upcoming"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// AcceptsSubmissions reports whether a request may be attached at time t
func (w *RedemptionWindow) AcceptsSubmissions(t time.Time) bool {
	return w.Status == StatusOpen && !t.Before(w.SubmissionStart) && !t.After(w.SubmissionEnd)
}

func (w *RedemptionWindow) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
