package redemption

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RedemptionRequest represents an investor's request to redeem tokenized holdings
type RedemptionRequest struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	InvestorID uuid.UUID `json:"investor_id" gorm:"type:uuid;not null;index"`
	// InvestorCount is > 1 for bulk requests submitted on behalf of multiple holders
	InvestorCount int `json:"investor_count" gorm:"default:1"`

	// Redemption details
	TokenAmount              decimal.Decimal `json:"token_amount" gorm:"type:decimal(24,4);not null"`
	TokenType                string          `json:"token_type" gorm:"not null;index"`
	ConversionRate           decimal.Decimal `json:"conversion_rate" gorm:"type:decimal(18,8);default:1"`
	SourceWalletAddress      string          `json:"source_wallet_address" gorm:"not null"`
	DestinationWalletAddress string          `json:"destination_wallet_address" gorm:"not null"`
	RedemptionType           RedemptionType  `json:"redemption_type" gorm:"default:'standard';index"`

	// Approval
	Status            RequestStatus `json:"status" gorm:"default:'draft';index"`
	ApprovalConfigID  *uuid.UUID    `json:"approval_config_id" gorm:"type:uuid"`
	RequiredApprovals int           `json:"required_approvals" gorm:"default:1"`
	RejectionReason   *string       `json:"rejection_reason"`

	// Window pricing (stamped at window processing, or approval time for standard requests)
	WindowID *uuid.UUID       `json:"window_id" gorm:"type:uuid;index"`
	NAVUsed  *decimal.Decimal `json:"nav_used" gorm:"type:decimal(18,8)"`

	// DistributionID, when set, is the pool this redemption draws down
	DistributionID *uuid.UUID `json:"distribution_id" gorm:"type:uuid;index"`
	// ParentRequestID links a carryover request to the pro-rata-scaled
	// request whose unfilled remainder it represents
	ParentRequestID *uuid.UUID `json:"parent_request_id" gorm:"type:uuid;index"`

	// Optimistic concurrency
	Version int `json:"version" gorm:"default:1"`

	// Timing
	SubmittedAt *time.Time `json:"submitted_at"`
	FinalizedAt *time.Time `json:"finalized_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// RedemptionType distinguishes immediate requests from window-batched ones
type RedemptionType string

const (
	RedemptionTypeStandard RedemptionType = "standard"
	RedemptionTypeInterval RedemptionType = "interval"
)

// RequestStatus represents the lifecycle status of a redemption request
type RequestStatus string

const (
	StatusDraft           RequestStatus = "draft"
	StatusPendingApproval RequestStatus = "pending_approval"
	StatusApproved        RequestStatus = "approved"
	StatusRejected        RequestStatus = "rejected"
	StatusQueued          RequestStatus = "queued"
	StatusProcessing      RequestStatus = "processing"
	StatusSettled         RequestStatus = "settled"
	StatusFailed          RequestStatus = "failed"
	StatusCancelled       RequestStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusSettled, StatusRejected, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether an investor may still withdraw the request
func (s RequestStatus) Cancellable() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusQueued:
		return true
	}
	return false
}

// ApprovalConfig defines how approver decisions combine into a verdict
type ApprovalConfig struct {
	ID                   uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name                 string           `json:"name" gorm:"not null"`
	ConsensusType        ConsensusType    `json:"consensus_type" gorm:"not null"`
	RequiredApprovals    int              `json:"required_approvals" gorm:"default:1"`
	EligibleRoles        datatypes.JSON   `json:"eligible_roles" gorm:"default:'[]'"`
	AutoApproveThreshold *decimal.Decimal `json:"auto_approve_threshold" gorm:"type:decimal(24,4)"`
	RequiresAllApprovers bool             `json:"requires_all_approvers" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ConsensusType is the rule used to combine approver decisions
type ConsensusType string

const (
	ConsensusAll       ConsensusType = "all"
	ConsensusMajority  ConsensusType = "majority"
	ConsensusThreshold ConsensusType = "threshold"
)

// ApproverAssignment links a request to one approver; exactly one row per
// (request, approver) pair, decision written once from pending
type ApproverAssignment struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	RequestID  uuid.UUID `json:"request_id" gorm:"type:uuid;not null;uniqueIndex:idx_request_approver"`
	ApproverID uuid.UUID `json:"approver_id" gorm:"type:uuid;not null;uniqueIndex:idx_request_approver"`

	Status    DecisionStatus `json:"status" gorm:"default:'pending';index"`
	Comment   *string        `json:"comment"`
	Signature *string        `json:"signature"`
	DecidedAt *time.Time     `json:"decided_at"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// DecisionStatus represents an individual approver's decision state
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// DistributionRedemption tracks partial fulfillment of a distribution,
// many redemptions drawing down one distribution's remaining amount
type DistributionRedemption struct {
	ID             uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DistributionID uuid.UUID       `json:"distribution_id" gorm:"type:uuid;not null;index"`
	RequestID      uuid.UUID       `json:"request_id" gorm:"type:uuid;not null;index"`
	AmountRedeemed decimal.Decimal `json:"amount_redeemed" gorm:"type:decimal(24,4);not null"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Distribution is the pool a windowed redemption draws against.
// RemainingAmount is non-negative and only ever decreases.
type Distribution struct {
	ID              uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TokenType       string          `json:"token_type" gorm:"not null;index"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:decimal(24,4);not null"`
	RemainingAmount decimal.Decimal `json:"remaining_amount" gorm:"type:decimal(24,4);not null"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// AuditEntry is an append-only record of decisions and status transitions
type AuditEntry struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	EntityType string         `json:"entity_type" gorm:"not null;index"`
	EntityID   uuid.UUID      `json:"entity_id" gorm:"type:uuid;not null;index"`
	Action     string         `json:"action" gorm:"not null"`
	ActorID    *uuid.UUID     `json:"actor_id" gorm:"type:uuid"`
	Detail     datatypes.JSON `json:"detail" gorm:"default:'{}'"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// SystemActorID marks audit entries produced by the engine itself,
// e.g. the synthetic decision recorded for auto-approval
var SystemActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// BeforeCreate hooks for UUID generation
func (r *RedemptionRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (a *ApprovalConfig) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *ApproverAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (d *DistributionRedemption) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (d *Distribution) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (a *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
