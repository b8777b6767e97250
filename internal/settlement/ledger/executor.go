package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InstructionKind identifies which settlement leg an instruction belongs to
type InstructionKind string

const (
	KindBurn     InstructionKind = "burn"
	KindTransfer InstructionKind = "transfer"
)

// Instruction describes one ledger operation
type Instruction struct {
	Kind        InstructionKind
	RequestID   uuid.UUID
	TokenType   string
	Amount      decimal.Decimal
	Currency    string
	Source      string
	Destination string
	Memo        string
}

// ExecStatus is the executor's view of a submitted operation
type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecConfirmed ExecStatus = "confirmed"
	ExecFailed    ExecStatus = "failed"
)

// Result reports the outcome of a submission or status query
type Result struct {
	Status  ExecStatus
	TxHash  string
	GasUsed *int64
	Err     string
}

// Executor submits burn and transfer instructions to a blockchain or payment
// rail. Implementations are at-least-once; repeated Submit calls with the
// same idempotency key must not execute the operation twice.
type Executor interface {
	Submit(ctx context.Context, idempotencyKey string, instr Instruction) (*Result, error)
	QueryStatus(ctx context.Context, idempotencyKey string) (*Result, error)
}

// IdempotencyKey derives the stable per-leg key for a request
func IdempotencyKey(requestID uuid.UUID, kind InstructionKind) string {
	return fmt.Sprintf("%s:%s", requestID, kind)
}
