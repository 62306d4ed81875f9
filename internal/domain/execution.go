package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionState tracks the lifecycle of one execution attempt.
type ExecutionState string

const (
	ExecPending   ExecutionState = "pending"
	ExecBuyPlaced ExecutionState = "buy_placed"
	ExecBuyFilled ExecutionState = "buy_filled"
	ExecCompleted ExecutionState = "completed"
	ExecAborted   ExecutionState = "aborted"  // buy leg failed or partially filled
	ExecStranded  ExecutionState = "stranded" // buy filled, sell failed
)

// ExecutionAttempt records one claimed opportunity being executed. There is
// exactly one attempt per claim; the coordinator owns it for its lifetime.
type ExecutionAttempt struct {
	ID              string
	OpportunityID   string
	Symbol          string
	BuyExchange     string
	SellExchange    string
	State           ExecutionState
	BuyOrderRef     string
	SellOrderRef    string
	RequestedAmount decimal.Decimal
	FilledAmount    decimal.Decimal
	RealizedProfit  decimal.Decimal
	SlippageUSD     decimal.Decimal // estimated net profit minus realized
	Error           string
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// ExecutionResult is the outcome returned by the coordinator.
type ExecutionResult struct {
	AttemptID      string
	OpportunityID  string
	State          ExecutionState
	BuyOrderRef    string
	SellOrderRef   string
	FilledAmount   decimal.Decimal
	RealizedProfit decimal.Decimal
	SlippageUSD    decimal.Decimal
	// ProfitNegative is set when the execution completed but realized profit
	// was negative. Audit-only; the attempt is still ExecCompleted.
	ProfitNegative bool
}

// FillState is the order state carried by an acknowledgement event.
type FillState string

const (
	FillStateFilled    FillState = "filled"
	FillStatePartial   FillState = "partial"
	FillStateCancelled FillState = "cancelled"
	FillStateRejected  FillState = "rejected"
)

// FillEvent is an asynchronous confirmation from the order infrastructure.
type FillEvent struct {
	OrderRef     string          `json:"order_ref"`
	State        FillState       `json:"state"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Ack is the sink's response to a fill event. The channel contract requires an
// acknowledgement regardless of whether reconciliation matched an attempt.
type Ack struct {
	Accepted  bool   `json:"accepted"`
	Matched   bool   `json:"matched"`
	Duplicate bool   `json:"duplicate"`
	AttemptID string `json:"attempt_id,omitempty"`
}
