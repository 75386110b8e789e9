package order

import "time"

// Side 表示交易方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Intent 为策略端提交的交易意图，接收后只读。
// IntentID 由客户端生成，作为幂等键。
type Intent struct {
	IntentID       string    `json:"intent_id"`
	Pair           string    `json:"trading_pair"`
	Side           Side      `json:"side"`
	Amount         float64   `json:"amount"`
	MaxSlippageBps float64   `json:"max_slippage_bps"`
	Urgency        string    `json:"urgency"`
	AccountID      string    `json:"account_id"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Order 为引擎内部的订单记录，仅由 Manager 通过状态机变更。
type Order struct {
	OrderID          string    `json:"order_id"`
	IntentID         string    `json:"intent_id"`
	AccountID        string    `json:"account_id"`
	Pair             string    `json:"trading_pair"`
	Side             Side      `json:"side"`
	State            State     `json:"state"`
	ChosenVenue      string    `json:"chosen_venue"`
	RequestedAmount  float64   `json:"requested_amount"`
	FilledAmount     float64   `json:"filled_amount"`
	AvgFillPrice     float64   `json:"avg_fill_price"`
	MaxSlippageBps   float64   `json:"max_slippage_bps"`
	Urgency          string    `json:"urgency"`
	CreatedAt        time.Time `json:"created_at"`
	LastTransitionAt time.Time `json:"last_transition_at"`
	AttemptCount     int       `json:"attempt_count"`
	FailureReason    string    `json:"failure_reason,omitempty"`
}

// Remaining 返回未成交数量。
func (o Order) Remaining() float64 {
	remaining := o.RequestedAmount - o.FilledAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Event 为终态订单向组合/风控协作方发出的事件。
type Event struct {
	OrderID      string  `json:"order_id"`
	IntentID     string  `json:"intent_id"`
	AccountID    string  `json:"account_id"`
	FinalState   State   `json:"final_state"`
	FilledAmount float64 `json:"filled_amount"`
	AvgFillPrice float64 `json:"avg_fill_price"`
}
