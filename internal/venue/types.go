package venue

import "time"

// TxSpec 描述一次待提交的链上交易。
type TxSpec struct {
	OrderID        string
	Pair           string
	Side           string // buy | sell
	Amount         float64
	QuotePrice     float64 // 路由时采用的报价
	MaxSlippageBps float64
	Wallet         string
	ClientRef      string // 幂等引用，重复提交同一笔交易时保持一致
}

// SubmissionHandle 标识一笔已广播的交易。
type SubmissionHandle struct {
	Venue       string
	TxReference string
	SubmittedAt time.Time
}

// Fill 表示一次确认成交，写入后不可变更。
type Fill struct {
	OrderID     string    `json:"order_id"`
	FillAmount  float64   `json:"fill_amount"`
	FillPrice   float64   `json:"fill_price"`
	Venue       string    `json:"venue"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	TxReference string    `json:"tx_reference"`
}

// StatusKind 描述交易在接入点侧的状态。
type StatusKind string

const (
	StatusPending   StatusKind = "pending"
	StatusConfirmed StatusKind = "confirmed"
	StatusRejected  StatusKind = "rejected"
	StatusUnknown   StatusKind = "unknown"
)

// Status 为状态查询结果，Confirmed 时携带成交明细。
type Status struct {
	Kind   StatusKind
	Fill   Fill
	Reason string
}
