package risk

import (
	"fmt"
	"time"
)

// RejectReason 标识准入拒绝的原因类别。
type RejectReason string

const (
	ReasonInvalidIntent RejectReason = "invalid_intent"
	ReasonUnknownPair   RejectReason = "unknown_pair"
	ReasonPositionLimit RejectReason = "position_limit"
	ReasonLeverageLimit RejectReason = "leverage_limit"
	ReasonDailyHalt     RejectReason = "daily_halt"
)

// RejectionError 表示准入被拒绝，终态且不可重试。
type RejectionError struct {
	Reason  RejectReason
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("risk: 准入拒绝 (%s): %s", e.Reason, e.Message)
}

// Reservation 表示一次已批准的风险预留。
// 订单终结时必须恰好释放一次。
type Reservation struct {
	ID        string
	AccountID string
	IntentID  string
	Amount    float64
	CreatedAt time.Time
}

// Exposure 为账户当前风险敞口快照。
type Exposure struct {
	AccountID string
	Reserved  float64
	Realized  float64
	Equity    float64
}

// Total 返回预留与已实现敞口之和。
func (e Exposure) Total() float64 {
	return e.Reserved + e.Realized
}

// DailyStatus 表示账户当日回撤风控状态。
type DailyStatus struct {
	AccountID     string
	TradingDate   string
	StartEquity   float64
	CurrentEquity float64
	LossPercent   float64
	Halted        bool
}
