package monitor

import (
	"time"

	"dex-engine/internal/order"
	"dex-engine/internal/routing"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventIntentAdmitted EventType = "intent_admitted"
	EventRiskRejection  EventType = "risk_rejection"
	EventRouteSelected  EventType = "route_selected"
	EventOrderTerminal  EventType = "order_terminal"
	EventStageLatency   EventType = "stage_latency"
	EventError          EventType = "error"
)

// 执行阶段名称，用于延迟统计。
const (
	StageAdmission = "admission"
	StageRouting   = "routing"
	StageBroadcast = "broadcast"
	StageConfirm   = "confirm"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// IntentAdmittedPayload 记录通过风控准入的意图。
type IntentAdmittedPayload struct {
	Intent        order.Intent `json:"intent"`
	OrderID       string       `json:"order_id"`
	ReservationID string       `json:"reservation_id"`
}

// RiskRejectionPayload 记录风控拒绝。
type RiskRejectionPayload struct {
	Intent order.Intent `json:"intent"`
	Reason string       `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// RouteSelectedPayload 记录路由评估结果。
type RouteSelectedPayload struct {
	OrderID string        `json:"order_id"`
	Primary routing.Leg   `json:"primary"`
	Legs    []routing.Leg `json:"legs"`
}

// OrderTerminalPayload 记录订单终态。
type OrderTerminalPayload struct {
	Order order.Order `json:"order"`
}

// StageLatencyPayload 记录单个执行阶段耗时。
type StageLatencyPayload struct {
	OrderID string        `json:"order_id"`
	Stage   string        `json:"stage"`
	Venue   string        `json:"venue,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
