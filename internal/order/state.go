package order

import "fmt"

// State 为订单生命周期状态，终态后不再变更。
type State string

const (
	StateCreated         State = "created"
	StateRouted          State = "routed"
	StateSubmitted       State = "submitted"
	StateConfirmed       State = "confirmed"
	StatePartiallyFilled State = "partially_filled"
	StateRejected        State = "rejected"
	StateCancelled       State = "cancelled"
	StateFailed          State = "failed"
	StateTimedOut        State = "timed_out"
)

// Terminal 判断状态是否为终态。
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StatePartiallyFilled, StateRejected, StateCancelled, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// transitions 列出每个状态允许的后继。
// Routed→Routed 对应备选路由重试，Submitted→Routed 对应部分成交残量重路由。
var transitions = map[State][]State{
	StateCreated:   {StateRouted, StateRejected, StateCancelled},
	StateRouted:    {StateSubmitted, StateRouted, StateFailed, StateCancelled},
	StateSubmitted: {StateConfirmed, StatePartiallyFilled, StateRouted, StateTimedOut, StateRejected},
}

// CanTransition 判断 from→to 是否为状态机中的合法迁移。
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError 表示一次非法的状态迁移请求。
type InvalidTransitionError struct {
	OrderID string
	From    State
	To      State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: 非法状态迁移 %s -> %s", e.OrderID, e.From, e.To)
}
