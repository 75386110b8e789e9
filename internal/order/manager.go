package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrUnknownOrder 表示订单不存在。
	ErrUnknownOrder = errors.New("order: 订单不存在")
	// ErrCancelAfterBroadcast 表示交易已广播，撤销请求被拒绝。
	ErrCancelAfterBroadcast = errors.New("order: 交易已广播，无法撤销")
	// ErrAlreadyTerminal 表示订单已处于终态。
	ErrAlreadyTerminal = errors.New("order: 订单已终结")
)

// ReservationReleaser 在订单终结时释放风控预留。
type ReservationReleaser interface {
	Release(ctx context.Context, reservationID string, success bool) error
}

// TerminalRecorder 在订单终结时写入执行账本。
type TerminalRecorder interface {
	RecordTerminal(ctx context.Context, o Order) error
}

// EventSink 接收终态订单事件。
type EventSink func(Event)

// managedOrder 将订单与其归属的同步状态绑定，迁移按单持锁串行化。
type managedOrder struct {
	mu              sync.Mutex
	order           Order
	reservationID   string
	cancelRequested bool
	released        bool
}

// Manager 是订单状态的唯一持有者。
// 同一订单的状态迁移严格串行，不同订单互不阻塞。
type Manager struct {
	mu       sync.Mutex
	byIntent map[string]*managedOrder
	byID     map[string]*managedOrder

	releaser ReservationReleaser
	recorder TerminalRecorder
	events   EventSink
	logger   *zap.Logger
}

// NewManager 创建订单管理器。
func NewManager(releaser ReservationReleaser, recorder TerminalRecorder, events EventSink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = func(Event) {}
	}
	return &Manager{
		byIntent: make(map[string]*managedOrder),
		byID:     make(map[string]*managedOrder),
		releaser: releaser,
		recorder: recorder,
		events:   events,
		logger:   logger,
	}
}

// Create 为已通过风控的意图创建订单。
// 同一 intentId 重复提交时返回既有订单，created 为 false。
func (m *Manager) Create(intent Intent, reservationID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byIntent[intent.IntentID]; ok {
		existing.mu.Lock()
		snapshot := existing.order
		existing.mu.Unlock()
		return snapshot, false
	}

	now := time.Now().UTC()
	mo := &managedOrder{
		order: Order{
			OrderID:          uuid.NewString(),
			IntentID:         intent.IntentID,
			AccountID:        intent.AccountID,
			Pair:             intent.Pair,
			Side:             intent.Side,
			State:            StateCreated,
			RequestedAmount:  intent.Amount,
			MaxSlippageBps:   intent.MaxSlippageBps,
			Urgency:          intent.Urgency,
			CreatedAt:        now,
			LastTransitionAt: now,
		},
		reservationID: reservationID,
	}

	m.byIntent[intent.IntentID] = mo
	m.byID[mo.order.OrderID] = mo

	m.logger.Info("订单已创建",
		zap.String("order_id", mo.order.OrderID),
		zap.String("intent_id", intent.IntentID),
		zap.String("pair", intent.Pair),
		zap.Float64("amount", intent.Amount),
	)

	return mo.order, true
}

// Get 返回订单快照。
func (m *Manager) Get(orderID string) (Order, bool) {
	mo, ok := m.lookup(orderID)
	if !ok {
		return Order{}, false
	}
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.order, true
}

// GetByIntent 按意图 ID 返回订单快照，供重复投递在准入前识别既有订单。
func (m *Manager) GetByIntent(intentID string) (Order, bool) {
	m.mu.Lock()
	mo, ok := m.byIntent[intentID]
	m.mu.Unlock()
	if !ok {
		return Order{}, false
	}
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.order, true
}

// RequestCancel 登记撤销请求，由订单归属任务在挂起点之间观察。
// 已广播（Submitted）或已终结的订单拒绝撤销。
func (m *Manager) RequestCancel(orderID string) error {
	mo, ok := m.lookup(orderID)
	if !ok {
		return ErrUnknownOrder
	}

	mo.mu.Lock()
	defer mo.mu.Unlock()

	if mo.order.State.Terminal() {
		return ErrAlreadyTerminal
	}
	if mo.order.State == StateSubmitted {
		return ErrCancelAfterBroadcast
	}

	mo.cancelRequested = true
	return nil
}

// CancelRequested 返回订单是否存在未处理的撤销请求。
func (m *Manager) CancelRequested(orderID string) bool {
	mo, ok := m.lookup(orderID)
	if !ok {
		return false
	}
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.cancelRequested
}

// TransitionOption 在迁移时附带订单字段变更。
type TransitionOption func(*Order)

// WithVenue 记录本次路由选中的接入点。
func WithVenue(venueName string) TransitionOption {
	return func(o *Order) {
		o.ChosenVenue = venueName
	}
}

// WithAttempt 累计提交尝试次数。
func WithAttempt() TransitionOption {
	return WithAttempts(1)
}

// WithAttempts 一次累计多次提交尝试。
func WithAttempts(n int) TransitionOption {
	return func(o *Order) {
		if n > 0 {
			o.AttemptCount += n
		}
	}
}

// WithFill 累加成交并维护加权均价。
func WithFill(amount, price float64) TransitionOption {
	return func(o *Order) {
		if amount <= 0 {
			return
		}
		if amount > o.Remaining() {
			amount = o.Remaining()
		}
		total := o.FilledAmount + amount
		if total > 0 {
			o.AvgFillPrice = (o.AvgFillPrice*o.FilledAmount + price*amount) / total
		}
		o.FilledAmount = total
	}
}

// WithReason 记录终结原因。
func WithReason(reason string) TransitionOption {
	return func(o *Order) {
		o.FailureReason = reason
	}
}

// Transition 应用一次状态迁移。
// 迁移至终态时恰好释放一次风控预留、写一次账本并发出一次事件。
func (m *Manager) Transition(ctx context.Context, orderID string, to State, opts ...TransitionOption) (Order, error) {
	mo, ok := m.lookup(orderID)
	if !ok {
		return Order{}, ErrUnknownOrder
	}

	mo.mu.Lock()
	defer mo.mu.Unlock()

	from := mo.order.State
	if from.Terminal() {
		return mo.order, fmt.Errorf("%w: %s", ErrAlreadyTerminal, from)
	}
	if !CanTransition(from, to) {
		return mo.order, &InvalidTransitionError{OrderID: orderID, From: from, To: to}
	}

	for _, opt := range opts {
		opt(&mo.order)
	}
	mo.order.State = to
	mo.order.LastTransitionAt = time.Now().UTC()

	m.logger.Debug("订单状态迁移",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	if !to.Terminal() {
		return mo.order, nil
	}

	return mo.order, m.finalizeLocked(ctx, mo)
}

// finalizeLocked 执行终态副作用，调用方必须持有 mo.mu。
func (m *Manager) finalizeLocked(ctx context.Context, mo *managedOrder) error {
	o := mo.order

	if !mo.released && mo.reservationID != "" {
		success := o.State == StateConfirmed || o.State == StatePartiallyFilled
		if err := m.releaser.Release(ctx, mo.reservationID, success); err != nil {
			m.logger.Error("释放风控预留失败",
				zap.String("order_id", o.OrderID),
				zap.String("reservation_id", mo.reservationID),
				zap.Error(err),
			)
		}
		mo.released = true
	}

	m.events(Event{
		OrderID:      o.OrderID,
		IntentID:     o.IntentID,
		AccountID:    o.AccountID,
		FinalState:   o.State,
		FilledAmount: o.FilledAmount,
		AvgFillPrice: o.AvgFillPrice,
	})

	if err := m.recorder.RecordTerminal(ctx, o); err != nil {
		return fmt.Errorf("order: 写入执行账本失败: %w", err)
	}

	m.logger.Info("订单已终结",
		zap.String("order_id", o.OrderID),
		zap.String("state", string(o.State)),
		zap.Float64("filled", o.FilledAmount),
		zap.Int("attempts", o.AttemptCount),
	)

	return nil
}

func (m *Manager) lookup(orderID string) (*managedOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mo, ok := m.byID[orderID]
	return mo, ok
}
