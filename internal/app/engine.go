package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"dex-engine/internal/config"
	"dex-engine/internal/ledger"
	"dex-engine/internal/market"
	"dex-engine/internal/monitor"
	"dex-engine/internal/order"
	"dex-engine/internal/risk"
	"dex-engine/internal/routing"
	"dex-engine/internal/submit"
	"dex-engine/internal/venue"
)

var (
	// ErrNotAccepting 表示引擎已停止接收新意图（停机或系统性故障）。
	ErrNotAccepting = errors.New("engine: 已停止接收新意图")
)

// Engine 是执行引擎核心：接收意图、风控准入、路由、提交、确认，
// 并把每笔订单推进到终态。每笔订单由一个归属 goroutine 端到端负责。
type Engine struct {
	engineCfg  config.EngineConfig
	routingCfg config.RoutingConfig

	gate       *risk.Gate
	manager    *order.Manager
	selector   *routing.Selector
	cache      *market.Cache
	submitter  *submit.Submitter
	connectors map[string]venue.Connector
	ledger     *ledger.Ledger
	monitor    *monitor.Service
	logger     *zap.Logger

	queue     chan string
	sem       *semaphore.Weighted
	accepting atomic.Bool
	healthy   atomic.Bool
}

// EngineDeps 聚合引擎核心依赖。
type EngineDeps struct {
	Gate       *risk.Gate
	Manager    *order.Manager
	Selector   *routing.Selector
	Cache      *market.Cache
	Submitter  *submit.Submitter
	Connectors []venue.Connector
	Ledger     *ledger.Ledger
	Monitor    *monitor.Service
	Logger     *zap.Logger
}

// NewEngine 创建引擎核心。
func NewEngine(engineCfg config.EngineConfig, routingCfg config.RoutingConfig, deps EngineDeps) (*Engine, error) {
	if deps.Gate == nil || deps.Manager == nil || deps.Selector == nil || deps.Cache == nil ||
		deps.Submitter == nil || deps.Ledger == nil {
		return nil, errors.New("engine: 核心依赖不完整")
	}
	if len(deps.Connectors) == 0 {
		return nil, errors.New("engine: 至少需要一个接入点")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	connectors := make(map[string]venue.Connector, len(deps.Connectors))
	for _, c := range deps.Connectors {
		connectors[c.Name()] = c
	}

	e := &Engine{
		engineCfg:  engineCfg,
		routingCfg: routingCfg,
		gate:       deps.Gate,
		manager:    deps.Manager,
		selector:   deps.Selector,
		cache:      deps.Cache,
		submitter:  deps.Submitter,
		connectors: connectors,
		ledger:     deps.Ledger,
		monitor:    deps.Monitor,
		logger:     deps.Logger,
		queue:      make(chan string, engineCfg.IntentQueueSize),
		sem:        semaphore.NewWeighted(int64(engineCfg.MaxConcurrentOrders)),
	}
	e.healthy.Store(true)
	// 构造即可接收意图：Run 启动前入队的订单在任务池起来后执行。
	e.accepting.Store(true)
	return e, nil
}

// Healthy 返回引擎健康状态，供运维探针消费。
func (e *Engine) Healthy() bool {
	return e.healthy.Load()
}

// SubmitIntent 接收一条交易意图：风控准入后建单并入队执行。
// 同一 intentId 重复提交返回既有订单，不重过风控、不产生新的预留。
func (e *Engine) SubmitIntent(ctx context.Context, intent order.Intent) (order.Order, error) {
	if !e.accepting.Load() {
		return order.Order{}, ErrNotAccepting
	}

	// 至少一次投递下重复是常态：既有订单直接返回，
	// 不得按当前敞口重新评估（订单可能已占用了敞口本身）。
	if existing, ok := e.manager.GetByIntent(intent.IntentID); ok {
		return existing, nil
	}

	admitStart := time.Now()
	reservation, err := e.gate.Admit(ctx, intent)
	if err != nil {
		var rejection *risk.RejectionError
		if errors.As(err, &rejection) && e.monitor != nil {
			e.monitor.RecordRejection(ctx, intent, string(rejection.Reason), rejection.Message)
		}
		return order.Order{}, err
	}
	e.recordLatency(ctx, "", monitor.StageAdmission, "", time.Since(admitStart))

	o, created := e.manager.Create(intent, reservation.ID)
	if !created {
		// 重复投递：释放本次多余的预留，复用既有订单。
		if relErr := e.gate.Release(ctx, reservation.ID, false); relErr != nil {
			e.logger.Warn("释放重复预留失败",
				zap.String("intent_id", intent.IntentID),
				zap.Error(relErr))
		}
		return o, nil
	}

	if e.monitor != nil {
		e.monitor.RecordAdmission(ctx, intent, o.OrderID, reservation.ID)
	}

	select {
	case e.queue <- o.OrderID:
		return o, nil
	case <-ctx.Done():
		// 入队失败，订单就地终结以归还预留。
		_, _ = e.manager.Transition(context.Background(), o.OrderID, order.StateRejected,
			order.WithReason("接收队列不可用"))
		return order.Order{}, ctx.Err()
	}
}

// Cancel 登记撤销请求。已广播的订单拒绝撤销。
func (e *Engine) Cancel(orderID string) error {
	return e.manager.RequestCancel(orderID)
}

// Run 驱动执行任务池直至上下文取消，随后在限期内排空在途订单。
func (e *Engine) Run(ctx context.Context) error {
	defer e.accepting.Store(false)

	for {
		select {
		case <-ctx.Done():
			return e.drain()
		case orderID := <-e.queue:
			if err := e.sem.Acquire(ctx, 1); err != nil {
				// 停机窗口内仍要把已入队的订单推到终态。
				e.finish(context.Background(), orderID, order.StateRejected, order.WithReason("引擎停机"))
				return e.drain()
			}
			go func(id string) {
				defer e.sem.Release(1)
				e.execute(id)
			}(orderID)
		}
	}
}

// drain 等待所有在途订单终结，超出限期则放弃等待并上报。
// 已入队但尚未启动的订单就地终结，保证预留不悬挂。
func (e *Engine) drain() error {
	e.accepting.Store(false)

	for {
		select {
		case orderID := <-e.queue:
			e.finish(context.Background(), orderID, order.StateRejected, order.WithReason("引擎停机"))
			continue
		default:
		}
		break
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), e.engineCfg.DrainTimeout)
	defer cancel()

	if err := e.sem.Acquire(drainCtx, int64(e.engineCfg.MaxConcurrentOrders)); err != nil {
		e.logger.Error("排空在途订单超时", zap.Error(err))
		return fmt.Errorf("engine: 排空在途订单超时: %w", err)
	}
	e.sem.Release(int64(e.engineCfg.MaxConcurrentOrders))

	e.logger.Info("引擎已排空全部在途订单")
	return nil
}

// execute 为订单的归属任务：从 Created 推进至终态。
// 路由与提交阶段之间观察撤销标志；广播之后不再受理撤销。
func (e *Engine) execute(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.engineCfg.OrderTimeout)
	defer cancel()

	for {
		o, ok := e.manager.Get(orderID)
		if !ok {
			e.logger.Error("归属任务找不到订单", zap.String("order_id", orderID))
			return
		}
		if o.State.Terminal() {
			return
		}

		if e.manager.CancelRequested(orderID) {
			e.finish(ctx, orderID, order.StateCancelled, order.WithReason("客户端撤销"))
			return
		}

		// 路由阶段。
		routeStart := time.Now()
		quotes := e.cache.GetPair(o.Pair)
		route, err := e.selector.SelectRoute(o, quotes, time.Now())
		e.recordLatency(ctx, orderID, monitor.StageRouting, "", time.Since(routeStart))
		if err != nil {
			if o.State == order.StateCreated {
				e.finish(ctx, orderID, order.StateRejected, order.WithReason("无可用路由"))
			} else {
				e.finish(ctx, orderID, order.StateFailed, order.WithReason("残量无可用路由"))
			}
			return
		}

		if o, err = e.manager.Transition(ctx, orderID, order.StateRouted,
			order.WithVenue(route.Primary().Venue)); err != nil {
			e.systemic(ctx, orderID, "路由状态迁移失败", err)
			return
		}
		if e.monitor != nil {
			e.monitor.RecordRoute(ctx, orderID, route)
		}

		done, rerouted := e.submitRoute(ctx, o, route)
		if done {
			return
		}
		if !rerouted {
			return
		}
		// 部分成交且策略为 reroute：带着残量回到路由阶段。
	}
}

// submitRoute 依次尝试路由腿，处理广播与确认。
// 返回 done 表示订单已终结；rerouted 表示残量需要重新路由。
func (e *Engine) submitRoute(ctx context.Context, o order.Order, route routing.Route) (done, rerouted bool) {
	budget := e.routingCfg.MaxAttempts - o.AttemptCount

	for _, leg := range route.Legs {
		if budget <= 0 {
			break
		}
		if e.manager.CancelRequested(o.OrderID) {
			e.finish(ctx, o.OrderID, order.StateCancelled, order.WithReason("客户端撤销"))
			return true, false
		}

		conn, ok := e.connectors[leg.Venue]
		if !ok {
			e.logger.Error("路由选中了未注册的接入点",
				zap.String("order_id", o.OrderID),
				zap.String("venue", leg.Venue))
			continue
		}

		spec := e.submitter.BuildSpec(o, leg)
		broadcastStart := time.Now()
		res, err := e.submitter.Broadcast(ctx, conn, spec, budget)
		budget -= res.Attempts
		e.recordLatency(ctx, o.OrderID, monitor.StageBroadcast, leg.Venue, time.Since(broadcastStart))

		if err != nil {
			if ctx.Err() != nil {
				e.finish(ctx, o.OrderID, order.StateFailed,
					order.WithAttempts(res.Attempts), order.WithReason("订单时限耗尽"))
				return true, false
			}
			// 换腿前把消耗的尝试记到订单上，Routed→Routed 为合法迁移。
			var terr error
			if o, terr = e.manager.Transition(ctx, o.OrderID, order.StateRouted,
				order.WithAttempts(res.Attempts)); terr != nil {
				e.systemic(ctx, o.OrderID, "记录提交尝试失败", terr)
				return true, false
			}
			continue
		}

		var terr error
		if o, terr = e.manager.Transition(ctx, o.OrderID, order.StateSubmitted,
			order.WithVenue(leg.Venue), order.WithAttempts(res.Attempts)); terr != nil {
			e.systemic(ctx, o.OrderID, "广播状态迁移失败", terr)
			return true, false
		}

		return e.awaitOutcome(ctx, o, conn, leg, res.Handle)
	}

	e.finish(ctx, o.OrderID, order.StateFailed, order.WithReason("提交尝试耗尽"))
	return true, false
}

// awaitOutcome 等待确认并落定终态。此后撤销请求一律拒绝。
func (e *Engine) awaitOutcome(ctx context.Context, o order.Order, conn venue.Connector, leg routing.Leg, handle venue.SubmissionHandle) (done, rerouted bool) {
	confirmStart := time.Now()
	status, err := e.submitter.AwaitConfirmation(ctx, conn, handle)
	e.recordLatency(ctx, o.OrderID, monitor.StageConfirm, leg.Venue, time.Since(confirmStart))

	if err != nil {
		// 交易已广播，去向未知：只能转入 TimedOut，绝不重新广播。
		reason := "确认超时"
		if !errors.Is(err, submit.ErrConfirmTimeout) {
			reason = fmt.Sprintf("确认中断: %v", err)
		}
		e.finish(ctx, o.OrderID, order.StateTimedOut, order.WithReason(reason))
		return true, false
	}

	switch status.Kind {
	case venue.StatusRejected:
		e.finish(ctx, o.OrderID, order.StateRejected, order.WithReason(status.Reason))
		return true, false

	case venue.StatusConfirmed:
		fill := status.Fill
		fill.OrderID = o.OrderID
		if fill.Venue == "" {
			fill.Venue = leg.Venue
		}
		if appendErr := e.ledger.AppendFill(ctx, fill); appendErr != nil {
			e.systemic(ctx, o.OrderID, "写入成交记录失败", appendErr)
			return true, false
		}

		if fill.FillAmount >= o.Remaining() {
			e.finish(ctx, o.OrderID, order.StateConfirmed,
				order.WithFill(fill.FillAmount, fill.FillPrice))
			return true, false
		}

		// 部分成交：按残量策略终结或重新路由。
		if e.routingCfg.ResidualPolicy == config.ResidualPolicyReroute {
			if _, terr := e.manager.Transition(ctx, o.OrderID, order.StateRouted,
				order.WithFill(fill.FillAmount, fill.FillPrice)); terr != nil {
				e.systemic(ctx, o.OrderID, "残量重路由迁移失败", terr)
				return true, false
			}
			return false, true
		}
		e.finish(ctx, o.OrderID, order.StatePartiallyFilled,
			order.WithFill(fill.FillAmount, fill.FillPrice))
		return true, false

	default:
		e.finish(ctx, o.OrderID, order.StateTimedOut, order.WithReason("确认结果未知"))
		return true, false
	}
}

// finish 把订单推进到指定终态；迁移失败升级为系统性故障。
// 终态副作用（释放预留、写账本）不随订单时限一起失效。
func (e *Engine) finish(ctx context.Context, orderID string, to order.State, opts ...order.TransitionOption) {
	ctx = context.WithoutCancel(ctx)
	o, err := e.manager.Transition(ctx, orderID, to, opts...)
	if err != nil {
		e.systemic(ctx, orderID, "终态迁移失败", err)
		return
	}
	if e.monitor != nil {
		e.monitor.RecordTerminal(ctx, o)
	}
}

// systemic 处理系统性故障：停止接收新意图并标记不健康。
// 在途订单继续排空到各自的自然终态。
func (e *Engine) systemic(ctx context.Context, orderID, msg string, err error) {
	e.accepting.Store(false)
	e.healthy.Store(false)
	e.logger.Error("系统性故障，停止接收新意图",
		zap.String("order_id", orderID),
		zap.String("cause", msg),
		zap.Error(err))
	if e.monitor != nil {
		e.monitor.RecordError(ctx, msg, err, map[string]interface{}{"order_id": orderID})
	}
}

func (e *Engine) recordLatency(ctx context.Context, orderID, stage, venueName string, elapsed time.Duration) {
	if e.monitor == nil {
		return
	}
	e.monitor.RecordStageLatency(ctx, orderID, stage, venueName, elapsed)
}
