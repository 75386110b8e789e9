package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dex-engine/internal/config"
	"dex-engine/internal/order"
	"dex-engine/internal/routing"
	"dex-engine/internal/venue"
)

var (
	// ErrBroadcastExhausted 表示广播重试次数耗尽仍未成功。
	ErrBroadcastExhausted = errors.New("submit: broadcast attempts exhausted")
	// ErrConfirmTimeout 表示确认窗口内未取得终态。
	// 交易已在链上广播，调用方不得重新广播，只能转入 TimedOut。
	ErrConfirmTimeout = errors.New("submit: confirmation timed out")
)

// BroadcastResult 记录一次成功广播及其消耗的尝试次数。
type BroadcastResult struct {
	Handle   venue.SubmissionHandle
	Attempts int
}

// Submitter 负责把路由结果转换为链上交易：构造、签名、广播、轮询确认。
// 每个阶段各自持有时限预算，瞬时错误按指数退避重试。
type Submitter struct {
	retry        config.RetryConfig
	broadcastTTL time.Duration
	confirmTTL   time.Duration
	pollInterval time.Duration
	wallet       string
	logger       *zap.Logger
}

// NewSubmitter 创建提交器。
func NewSubmitter(cfg config.SubmitConfig, engine config.EngineConfig, wallet string, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		retry:        cfg.Retry,
		broadcastTTL: engine.BroadcastTimeout,
		confirmTTL:   engine.ConfirmTimeout,
		pollInterval: engine.ConfirmPollInterval,
		wallet:       wallet,
		logger:       logger,
	}
}

// BuildSpec 由订单与选中的路由腿构造交易描述。
// ClientRef 对同一订单同一接入点保持稳定，接入点据此对重复广播去重。
func (s *Submitter) BuildSpec(o order.Order, leg routing.Leg) venue.TxSpec {
	return venue.TxSpec{
		OrderID:        o.OrderID,
		Pair:           o.Pair,
		Side:           string(o.Side),
		Amount:         o.Remaining(),
		QuotePrice:     leg.EffectivePrice,
		MaxSlippageBps: o.MaxSlippageBps,
		Wallet:         s.wallet,
		ClientRef:      fmt.Sprintf("%s:%s", o.OrderID, leg.Venue),
	}
}

// Broadcast 对单个接入点执行广播，瞬时错误在预算内退避重试。
// maxAttempts 为本次调用允许消耗的尝试数上限，与全局重试配置取小。
// 返回的 Attempts 无论成败都为实际消耗数，供上层扣减订单的尝试预算。
func (s *Submitter) Broadcast(ctx context.Context, conn venue.Connector, spec venue.TxSpec, maxAttempts int) (BroadcastResult, error) {
	budget := s.retry.MaxAttempts
	if maxAttempts > 0 && maxAttempts < budget {
		budget = maxAttempts
	}
	if budget < 1 {
		budget = 1
	}

	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.broadcastTTL)
		handle, err := conn.Submit(callCtx, spec)
		cancel()

		if err == nil {
			s.logger.Info("交易已广播",
				zap.String("order_id", spec.OrderID),
				zap.String("venue", conn.Name()),
				zap.String("tx_ref", handle.TxReference),
				zap.Int("attempt", attempt))
			return BroadcastResult{Handle: handle, Attempts: attempt}, nil
		}

		// 拒绝与参数类错误重试无意义，立即上抛由路由层决定是否换腿。
		if !venue.IsRetryable(err) {
			s.logger.Warn("广播被拒绝或不可重试",
				zap.String("order_id", spec.OrderID),
				zap.String("venue", conn.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return BroadcastResult{Attempts: attempt}, err
		}

		lastErr = err
		s.logger.Warn("广播遇到瞬时错误",
			zap.String("order_id", spec.OrderID),
			zap.String("venue", conn.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == budget {
			break
		}
		if err := sleepWithContext(ctx, backoffDelay(s.retry, attempt)); err != nil {
			return BroadcastResult{Attempts: attempt}, err
		}
	}

	return BroadcastResult{Attempts: budget}, fmt.Errorf("%w: %v", ErrBroadcastExhausted, lastErr)
}

// AwaitConfirmation 轮询接入点直到交易进入终态或确认窗口耗尽。
// 窗口耗尽返回 ErrConfirmTimeout；此时交易去向未知，绝不重新广播。
func (s *Submitter) AwaitConfirmation(ctx context.Context, conn venue.Connector, handle venue.SubmissionHandle) (venue.Status, error) {
	deadline := time.Now().Add(s.confirmTTL)
	confirmCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		status, err := conn.Status(confirmCtx, handle)
		switch {
		case err != nil && !venue.IsRetryable(err):
			if confirmCtx.Err() != nil {
				return venue.Status{Kind: venue.StatusUnknown}, s.confirmResult(ctx, handle)
			}
			return venue.Status{Kind: venue.StatusUnknown}, err
		case err == nil && status.Kind == venue.StatusConfirmed:
			s.logger.Info("交易确认成交",
				zap.String("order_id", status.Fill.OrderID),
				zap.String("venue", handle.Venue),
				zap.String("tx_ref", handle.TxReference),
				zap.Float64("fill_amount", status.Fill.FillAmount),
				zap.Float64("fill_price", status.Fill.FillPrice))
			return status, nil
		case err == nil && status.Kind == venue.StatusRejected:
			s.logger.Warn("交易被接入点拒绝",
				zap.String("venue", handle.Venue),
				zap.String("tx_ref", handle.TxReference),
				zap.String("reason", status.Reason))
			return status, nil
		}

		// pending/unknown 或瞬时查询失败：等待下一轮。
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-confirmCtx.Done():
			timer.Stop()
			return venue.Status{Kind: venue.StatusUnknown}, s.confirmResult(ctx, handle)
		case <-timer.C:
		}
	}
}

// confirmResult 区分确认窗口耗尽与调用方主动取消。
func (s *Submitter) confirmResult(parent context.Context, handle venue.SubmissionHandle) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	s.logger.Warn("确认窗口耗尽，交易去向未知",
		zap.String("venue", handle.Venue),
		zap.String("tx_ref", handle.TxReference))
	return ErrConfirmTimeout
}

// sleepWithContext 按传入时长休眠，上下文取消时立即返回。
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
