package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"dex-engine/internal/config"
	"dex-engine/internal/market"
	"dex-engine/internal/order"
	"dex-engine/internal/routing"
	"dex-engine/internal/venue"
)

type submitStep struct {
	handle venue.SubmissionHandle
	err    error
}

type statusStep struct {
	status venue.Status
	err    error
}

// fakeConnector 按脚本顺序返回预设结果。
type fakeConnector struct {
	name        string
	submitSteps []submitStep
	statusSteps []statusStep
	submitCalls int
	statusCalls int
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) Quote(ctx context.Context, pair string) (market.Quote, error) {
	return market.Quote{}, errors.New("not used")
}

func (f *fakeConnector) Submit(ctx context.Context, spec venue.TxSpec) (venue.SubmissionHandle, error) {
	idx := f.submitCalls
	f.submitCalls++
	if idx >= len(f.submitSteps) {
		idx = len(f.submitSteps) - 1
	}
	step := f.submitSteps[idx]
	return step.handle, step.err
}

func (f *fakeConnector) Status(ctx context.Context, handle venue.SubmissionHandle) (venue.Status, error) {
	idx := f.statusCalls
	f.statusCalls++
	if idx >= len(f.statusSteps) {
		idx = len(f.statusSteps) - 1
	}
	step := f.statusSteps[idx]
	return step.status, step.err
}

func (f *fakeConnector) Cancel(ctx context.Context, handle venue.SubmissionHandle) (bool, error) {
	return false, venue.ErrCancelUnsupported
}

func newTestSubmitter() *Submitter {
	return NewSubmitter(
		config.SubmitConfig{Retry: config.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2.0,
		}},
		config.EngineConfig{
			BroadcastTimeout:    50 * time.Millisecond,
			ConfirmTimeout:      80 * time.Millisecond,
			ConfirmPollInterval: 5 * time.Millisecond,
		},
		"wallet-test",
		zap.NewNop(),
	)
}

func transientErr(v string) error {
	return venue.NewError(v, "submit", venue.ErrKindNetwork, "连接重置", nil)
}

func TestBackoffDelayGrowthAndCap(t *testing.T) {
	cfg := config.RetryConfig{
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   40 * time.Millisecond,
		Multiplier: 2.0,
	}

	if d := backoffDelay(cfg, 1); d != 10*time.Millisecond {
		t.Fatalf("attempt 1 期望 10ms，实际 %v", d)
	}
	if d := backoffDelay(cfg, 2); d != 20*time.Millisecond {
		t.Fatalf("attempt 2 期望 20ms，实际 %v", d)
	}
	if d := backoffDelay(cfg, 5); d != 40*time.Millisecond {
		t.Fatalf("attempt 5 期望封顶 40ms，实际 %v", d)
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	cfg := config.RetryConfig{
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     0.5,
	}

	for i := 0; i < 100; i++ {
		d := backoffDelay(cfg, 2)
		if d < 10*time.Millisecond || d > 30*time.Millisecond {
			t.Fatalf("抖动超出区间 [10ms,30ms]: %v", d)
		}
	}
}

func TestBuildSpecUsesRemainingAndStableRef(t *testing.T) {
	s := newTestSubmitter()
	o := order.Order{
		OrderID:         "ord-1",
		Pair:            "SOL/USDC",
		Side:            order.SideBuy,
		RequestedAmount: 10,
		FilledAmount:    4,
		MaxSlippageBps:  50,
	}
	leg := routing.Leg{Venue: "jupiter", EffectivePrice: 101.5}

	spec := s.BuildSpec(o, leg)
	if spec.Amount != 6 {
		t.Fatalf("期望提交剩余数量 6，实际 %v", spec.Amount)
	}
	if spec.ClientRef != "ord-1:jupiter" {
		t.Fatalf("幂等引用异常: %s", spec.ClientRef)
	}
	if spec.Wallet != "wallet-test" {
		t.Fatalf("钱包地址异常: %s", spec.Wallet)
	}

	again := s.BuildSpec(o, leg)
	if again.ClientRef != spec.ClientRef {
		t.Fatal("同一订单同一接入点的 ClientRef 必须稳定")
	}
}

func TestBroadcastRetriesTransientThenSucceeds(t *testing.T) {
	s := newTestSubmitter()
	conn := &fakeConnector{
		name: "jupiter",
		submitSteps: []submitStep{
			{err: transientErr("jupiter")},
			{err: transientErr("jupiter")},
			{handle: venue.SubmissionHandle{Venue: "jupiter", TxReference: "tx-1"}},
		},
	}

	res, err := s.Broadcast(context.Background(), conn, venue.TxSpec{OrderID: "ord-1"}, 0)
	if err != nil {
		t.Fatalf("广播应最终成功: %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("期望消耗 3 次尝试，实际 %d", res.Attempts)
	}
	if res.Handle.TxReference != "tx-1" {
		t.Fatalf("句柄异常: %+v", res.Handle)
	}
}

func TestBroadcastStopsOnRejection(t *testing.T) {
	s := newTestSubmitter()
	conn := &fakeConnector{
		name: "drift",
		submitSteps: []submitStep{
			{err: venue.NewError("drift", "submit", venue.ErrKindRejected, "滑点超限", nil)},
		},
	}

	res, err := s.Broadcast(context.Background(), conn, venue.TxSpec{OrderID: "ord-1"}, 0)
	if !venue.IsRejection(err) {
		t.Fatalf("期望拒绝错误，实际 %v", err)
	}
	if res.Attempts != 1 {
		t.Fatalf("拒绝不应重试，实际尝试 %d 次", res.Attempts)
	}
	if conn.submitCalls != 1 {
		t.Fatalf("接入点应只被调用一次，实际 %d", conn.submitCalls)
	}
}

func TestBroadcastExhaustsBudget(t *testing.T) {
	s := newTestSubmitter()
	conn := &fakeConnector{
		name:        "jupiter",
		submitSteps: []submitStep{{err: transientErr("jupiter")}},
	}

	res, err := s.Broadcast(context.Background(), conn, venue.TxSpec{OrderID: "ord-1"}, 2)
	if !errors.Is(err, ErrBroadcastExhausted) {
		t.Fatalf("期望 ErrBroadcastExhausted，实际 %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("尝试预算上限为 2，实际 %d", res.Attempts)
	}
}

func TestAwaitConfirmationPendingThenConfirmed(t *testing.T) {
	s := newTestSubmitter()
	fill := venue.Fill{OrderID: "ord-1", FillAmount: 10, FillPrice: 100.5, Venue: "jupiter"}
	conn := &fakeConnector{
		name: "jupiter",
		statusSteps: []statusStep{
			{status: venue.Status{Kind: venue.StatusPending}},
			{status: venue.Status{Kind: venue.StatusPending}},
			{status: venue.Status{Kind: venue.StatusConfirmed, Fill: fill}},
		},
	}

	status, err := s.AwaitConfirmation(context.Background(), conn, venue.SubmissionHandle{Venue: "jupiter", TxReference: "tx-1"})
	if err != nil {
		t.Fatalf("确认应成功: %v", err)
	}
	if status.Kind != venue.StatusConfirmed || status.Fill.FillAmount != 10 {
		t.Fatalf("确认结果异常: %+v", status)
	}
}

func TestAwaitConfirmationRejected(t *testing.T) {
	s := newTestSubmitter()
	conn := &fakeConnector{
		name: "drift",
		statusSteps: []statusStep{
			{status: venue.Status{Kind: venue.StatusRejected, Reason: "insufficient liquidity"}},
		},
	}

	status, err := s.AwaitConfirmation(context.Background(), conn, venue.SubmissionHandle{Venue: "drift"})
	if err != nil {
		t.Fatalf("拒绝是正常终态，不应报错: %v", err)
	}
	if status.Kind != venue.StatusRejected {
		t.Fatalf("期望拒绝终态，实际 %+v", status)
	}
}

func TestAwaitConfirmationTimesOut(t *testing.T) {
	s := newTestSubmitter()
	conn := &fakeConnector{
		name:        "jupiter",
		statusSteps: []statusStep{{status: venue.Status{Kind: venue.StatusPending}}},
	}

	_, err := s.AwaitConfirmation(context.Background(), conn, venue.SubmissionHandle{Venue: "jupiter", TxReference: "tx-1"})
	if !errors.Is(err, ErrConfirmTimeout) {
		t.Fatalf("期望 ErrConfirmTimeout，实际 %v", err)
	}
}

func TestAwaitConfirmationHonorsCancellation(t *testing.T) {
	s := newTestSubmitter()
	conn := &fakeConnector{
		name:        "jupiter",
		statusSteps: []statusStep{{status: venue.Status{Kind: venue.StatusPending}}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.AwaitConfirmation(ctx, conn, venue.SubmissionHandle{Venue: "jupiter"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
}

func TestNewSubmitterToleratesNilLogger(t *testing.T) {
	s := NewSubmitter(config.SubmitConfig{Retry: config.RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  2.0,
	}}, config.EngineConfig{
		BroadcastTimeout:    50 * time.Millisecond,
		ConfirmTimeout:      80 * time.Millisecond,
		ConfirmPollInterval: 5 * time.Millisecond,
	}, "wallet-test", nil)

	// 瞬时失败会走日志告警路径，nil logger 不得崩溃。
	conn := &fakeConnector{
		name: "jupiter",
		submitSteps: []submitStep{
			{err: transientErr("jupiter")},
			{handle: venue.SubmissionHandle{Venue: "jupiter", TxReference: "tx-1"}},
		},
	}

	res, err := s.Broadcast(context.Background(), conn, venue.TxSpec{OrderID: "ord-nil"}, 0)
	if err != nil {
		t.Fatalf("Broadcast returned error: %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", res.Attempts)
	}
}
