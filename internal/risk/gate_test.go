package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"dex-engine/internal/config"
	"dex-engine/internal/order"
	"dex-engine/internal/store"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSize:     100,
		MaxLeverage:         3,
		MaxDailyLoss:        0.03,
		EnableDailyStopLoss: true,
		KnownPairs:          []string{"SOL/USDC", "ORCA/USDC", "RAY/USDC"},
	}
}

func newTestGate(t *testing.T, cfg config.RiskConfig) *Gate {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("初始化内存数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	gate, err := NewGate(cfg, st, nil)
	if err != nil {
		t.Fatalf("初始化风控准入失败: %v", err)
	}
	return gate
}

func gateIntent(id string, amount float64) order.Intent {
	return order.Intent{
		IntentID:       id,
		Pair:           "SOL/USDC",
		Side:           order.SideBuy,
		Amount:         amount,
		MaxSlippageBps: 50,
		AccountID:      "acct-1",
	}
}

func TestAdmitShapeValidation(t *testing.T) {
	g := newTestGate(t, testRiskConfig())
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*order.Intent)
		reason RejectReason
	}{
		{"empty intent id", func(i *order.Intent) { i.IntentID = "" }, ReasonInvalidIntent},
		{"empty account", func(i *order.Intent) { i.AccountID = "" }, ReasonInvalidIntent},
		{"zero amount", func(i *order.Intent) { i.Amount = 0 }, ReasonInvalidIntent},
		{"negative amount", func(i *order.Intent) { i.Amount = -5 }, ReasonInvalidIntent},
		{"bad side", func(i *order.Intent) { i.Side = "hold" }, ReasonInvalidIntent},
		{"negative slippage", func(i *order.Intent) { i.MaxSlippageBps = -1 }, ReasonInvalidIntent},
		{"unknown pair", func(i *order.Intent) { i.Pair = "DOGE/USDC" }, ReasonUnknownPair},
	}

	for _, tc := range cases {
		intent := gateIntent("intent-1", 10)
		tc.mutate(&intent)

		_, err := g.Admit(ctx, intent)
		var rejection *RejectionError
		if !errors.As(err, &rejection) {
			t.Errorf("%s: expected RejectionError, got %v", tc.name, err)
			continue
		}
		if rejection.Reason != tc.reason {
			t.Errorf("%s: expected reason %s, got %s", tc.name, tc.reason, rejection.Reason)
		}
	}
}

func TestAdmitReservesAndReleases(t *testing.T) {
	g := newTestGate(t, testRiskConfig())
	ctx := context.Background()

	res, err := g.Admit(ctx, gateIntent("intent-1", 40))
	if err != nil {
		t.Fatalf("Admit returned error: %v", err)
	}
	if res.Amount != 40 || res.AccountID != "acct-1" {
		t.Fatalf("unexpected reservation: %+v", res)
	}

	exposure := g.CurrentExposure("acct-1")
	if exposure.Reserved != 40 || exposure.Realized != 0 {
		t.Fatalf("unexpected exposure after admit: %+v", exposure)
	}

	// 失败释放：额度归还。
	if err := g.Release(ctx, res.ID, false); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	exposure = g.CurrentExposure("acct-1")
	if exposure.Total() != 0 {
		t.Fatalf("expected zero exposure after failed release, got %+v", exposure)
	}

	// 成功释放：预留转为已实现。
	res2, _ := g.Admit(ctx, gateIntent("intent-2", 40))
	if err := g.Release(ctx, res2.ID, true); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	exposure = g.CurrentExposure("acct-1")
	if exposure.Reserved != 0 || exposure.Realized != 40 {
		t.Fatalf("expected realized 40, got %+v", exposure)
	}
}

func TestReleaseExactlyOnce(t *testing.T) {
	g := newTestGate(t, testRiskConfig())
	ctx := context.Background()

	res, _ := g.Admit(ctx, gateIntent("intent-1", 10))
	if err := g.Release(ctx, res.ID, false); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if err := g.Release(ctx, res.ID, false); !errors.Is(err, ErrUnknownReservation) {
		t.Fatalf("second release must fail with ErrUnknownReservation, got %v", err)
	}
}

func TestAdmitPositionLimit(t *testing.T) {
	g := newTestGate(t, testRiskConfig())
	ctx := context.Background()

	if _, err := g.Admit(ctx, gateIntent("intent-1", 80)); err != nil {
		t.Fatalf("first admit failed: %v", err)
	}

	_, err := g.Admit(ctx, gateIntent("intent-2", 30))
	var rejection *RejectionError
	if !errors.As(err, &rejection) || rejection.Reason != ReasonPositionLimit {
		t.Fatalf("expected position limit rejection, got %v", err)
	}

	// 拒绝不改变敞口。
	if exposure := g.CurrentExposure("acct-1"); exposure.Total() != 80 {
		t.Fatalf("rejection must not change exposure, got %+v", exposure)
	}
}

func TestAdmitLeverageLimit(t *testing.T) {
	g := newTestGate(t, testRiskConfig())
	ctx := context.Background()

	if _, err := g.UpdateEquity(ctx, "acct-1", 10); err != nil {
		t.Fatalf("UpdateEquity returned error: %v", err)
	}

	// 敞口 40 / 净值 10 = 4 倍杠杆，超过上限 3。
	_, err := g.Admit(ctx, gateIntent("intent-1", 40))
	var rejection *RejectionError
	if !errors.As(err, &rejection) || rejection.Reason != ReasonLeverageLimit {
		t.Fatalf("expected leverage rejection, got %v", err)
	}

	if _, err := g.Admit(ctx, gateIntent("intent-2", 20)); err != nil {
		t.Fatalf("within-leverage admit failed: %v", err)
	}
}

func TestConcurrentAdmitsConserveLimit(t *testing.T) {
	g := newTestGate(t, testRiskConfig())
	ctx := context.Background()

	// 32 个并发意图各 10，上限 100：最多 10 个获批。
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			intent := gateIntent(fmt.Sprintf("intent-%d", n), 10)
			if _, err := g.Admit(ctx, intent); err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if approved != 10 {
		t.Fatalf("expected exactly 10 approvals, got %d", approved)
	}
	if exposure := g.CurrentExposure("acct-1"); exposure.Total() != 100 {
		t.Fatalf("expected exposure exactly at limit, got %+v", exposure)
	}
}

func TestDailyHaltBlocksAdmission(t *testing.T) {
	g := newTestGate(t, testRiskConfig())
	ctx := context.Background()

	if _, err := g.UpdateEquity(ctx, "acct-1", 1000); err != nil {
		t.Fatalf("UpdateEquity returned error: %v", err)
	}
	status, err := g.UpdateEquity(ctx, "acct-1", 960)
	if err != nil {
		t.Fatalf("UpdateEquity returned error: %v", err)
	}
	if !status.Halted {
		t.Fatalf("4%% drawdown must trigger halt, got %+v", status)
	}

	_, err = g.Admit(ctx, gateIntent("intent-1", 10))
	var rejection *RejectionError
	if !errors.As(err, &rejection) || rejection.Reason != ReasonDailyHalt {
		t.Fatalf("expected daily halt rejection, got %v", err)
	}
}

func TestDailyHaltDisabled(t *testing.T) {
	cfg := testRiskConfig()
	cfg.EnableDailyStopLoss = false
	g := newTestGate(t, cfg)
	ctx := context.Background()

	if _, err := g.UpdateEquity(ctx, "acct-1", 1000); err != nil {
		t.Fatalf("UpdateEquity returned error: %v", err)
	}
	if _, err := g.UpdateEquity(ctx, "acct-1", 900); err != nil {
		t.Fatalf("UpdateEquity returned error: %v", err)
	}

	if _, err := g.Admit(ctx, gateIntent("intent-1", 10)); err != nil {
		t.Fatalf("admission must pass with stop-loss disabled: %v", err)
	}
}
