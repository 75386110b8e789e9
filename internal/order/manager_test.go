package order

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// mockReleaser 统计预留释放调用。
type mockReleaser struct {
	mu       sync.Mutex
	releases map[string]int
	outcomes map[string]bool
	err      error
}

func newMockReleaser() *mockReleaser {
	return &mockReleaser{
		releases: make(map[string]int),
		outcomes: make(map[string]bool),
	}
}

func (m *mockReleaser) Release(ctx context.Context, reservationID string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[reservationID]++
	m.outcomes[reservationID] = success
	return m.err
}

func (m *mockReleaser) count(reservationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases[reservationID]
}

// mockRecorder 统计账本写入。
type mockRecorder struct {
	mu     sync.Mutex
	orders []Order
	err    error
}

func (m *mockRecorder) RecordTerminal(ctx context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, o)
	return m.err
}

func (m *mockRecorder) recorded() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Order(nil), m.orders...)
}

func testIntent(id string) Intent {
	return Intent{
		IntentID:       id,
		Pair:           "SOL/USDC",
		Side:           SideBuy,
		Amount:         10,
		MaxSlippageBps: 50,
		Urgency:        "normal",
		AccountID:      "acct-1",
	}
}

func newTestManager() (*Manager, *mockReleaser, *mockRecorder) {
	releaser := newMockReleaser()
	recorder := &mockRecorder{}
	return NewManager(releaser, recorder, nil, nil), releaser, recorder
}

func TestCreateIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager()

	first, created := m.Create(testIntent("intent-1"), "res-1")
	if !created {
		t.Fatal("first create must report created=true")
	}

	second, created := m.Create(testIntent("intent-1"), "res-2")
	if created {
		t.Fatal("duplicate intent must not create a new order")
	}
	if second.OrderID != first.OrderID {
		t.Fatalf("duplicate intent must return the same order: %s vs %s", first.OrderID, second.OrderID)
	}
}

func TestCreateIdempotentUnderConcurrency(t *testing.T) {
	m, _, _ := newTestManager()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[string]struct{})
		creates int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, created := m.Create(testIntent("intent-1"), "res-1")
			mu.Lock()
			ids[o.OrderID] = struct{}{}
			if created {
				creates++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Fatalf("expected exactly one order, got %d", len(ids))
	}
	if creates != 1 {
		t.Fatalf("expected exactly one creation, got %d", creates)
	}
}

func TestTransitionHappyPathReleasesOnce(t *testing.T) {
	m, releaser, recorder := newTestManager()
	ctx := context.Background()

	o, _ := m.Create(testIntent("intent-1"), "res-1")

	steps := []struct {
		to   State
		opts []TransitionOption
	}{
		{StateRouted, []TransitionOption{WithVenue("jupiter")}},
		{StateSubmitted, []TransitionOption{WithAttempt()}},
		{StateConfirmed, []TransitionOption{WithFill(10, 100.5)}},
	}
	for _, step := range steps {
		if _, err := m.Transition(ctx, o.OrderID, step.to, step.opts...); err != nil {
			t.Fatalf("transition to %s failed: %v", step.to, err)
		}
	}

	final, _ := m.Get(o.OrderID)
	if final.State != StateConfirmed || final.FilledAmount != 10 || final.AvgFillPrice != 100.5 {
		t.Fatalf("unexpected final order: %+v", final)
	}
	if final.AttemptCount != 1 {
		t.Fatalf("expected attempt count 1, got %d", final.AttemptCount)
	}

	if releaser.count("res-1") != 1 {
		t.Fatalf("reservation must be released exactly once, got %d", releaser.count("res-1"))
	}
	if !releaser.outcomes["res-1"] {
		t.Fatal("confirmed order must release with success=true")
	}
	if got := recorder.recorded(); len(got) != 1 || got[0].State != StateConfirmed {
		t.Fatalf("expected one ledger record, got %+v", got)
	}
}

func TestTransitionFailureReleasesWithoutSuccess(t *testing.T) {
	m, releaser, _ := newTestManager()
	ctx := context.Background()

	o, _ := m.Create(testIntent("intent-1"), "res-1")
	if _, err := m.Transition(ctx, o.OrderID, StateRejected, WithReason("无可用路由")); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	if releaser.count("res-1") != 1 {
		t.Fatalf("expected one release, got %d", releaser.count("res-1"))
	}
	if releaser.outcomes["res-1"] {
		t.Fatal("rejected order must release with success=false")
	}
}

func TestTransitionRejectsInvalidMove(t *testing.T) {
	m, _, _ := newTestManager()
	o, _ := m.Create(testIntent("intent-1"), "res-1")

	_, err := m.Transition(context.Background(), o.OrderID, StateConfirmed)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// 非法迁移不改变状态。
	current, _ := m.Get(o.OrderID)
	if current.State != StateCreated {
		t.Fatalf("state must be unchanged, got %s", current.State)
	}
}

func TestTransitionAfterTerminalRefused(t *testing.T) {
	m, releaser, _ := newTestManager()
	ctx := context.Background()

	o, _ := m.Create(testIntent("intent-1"), "res-1")
	if _, err := m.Transition(ctx, o.OrderID, StateCancelled); err != nil {
		t.Fatalf("cancel transition failed: %v", err)
	}

	if _, err := m.Transition(ctx, o.OrderID, StateRouted); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if releaser.count("res-1") != 1 {
		t.Fatalf("terminal side effects must run exactly once, releases=%d", releaser.count("res-1"))
	}
}

func TestRequestCancelBeforeAndAfterBroadcast(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	o, _ := m.Create(testIntent("intent-1"), "res-1")
	if err := m.RequestCancel(o.OrderID); err != nil {
		t.Fatalf("pre-broadcast cancel must be accepted: %v", err)
	}
	if !m.CancelRequested(o.OrderID) {
		t.Fatal("cancel flag must be visible")
	}

	o2, _ := m.Create(testIntent("intent-2"), "res-2")
	if _, err := m.Transition(ctx, o2.OrderID, StateRouted); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if _, err := m.Transition(ctx, o2.OrderID, StateSubmitted); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := m.RequestCancel(o2.OrderID); !errors.Is(err, ErrCancelAfterBroadcast) {
		t.Fatalf("expected ErrCancelAfterBroadcast, got %v", err)
	}

	if err := m.RequestCancel("missing"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestWithFillWeightedAverageAndClamp(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	o, _ := m.Create(testIntent("intent-1"), "res-1")
	mustTransition := func(to State, opts ...TransitionOption) {
		t.Helper()
		if _, err := m.Transition(ctx, o.OrderID, to, opts...); err != nil {
			t.Fatalf("transition to %s failed: %v", to, err)
		}
	}

	mustTransition(StateRouted, WithVenue("jupiter"))
	mustTransition(StateSubmitted, WithAttempt())
	// 部分成交 4 @ 100，残量重路由。
	mustTransition(StateRouted, WithFill(4, 100))
	mustTransition(StateSubmitted, WithAttempt())
	// 第二笔申报 8 超过残量 6，应截断。
	mustTransition(StateConfirmed, WithFill(8, 103))

	final, _ := m.Get(o.OrderID)
	if final.FilledAmount != 10 {
		t.Fatalf("expected filled 10, got %v", final.FilledAmount)
	}
	want := (4*100.0 + 6*103.0) / 10.0
	if diff := final.AvgFillPrice - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected avg price %v, got %v", want, final.AvgFillPrice)
	}
	if final.AttemptCount != 2 {
		t.Fatalf("expected 2 attempts, got %d", final.AttemptCount)
	}
}

func TestTerminalEventEmitted(t *testing.T) {
	releaser := newMockReleaser()
	recorder := &mockRecorder{}

	var events []Event
	m := NewManager(releaser, recorder, func(ev Event) { events = append(events, ev) }, nil)

	o, _ := m.Create(testIntent("intent-1"), "res-1")
	ctx := context.Background()
	if _, err := m.Transition(ctx, o.OrderID, StateRouted); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Transition(ctx, o.OrderID, StateSubmitted); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Transition(ctx, o.OrderID, StateConfirmed, WithFill(10, 101)); err != nil {
		t.Fatal(err)
	}

	if len(events) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", len(events))
	}
	ev := events[0]
	if ev.OrderID != o.OrderID || ev.FinalState != StateConfirmed || ev.FilledAmount != 10 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRecorderFailurePropagates(t *testing.T) {
	releaser := newMockReleaser()
	recorder := &mockRecorder{err: errors.New("ledger unreachable")}
	m := NewManager(releaser, recorder, nil, nil)

	o, _ := m.Create(testIntent("intent-1"), "res-1")
	if _, err := m.Transition(context.Background(), o.OrderID, StateRejected); err == nil {
		t.Fatal("ledger failure must surface to the caller")
	}
	// 预留释放不受账本故障影响。
	if releaser.count("res-1") != 1 {
		t.Fatalf("expected release despite ledger failure, got %d", releaser.count("res-1"))
	}
}

func TestGetByIntentReturnsExistingOrder(t *testing.T) {
	m, _, _ := newTestManager()

	if _, ok := m.GetByIntent("intent-1"); ok {
		t.Fatal("expected no order before creation")
	}

	created, _ := m.Create(testIntent("intent-1"), "res-1")
	got, ok := m.GetByIntent("intent-1")
	if !ok {
		t.Fatal("expected order lookup by intent to succeed")
	}
	if got.OrderID != created.OrderID {
		t.Fatalf("expected order %s, got %s", created.OrderID, got.OrderID)
	}
}
