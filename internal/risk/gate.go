package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dex-engine/internal/config"
	"dex-engine/internal/order"
	"dex-engine/internal/store"
)

var (
	// ErrUnknownReservation 表示预留不存在或已被释放。
	ErrUnknownReservation = errors.New("risk: 预留不存在或已释放")
)

// accountState 为单账户敞口，admit/release 在账户锁内串行。
type accountState struct {
	mu       sync.Mutex
	reserved float64
	realized float64
	equity   float64
}

// Gate 为有状态的准入风控。
// 批准即原子预留额度，阻止同账户并发意图联合突破限额。
type Gate struct {
	cfg     config.RiskConfig
	tracker *DailyTracker
	logger  *zap.Logger

	mu           sync.Mutex
	accounts     map[string]*accountState
	reservations map[string]*Reservation
	knownPairs   map[string]bool
}

// NewGate 创建风控准入网关。
func NewGate(cfg config.RiskConfig, st *store.Store, logger *zap.Logger) (*Gate, error) {
	if st == nil {
		return nil, errors.New("risk: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker, err := NewDailyTracker(st.DB(), cfg, logger)
	if err != nil {
		return nil, err
	}

	knownPairs := make(map[string]bool, len(cfg.KnownPairs))
	for _, pair := range cfg.KnownPairs {
		knownPairs[strings.ToUpper(strings.TrimSpace(pair))] = true
	}

	return &Gate{
		cfg:          cfg,
		tracker:      tracker,
		logger:       logger,
		accounts:     make(map[string]*accountState),
		reservations: make(map[string]*Reservation),
		knownPairs:   knownPairs,
	}, nil
}

// Admit 按顺序执行形态校验、仓位限额、杠杆限额与日度回撤检查。
// 批准时在返回前原子预留意图数量。
func (g *Gate) Admit(ctx context.Context, intent order.Intent) (Reservation, error) {
	if err := g.validateShape(intent); err != nil {
		return Reservation{}, err
	}

	if g.cfg.EnableDailyStopLoss {
		halted, err := g.tracker.Halted(ctx, intent.AccountID, time.Now().UTC())
		if err != nil {
			return Reservation{}, err
		}
		if halted {
			return Reservation{}, &RejectionError{
				Reason:  ReasonDailyHalt,
				Message: fmt.Sprintf("账户 %s 当日已触发停交易", intent.AccountID),
			}
		}
	}

	account := g.accountState(intent.AccountID)
	account.mu.Lock()
	defer account.mu.Unlock()

	exposure := account.reserved + account.realized

	if exposure+intent.Amount > g.cfg.MaxPositionSize {
		g.logRejection(ctx, intent, ReasonPositionLimit,
			fmt.Sprintf("敞口 %.4f + %.4f 超过仓位上限 %.4f", exposure, intent.Amount, g.cfg.MaxPositionSize))
		return Reservation{}, &RejectionError{
			Reason:  ReasonPositionLimit,
			Message: fmt.Sprintf("超过账户仓位上限 %.4f", g.cfg.MaxPositionSize),
		}
	}

	if account.equity > 0 && (exposure+intent.Amount)/account.equity > g.cfg.MaxLeverage {
		g.logRejection(ctx, intent, ReasonLeverageLimit,
			fmt.Sprintf("杠杆 %.4f 超过上限 %.4f", (exposure+intent.Amount)/account.equity, g.cfg.MaxLeverage))
		return Reservation{}, &RejectionError{
			Reason:  ReasonLeverageLimit,
			Message: fmt.Sprintf("超过杠杆上限 %.2f", g.cfg.MaxLeverage),
		}
	}

	reservation := Reservation{
		ID:        uuid.NewString(),
		AccountID: intent.AccountID,
		IntentID:  intent.IntentID,
		Amount:    intent.Amount,
		CreatedAt: time.Now().UTC(),
	}

	account.reserved += intent.Amount

	g.mu.Lock()
	g.reservations[reservation.ID] = &reservation
	g.mu.Unlock()

	return reservation, nil
}

// Release 释放一次预留，必须且只能调用一次。
// success 为真时预留转为已实现敞口，否则归还可用额度。
func (g *Gate) Release(ctx context.Context, reservationID string, success bool) error {
	g.mu.Lock()
	reservation, ok := g.reservations[reservationID]
	if ok {
		delete(g.reservations, reservationID)
	}
	g.mu.Unlock()

	if !ok {
		return ErrUnknownReservation
	}

	account := g.accountState(reservation.AccountID)
	account.mu.Lock()
	account.reserved -= reservation.Amount
	if account.reserved < 0 {
		account.reserved = 0
	}
	if success {
		account.realized += reservation.Amount
	}
	account.mu.Unlock()

	g.logger.Debug("风控预留已释放",
		zap.String("reservation_id", reservationID),
		zap.String("account_id", reservation.AccountID),
		zap.Bool("success", success),
	)

	return nil
}

// UpdateEquity 接收组合协作方推送的账户净值，驱动日度回撤检查。
func (g *Gate) UpdateEquity(ctx context.Context, accountID string, equity float64) (DailyStatus, error) {
	account := g.accountState(accountID)
	account.mu.Lock()
	account.equity = equity
	account.mu.Unlock()

	if !g.cfg.EnableDailyStopLoss {
		return DailyStatus{AccountID: accountID, CurrentEquity: equity}, nil
	}
	return g.tracker.Update(ctx, accountID, time.Now().UTC(), equity)
}

// CurrentExposure 返回账户敞口快照。
func (g *Gate) CurrentExposure(accountID string) Exposure {
	account := g.accountState(accountID)
	account.mu.Lock()
	defer account.mu.Unlock()
	return Exposure{
		AccountID: accountID,
		Reserved:  account.reserved,
		Realized:  account.realized,
		Equity:    account.equity,
	}
}

func (g *Gate) validateShape(intent order.Intent) error {
	if strings.TrimSpace(intent.IntentID) == "" {
		return &RejectionError{Reason: ReasonInvalidIntent, Message: "intentId 不能为空"}
	}
	if strings.TrimSpace(intent.AccountID) == "" {
		return &RejectionError{Reason: ReasonInvalidIntent, Message: "accountId 不能为空"}
	}
	if intent.Amount <= 0 {
		return &RejectionError{Reason: ReasonInvalidIntent, Message: fmt.Sprintf("数量必须为正: %.8f", intent.Amount)}
	}
	if intent.Side != order.SideBuy && intent.Side != order.SideSell {
		return &RejectionError{Reason: ReasonInvalidIntent, Message: fmt.Sprintf("方向无效: %q", intent.Side)}
	}
	if intent.MaxSlippageBps < 0 {
		return &RejectionError{Reason: ReasonInvalidIntent, Message: "滑点容忍不能为负"}
	}
	if !g.knownPairs[strings.ToUpper(strings.TrimSpace(intent.Pair))] {
		return &RejectionError{Reason: ReasonUnknownPair, Message: fmt.Sprintf("未知交易对 %q", intent.Pair)}
	}
	return nil
}

func (g *Gate) accountState(accountID string) *accountState {
	g.mu.Lock()
	defer g.mu.Unlock()

	account, ok := g.accounts[accountID]
	if !ok {
		account = &accountState{}
		g.accounts[accountID] = account
	}
	return account
}

func (g *Gate) logRejection(ctx context.Context, intent order.Intent, reason RejectReason, message string) {
	if err := g.tracker.LogEvent(ctx, intent.AccountID, string(reason), message, intent.IntentID); err != nil {
		g.logger.Warn("记录风控拒绝事件失败", zap.Error(err))
	}
}
