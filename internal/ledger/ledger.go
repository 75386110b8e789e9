package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dex-engine/internal/order"
	"dex-engine/internal/venue"
)

// ErrNotFound 表示账本中不存在对应记录。
var ErrNotFound = errors.New("ledger: record not found")

// Ledger 为只追加的执行账本：终态订单与成交记录写入后不再变更。
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

// New 创建账本并初始化表结构。
func New(db *sql.DB, logger *zap.Logger) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("ledger: 数据库实例不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS orders_terminal (
			order_id TEXT PRIMARY KEY,
			intent_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			trading_pair TEXT NOT NULL,
			side TEXT NOT NULL,
			final_state TEXT NOT NULL,
			chosen_venue TEXT NOT NULL,
			requested_amount REAL NOT NULL,
			filled_amount REAL NOT NULL,
			avg_fill_price REAL NOT NULL,
			max_slippage_bps REAL NOT NULL,
			urgency TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			closed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_terminal_intent ON orders_terminal(intent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_terminal_closed ON orders_terminal(closed_at);`,
		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			fill_amount REAL NOT NULL,
			fill_price REAL NOT NULL,
			venue TEXT NOT NULL,
			tx_reference TEXT NOT NULL,
			confirmed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_confirmed ON fills(confirmed_at);`,
	}

	for _, stmt := range schema {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("初始化账本表结构失败: %w", err)
		}
	}
	return nil
}

// RecordTerminal 把终态订单写入账本。
// 同一订单重复写入视为幂等，保留首次记录。
func (l *Ledger) RecordTerminal(ctx context.Context, o order.Order) error {
	if !o.State.Terminal() {
		return fmt.Errorf("ledger: 订单 %s 仍处于 %s，拒绝写入账本", o.OrderID, o.State)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO orders_terminal (
			order_id, intent_id, account_id, trading_pair, side, final_state,
			chosen_venue, requested_amount, filled_amount, avg_fill_price,
			max_slippage_bps, urgency, attempt_count, failure_reason, created_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.IntentID, o.AccountID, o.Pair, string(o.Side), string(o.State),
		o.ChosenVenue, o.RequestedAmount, o.FilledAmount, o.AvgFillPrice,
		o.MaxSlippageBps, o.Urgency, o.AttemptCount, o.FailureReason,
		o.CreatedAt.UTC().Format(time.RFC3339Nano),
		o.LastTransitionAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("写入终态订单失败: %w", err)
	}

	l.logger.Info("终态订单已入账",
		zap.String("order_id", o.OrderID),
		zap.String("final_state", string(o.State)),
		zap.Float64("filled_amount", o.FilledAmount))
	return nil
}

// AppendFill 追加一条成交记录。
func (l *Ledger) AppendFill(ctx context.Context, f venue.Fill) error {
	if f.OrderID == "" {
		return errors.New("ledger: 成交记录缺少订单号")
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, fill_amount, fill_price, venue, tx_reference, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.FillAmount, f.FillPrice, f.Venue, f.TxReference,
		f.ConfirmedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("写入成交记录失败: %w", err)
	}
	return nil
}

// TerminalOrder 查询单个终态订单。
func (l *Ledger) TerminalOrder(ctx context.Context, orderID string) (order.Order, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT order_id, intent_id, account_id, trading_pair, side, final_state,
		       chosen_venue, requested_amount, filled_amount, avg_fill_price,
		       max_slippage_bps, urgency, attempt_count, failure_reason, created_at, closed_at
		FROM orders_terminal WHERE order_id = ?`, orderID)

	var (
		o                   order.Order
		side, state         string
		createdAt, closedAt string
	)
	err := row.Scan(&o.OrderID, &o.IntentID, &o.AccountID, &o.Pair, &side, &state,
		&o.ChosenVenue, &o.RequestedAmount, &o.FilledAmount, &o.AvgFillPrice,
		&o.MaxSlippageBps, &o.Urgency, &o.AttemptCount, &o.FailureReason, &createdAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, ErrNotFound
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("查询终态订单失败: %w", err)
	}

	o.Side = order.Side(side)
	o.State = order.State(state)
	if o.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return order.Order{}, fmt.Errorf("解析订单时间失败: %w", err)
	}
	if o.LastTransitionAt, err = time.Parse(time.RFC3339Nano, closedAt); err != nil {
		return order.Order{}, fmt.Errorf("解析订单时间失败: %w", err)
	}
	return o, nil
}

// FillsByOrder 按订单号查询成交记录，按确认时间升序。
func (l *Ledger) FillsByOrder(ctx context.Context, orderID string) ([]venue.Fill, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT order_id, fill_amount, fill_price, venue, tx_reference, confirmed_at
		FROM fills WHERE order_id = ? ORDER BY confirmed_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("查询成交记录失败: %w", err)
	}
	defer rows.Close()
	return scanFills(rows)
}

// FillsBetween 查询时间区间 [from, to) 内确认的成交记录。
func (l *Ledger) FillsBetween(ctx context.Context, from, to time.Time) ([]venue.Fill, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT order_id, fill_amount, fill_price, venue, tx_reference, confirmed_at
		FROM fills WHERE confirmed_at >= ? AND confirmed_at < ?
		ORDER BY confirmed_at ASC, id ASC`,
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("查询成交记录失败: %w", err)
	}
	defer rows.Close()
	return scanFills(rows)
}

func scanFills(rows *sql.Rows) ([]venue.Fill, error) {
	var fills []venue.Fill
	for rows.Next() {
		var (
			f           venue.Fill
			confirmedAt string
		)
		if err := rows.Scan(&f.OrderID, &f.FillAmount, &f.FillPrice, &f.Venue, &f.TxReference, &confirmedAt); err != nil {
			return nil, fmt.Errorf("读取成交记录失败: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, confirmedAt)
		if err != nil {
			return nil, fmt.Errorf("解析成交时间失败: %w", err)
		}
		f.ConfirmedAt = ts
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
