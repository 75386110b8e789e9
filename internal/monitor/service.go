package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dex-engine/internal/order"
	"dex-engine/internal/routing"
	"dex-engine/internal/store"
)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordAdmission 记录通过准入的意图。
func (s *Service) RecordAdmission(ctx context.Context, intent order.Intent, orderID, reservationID string) {
	if err := s.Record(ctx, Event{
		Type:      EventIntentAdmitted,
		Timestamp: time.Now().UTC(),
		Payload:   IntentAdmittedPayload{Intent: intent, OrderID: orderID, ReservationID: reservationID},
	}); err != nil {
		s.logger.Warn("记录准入事件失败", zap.Error(err))
	}
}

// RecordRejection 记录风控拒绝。
func (s *Service) RecordRejection(ctx context.Context, intent order.Intent, reason, detail string) {
	if err := s.Record(ctx, Event{
		Type:      EventRiskRejection,
		Timestamp: time.Now().UTC(),
		Payload:   RiskRejectionPayload{Intent: intent, Reason: reason, Detail: detail},
	}); err != nil {
		s.logger.Warn("记录拒绝事件失败", zap.Error(err))
	}
}

// RecordRoute 记录路由评估结果。
func (s *Service) RecordRoute(ctx context.Context, orderID string, route routing.Route) {
	if len(route.Legs) == 0 {
		return
	}
	if err := s.Record(ctx, Event{
		Type:      EventRouteSelected,
		Timestamp: time.Now().UTC(),
		Payload:   RouteSelectedPayload{OrderID: orderID, Primary: route.Primary(), Legs: route.Legs},
	}); err != nil {
		s.logger.Warn("记录路由事件失败", zap.Error(err))
	}
}

// RecordTerminal 记录订单终态。
func (s *Service) RecordTerminal(ctx context.Context, o order.Order) {
	if err := s.Record(ctx, Event{
		Type:      EventOrderTerminal,
		Timestamp: time.Now().UTC(),
		Payload:   OrderTerminalPayload{Order: o},
	}); err != nil {
		s.logger.Warn("记录终态事件失败", zap.Error(err))
	}
}

// RecordStageLatency 记录单个执行阶段耗时。
func (s *Service) RecordStageLatency(ctx context.Context, orderID, stage, venueName string, elapsed time.Duration) {
	if err := s.Record(ctx, Event{
		Type:      EventStageLatency,
		Timestamp: time.Now().UTC(),
		Payload:   StageLatencyPayload{OrderID: orderID, Stage: stage, Venue: venueName, Elapsed: elapsed},
	}); err != nil {
		s.logger.Warn("记录阶段耗时失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
