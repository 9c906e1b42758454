package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/bytedance/sonic"
	"go.uber.org/zap"

	"neat-trader/internal/execution"
	"neat-trader/internal/lifecycle"
	"neat-trader/internal/store"
)

// Service 负责持久化监控事件并更新指标。
type Service struct {
	db      *sql.DB
	metrics *Metrics
	logger  *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。metrics 为空时只记录事件。
func NewService(store *store.Store, metrics *Metrics, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:      store.DB(),
		metrics: metrics,
		logger:  logger.Named("monitor"),
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

// Metrics 返回指标集合，可能为空。
func (s *Service) Metrics() *Metrics {
	return s.metrics
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
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordTick 记录一个决策周期。
func (s *Service) RecordTick(ctx context.Context, payload TickPayload) {
	if s.metrics != nil {
		s.metrics.Ticks.Inc()
		s.metrics.AvailableBalance.Set(payload.Position.AvailableBalance)
		s.metrics.PositionSize.Set(payload.Position.Size)
	}
	if err := s.Record(ctx, Event{Type: EventTick, Payload: payload}); err != nil {
		s.logger.Warn("记录周期事件失败", zap.Error(err))
	}
}

// RecordIntent 记录下单意图。
func (s *Service) RecordIntent(ctx context.Context, intent lifecycle.Intent) {
	if s.metrics != nil {
		s.metrics.Intents.WithLabelValues(string(intent.Reason)).Inc()
	}
	if err := s.Record(ctx, Event{Type: EventIntent, Payload: IntentPayload{Intent: intent}}); err != nil {
		s.logger.Warn("记录下单意图失败", zap.Error(err))
	}
}

// RecordExecution 记录订单执行。
func (s *Service) RecordExecution(ctx context.Context, result execution.Result, execErr error) {
	payload := ExecutionPayload{Result: result}
	outcome := "filled"
	if execErr != nil {
		payload.Error = execErr.Error()
		outcome = "failed"
	}
	if s.metrics != nil {
		s.metrics.Executions.WithLabelValues(outcome).Inc()
	}
	if err := s.Record(ctx, Event{Type: EventExecution, Payload: payload}); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// RecordError 记录异常，kind 用于指标分类。
func (s *Service) RecordError(ctx context.Context, kind, msg string, err error, ctxMap map[string]interface{}) {
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues(kind).Inc()
	}
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if recErr := s.Record(ctx, Event{Type: EventError, Payload: payload}); recErr != nil {
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

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.NoCopyRawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
