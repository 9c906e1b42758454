package monitor

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neat-trader/internal/config"
	"neat-trader/internal/execution"
	"neat-trader/internal/lifecycle"
	"neat-trader/internal/position"
	"neat-trader/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "monitor.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, NewMetrics(), nil)
	require.NoError(t, err)
	return svc
}

func TestServiceRecordsAndListsEvents(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	svc.RecordTick(ctx, TickPayload{
		Price:    101.5,
		Position: position.Snapshot{Pair: "BTC/USDT:USDT", AvailableBalance: 900, Size: -0.2, EntryPrice: 100},
		Outputs:  []float64{0.1, 0.9, 0.2},
		Action:   "open_short",
	})
	intent := lifecycle.Intent{
		Symbol:   "BTC/USDT:USDT",
		Side:     lifecycle.SideSell,
		Type:     lifecycle.OrderTypeMarket,
		Quantity: 0.2,
		Reason:   lifecycle.ReasonOpenShort,
		Price:    101.5,
	}
	svc.RecordIntent(ctx, intent)
	svc.RecordExecution(ctx, execution.Result{Intent: intent, OrderID: "1", Executed: true}, nil)
	svc.RecordError(ctx, "snapshot", "获取仓位失败", errors.New("timeout"), map[string]interface{}{"pair": "BTC/USDT:USDT"})

	all, err := svc.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, EventError, all[0].Type)
	assert.Equal(t, EventTick, all[3].Type)

	intents, err := svc.ListEvents(ctx, EventIntent, 10)
	require.NoError(t, err)
	require.Len(t, intents, 1)

	raw, ok := intents[0].Payload.(json.NoCopyRawMessage)
	require.True(t, ok)
	var decoded IntentPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, lifecycle.ReasonOpenShort, decoded.Intent.Reason)
	assert.InDelta(t, 0.2, decoded.Intent.Quantity, 1e-12)

	limited, err := svc.ListEvents(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestServiceUpdatesMetrics(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	m := svc.Metrics()

	svc.RecordTick(ctx, TickPayload{Position: position.Snapshot{Pair: "X", AvailableBalance: 750, Size: 0.3, EntryPrice: 10}})
	svc.RecordTick(ctx, TickPayload{Position: position.Snapshot{Pair: "X", AvailableBalance: 700}})
	svc.RecordIntent(ctx, lifecycle.Intent{Reason: lifecycle.ReasonDurationExpired})
	svc.RecordExecution(ctx, execution.Result{}, errors.New("rejected"))
	svc.RecordError(ctx, "features", "构建特征失败", nil, nil)

	assert.Equal(t, 2.0, gathered(t, m, "neat_trader_loop_ticks_total", nil))
	assert.Equal(t, 700.0, gathered(t, m, "neat_trader_account_available_balance", nil))
	assert.Equal(t, 0.0, gathered(t, m, "neat_trader_account_position_size", nil))
	assert.Equal(t, 1.0, gathered(t, m, "neat_trader_loop_intents_total", map[string]string{"reason": string(lifecycle.ReasonDurationExpired)}))
	assert.Equal(t, 1.0, gathered(t, m, "neat_trader_execution_orders_total", map[string]string{"outcome": "failed"}))
	assert.Equal(t, 1.0, gathered(t, m, "neat_trader_loop_errors_total", map[string]string{"kind": "features"}))
}

func TestAvailableBalanceGaugeExportsBalance(t *testing.T) {
	m := NewMetrics()
	m.AvailableBalance.Set(1234.5)
	assert.Equal(t, 1234.5, gathered(t, m, "neat_trader_account_available_balance", nil))
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.Ticks.Inc()
	m.ObserveLatency(time.Now().Add(-50 * time.Millisecond))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "neat_trader_loop_ticks_total 1"))
	assert.True(t, strings.Contains(text, "neat_trader_loop_evaluation_latency_seconds_count 1"))
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	require.Error(t, err)
}

// gathered 从 Registry 中读取单个计数器或仪表的当前值。
func gathered(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want == pair.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}
