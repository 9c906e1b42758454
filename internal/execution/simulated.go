package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"neat-trader/internal/backtest"
	"neat-trader/internal/lifecycle"
	"neat-trader/internal/position"
)

// Simulated 在本地模拟账户上成交，用于模拟盘。它同时提供仓位快照，替代交易所账户。
type Simulated struct {
	mu      sync.Mutex
	pair    string
	account *backtest.Simulator
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewSimulated 创建模拟执行器。
func NewSimulated(pair string, initialBalance float64, leverage int, fee float64, logger *zap.Logger) *Simulated {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{
		pair:    pair,
		account: backtest.NewSimulator(initialBalance, leverage, fee),
		timeout: 30 * time.Second,
		logger:  logger.Named("simulated"),
	}
}

// Mark 以最新收盘价标记模拟仓位。
func (s *Simulated) Mark(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.Advance(price)
}

// FetchSnapshot 返回模拟账户的仓位快照。
func (s *Simulated) FetchSnapshot(ctx context.Context) (position.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return position.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account.Snapshot(s.pair, time.Now().UTC()), nil
}

// Execute 以意图中的价格立即成交。
func (s *Simulated) Execute(ctx context.Context, intent lifecycle.Intent) (Result, error) {
	result := Result{
		Intent:        intent,
		ClientOrderID: newClientOrderID(),
		ExecutionTime: time.Now().UTC(),
	}
	if err := validateIntent(intent); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	s.mu.Lock()
	fill, err := s.account.Execute(intent.Side, intent.Quantity, intent.Price, result.ExecutionTime)
	equity := s.account.Equity()
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, backtest.ErrInsufficientMargin) {
			return result, fmt.Errorf("%w: %v", ErrOrderRejected, err)
		}
		return result, err
	}

	result.Executed = true
	result.OrderID = result.ClientOrderID
	result.FilledPrice = fill.Price
	s.logger.Info("模拟成交",
		zap.String("symbol", intent.Symbol),
		zap.String("side", intent.Side),
		zap.Float64("quantity", intent.Quantity),
		zap.Float64("price", fill.Price),
		zap.Float64("realized_pnl", fill.RealizedPnL),
		zap.Float64("equity", equity),
		zap.String("reason", string(intent.Reason)),
	)
	return result, nil
}

// Submit 异步成交，与 Executor 行为一致。
func (s *Simulated) Submit(ctx context.Context, intent lifecycle.Intent, done Callback) {
	submit(ctx, &s.wg, s.timeout, s, intent, done)
}

// Wait 等待所有异步订单结束。
func (s *Simulated) Wait() {
	s.wg.Wait()
}
