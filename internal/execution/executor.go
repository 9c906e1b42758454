package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"neat-trader/internal/exchange"
	"neat-trader/internal/lifecycle"
)

type orderClient interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
}

// Options 控制下单参数。
type Options struct {
	MaxRetry   int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Executor 通过 ccxt 提交市价单。
type Executor struct {
	client orderClient
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewExecutor 创建执行器。
func NewExecutor(client orderClient, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Executor{
		client: client,
		opts:   opts,
		logger: logger.Named("execution"),
	}
}

// Execute 提交订单；可重试的网络错误按递增间隔重试，其余错误视为拒单。
func (e *Executor) Execute(ctx context.Context, intent lifecycle.Intent) (Result, error) {
	result := Result{
		Intent:        intent,
		ClientOrderID: newClientOrderID(),
		ExecutionTime: time.Now().UTC(),
		Notes:         make([]string, 0),
	}

	if err := validateIntent(intent); err != nil {
		return result, err
	}

	params := buildParams(intent, result.ClientOrderID)

	var err error
	for attempt := 1; attempt <= e.opts.MaxRetry; attempt++ {
		var order ccxt.Order
		order, err = e.client.CreateMarketOrder(intent.Symbol, intent.Side, intent.Quantity, ccxt.WithCreateMarketOrderParams(params))
		if err == nil {
			result.Executed = true
			result.OrderID = derefString(order.Id)
			result.FilledPrice = derefFloat(order.Average)
			e.logger.Info("订单已提交",
				zap.String("symbol", intent.Symbol),
				zap.String("side", intent.Side),
				zap.Float64("quantity", intent.Quantity),
				zap.String("reason", string(intent.Reason)),
				zap.String("order_id", result.OrderID),
			)
			return result, nil
		}

		if !exchange.IsRetryable(err) {
			result.Notes = append(result.Notes, fmt.Sprintf("下单失败: %v", err))
			return result, fmt.Errorf("%w: %v", ErrOrderRejected, err)
		}

		wait := time.Duration(attempt) * e.opts.RetryDelay
		e.logger.Warn("下单失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(wait):
		}
	}

	result.Notes = append(result.Notes, fmt.Sprintf("重试后仍失败: %v", err))
	return result, fmt.Errorf("execution: 重试后仍下单失败: %w", err)
}

// Submit 异步提交订单，不阻塞调用方；结果通过 done 回调返回。
func (e *Executor) Submit(ctx context.Context, intent lifecycle.Intent, done Callback) {
	submit(ctx, &e.wg, e.opts.Timeout, e, intent, done)
}

// Wait 等待所有异步订单结束。
func (e *Executor) Wait() {
	e.wg.Wait()
}

func submit(ctx context.Context, wg *sync.WaitGroup, timeout time.Duration, trader Trader, intent lifecycle.Intent, done Callback) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		res, err := trader.Execute(execCtx, intent)
		if done != nil {
			done(res, err)
		}
	}()
}

func validateIntent(intent lifecycle.Intent) error {
	if intent.Symbol == "" {
		return errors.New("execution: symbol 不能为空")
	}
	if intent.Quantity <= 0 {
		return fmt.Errorf("execution: 下单数量无效 quantity=%f", intent.Quantity)
	}
	if !strings.EqualFold(intent.Type, lifecycle.OrderTypeMarket) {
		return fmt.Errorf("execution: 不支持的订单类型 %s", intent.Type)
	}
	if intent.Side != lifecycle.SideBuy && intent.Side != lifecycle.SideSell {
		return fmt.Errorf("execution: 不支持的方向 %s", intent.Side)
	}
	return nil
}

func buildParams(intent lifecycle.Intent, clientOrderID string) map[string]interface{} {
	params := map[string]interface{}{
		"clientOrderId": clientOrderID,
	}
	if intent.ReduceOnly() {
		params["reduceOnly"] = true
	}
	return params
}

func newClientOrderID() string {
	return "neat-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
