package execution

import (
	"context"
	"errors"
	"time"

	"neat-trader/internal/lifecycle"
)

// ErrOrderRejected 表示交易所或模拟账户拒绝了订单。
var ErrOrderRejected = errors.New("execution: order rejected")

// Result 为执行结果摘要。
type Result struct {
	Intent        lifecycle.Intent
	OrderID       string
	ClientOrderID string
	Executed      bool
	FilledPrice   float64
	ExecutionTime time.Time
	Notes         []string
}

// Callback 接收异步下单的结果。
type Callback func(Result, error)

// Trader 抽象执行器接口，方便切换真实或模拟下单。
type Trader interface {
	Execute(ctx context.Context, intent lifecycle.Intent) (Result, error)
}

var (
	_ Trader = (*Executor)(nil)
	_ Trader = (*Simulated)(nil)
)
