package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"neat-trader/internal/decision"
	"neat-trader/internal/position"
	"neat-trader/internal/risk"
	"neat-trader/internal/trend"
)

// 订单方向与类型，取值与 ccxt 一致。
const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeMarket = "MARKET"
)

// Reason 说明下单意图的来源。
type Reason string

const (
	ReasonOpenLong        Reason = "open_long"
	ReasonOpenShort       Reason = "open_short"
	ReasonClose           Reason = "close"
	ReasonDurationExpired Reason = "duration_expired"
)

// Intent 为交给执行层的市价单意图。
type Intent struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Type      string    `json:"type"`
	Quantity  float64   `json:"quantity"`
	Reason    Reason    `json:"reason"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// ReduceOnly 表示该意图只减少仓位。
func (i Intent) ReduceOnly() bool {
	return i.Reason == ReasonClose || i.Reason == ReasonDurationExpired
}

// Tick 为单个决策周期的一致快照。
type Tick struct {
	Snapshot position.Snapshot
	Outputs  []float64
	Price    float64
	Time     time.Time
	Trend    trend.Direction
	Rules    risk.Rules
}

// Config 为仓位生命周期参数。
type Config struct {
	Symbol           string
	MaxTradeDuration int
	Risk             float64
	StopLoss         float64
	TrendEnabled     bool
	Policy           decision.Config
	Session          *Session
}

// Controller 在每个周期内根据持仓时长、平仓信号与开仓信号最多产生一个下单意图。
type Controller struct {
	cfg     Config
	counter *DurationCounter
	sizer   *risk.Sizer
	logger  *zap.Logger
}

// NewController 创建仓位生命周期控制器。
func NewController(cfg Config, sizer *risk.Sizer, logger *zap.Logger) (*Controller, error) {
	if sizer == nil {
		return nil, errors.New("lifecycle: sizer 不能为空")
	}
	if cfg.Symbol == "" {
		return nil, errors.New("lifecycle: symbol 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:     cfg,
		counter: NewDurationCounter(cfg.MaxTradeDuration),
		sizer:   sizer,
		logger:  logger.Named("lifecycle"),
	}, nil
}

// Counter 返回持仓时长计数器。
func (c *Controller) Counter() *DurationCounter {
	return c.counter
}

// Step 推进一个决策周期。第二个返回值表示本周期是否需要下单。
func (c *Controller) Step(tick Tick) (Intent, bool, error) {
	snap := tick.Snapshot
	if err := snap.Validate(); err != nil {
		return Intent{}, false, err
	}

	holding := snap.Holding()
	limited := c.counter.Max() > 0

	if holding && limited {
		c.counter.Decrement()
		if c.counter.Value() == 0 {
			c.counter.Reset()
			c.logger.Info("持仓超过最大周期，强制平仓",
				zap.String("symbol", c.cfg.Symbol),
				zap.Int("max_trade_duration", c.counter.Max()),
			)
			return c.closeIntent(tick, ReasonDurationExpired), true, nil
		}
	}

	if !holding && limited && c.counter.Value() < c.counter.Max() {
		c.counter.Reset()
	}

	ctx := decision.Context{
		Side:         snap.Side(),
		TrendEnabled: c.cfg.TrendEnabled,
		Trend:        tick.Trend,
		Price:        tick.Price,
		EntryPrice:   snap.EntryPrice,
	}

	switch action := decision.Decide(tick.Outputs, ctx, c.cfg.Policy); action {
	case decision.Close:
		return c.closeIntent(tick, ReasonClose), true, nil
	case decision.OpenLong, decision.OpenShort:
		if !c.cfg.Session.Active(tick.Time) && !holding {
			c.logger.Debug("不在交易时段，跳过开仓", zap.Time("time", tick.Time), zap.String("action", action.String()))
			return Intent{}, false, nil
		}
		return c.openIntent(tick, action)
	default:
		return Intent{}, false, nil
	}
}

func (c *Controller) closeIntent(tick Tick, reason Reason) Intent {
	side := SideSell
	if tick.Snapshot.Side() == position.SideShort {
		side = SideBuy
	}
	return Intent{
		Symbol:    c.cfg.Symbol,
		Side:      side,
		Type:      OrderTypeMarket,
		Quantity:  tick.Snapshot.AbsSize(),
		Reason:    reason,
		Price:     tick.Price,
		CreatedAt: tick.Time,
	}
}

func (c *Controller) openIntent(tick Tick, action decision.Action) (Intent, bool, error) {
	long := action == decision.OpenLong

	req := risk.Request{
		Balance:      tick.Snapshot.AvailableBalance,
		RiskFraction: c.cfg.Risk,
		EntryPrice:   tick.Price,
		StopPrice:    risk.StopPrice(tick.Price, c.cfg.StopLoss, long),
	}
	qty, err := c.sizer.Size(req, tick.Rules)
	if err != nil {
		return Intent{}, false, fmt.Errorf("lifecycle: 计算开仓数量失败: %w", err)
	}

	intent := Intent{
		Symbol:    c.cfg.Symbol,
		Side:      SideBuy,
		Type:      OrderTypeMarket,
		Quantity:  qty,
		Reason:    ReasonOpenLong,
		Price:     tick.Price,
		CreatedAt: tick.Time,
	}
	if !long {
		intent.Side = SideSell
		intent.Reason = ReasonOpenShort
	}
	return intent, true, nil
}
