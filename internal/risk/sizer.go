package risk

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"neat-trader/internal/exchange"
)

// ErrInvalidInput 表示仓位计算的输入不合法。
var ErrInvalidInput = errors.New("risk: invalid sizing input")

// Mode 决定仓位计算方式。
type Mode string

const (
	// ModePercent 按余额比例计算，不考虑止损距离。
	ModePercent Mode = "percent"
	// ModeRisk 按止损距离计算风险预算，缺少止损时退化为 ModePercent。
	ModeRisk Mode = "risk"
)

// ParseMode 解析配置中的 size_mode，空字符串视为 percent。
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePercent:
		return ModePercent, nil
	case ModeRisk:
		return ModeRisk, nil
	default:
		return "", fmt.Errorf("risk: 未知的仓位模式 %q", s)
	}
}

// Rules 为交易所下单精度与最小限制。
type Rules struct {
	QuantityPrecision int32
	MinNotional       float64
	MinAmount         float64
}

// RulesFromMarket 从交易所市场规则转换。
func RulesFromMarket(m exchange.MarketRules) Rules {
	return Rules{
		QuantityPrecision: m.QuantityPrecision,
		MinNotional:       m.MinNotional,
		MinAmount:         m.MinAmount,
	}
}

// Request 为一次仓位计算的输入。StopPrice 为空表示无止损。
type Request struct {
	Balance      float64
	RiskFraction float64
	EntryPrice   float64
	StopPrice    *float64
}

// Sizer 根据余额、风险比例与止损距离计算下单数量。
type Sizer struct {
	mode   Mode
	logger *zap.Logger
}

// NewSizer 创建仓位计算器。
func NewSizer(mode Mode, logger *zap.Logger) *Sizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == "" {
		mode = ModePercent
	}
	return &Sizer{mode: mode, logger: logger.Named("risk")}
}

// Mode 返回当前计算方式。
func (s *Sizer) Mode() Mode {
	return s.mode
}

// Size 计算下单数量：向上取整到数量精度，且不低于交易所最小下单量。
func (s *Sizer) Size(req Request, rules Rules) (float64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}

	budget := decimal.NewFromFloat(req.Balance).Mul(decimal.NewFromFloat(req.RiskFraction))
	entry := decimal.NewFromFloat(req.EntryPrice)

	var raw decimal.Decimal
	if stop, ok := s.stopDistance(req); ok {
		// budget / (|stop-entry|/entry) / entry 化简为 budget / |stop-entry|
		raw = budget.Div(stop)
	} else {
		raw = budget.Div(entry)
	}

	qty := raw.RoundCeil(rules.QuantityPrecision)
	minQty := minQuantity(entry, rules)
	if qty.LessThan(minQty) {
		s.logger.Debug("数量低于交易所最小值，按最小值下单",
			zap.String("quantity", qty.String()),
			zap.String("min_quantity", minQty.String()),
		)
		qty = minQty
	}
	return qty.InexactFloat64(), nil
}

// MinQuantity 返回给定价格下的最小下单数量。
func MinQuantity(entryPrice float64, rules Rules) (float64, error) {
	if entryPrice <= 0 || math.IsNaN(entryPrice) || math.IsInf(entryPrice, 0) {
		return 0, fmt.Errorf("%w: 开仓价格必须为正", ErrInvalidInput)
	}
	return minQuantity(decimal.NewFromFloat(entryPrice), rules).InexactFloat64(), nil
}

func minQuantity(entry decimal.Decimal, rules Rules) decimal.Decimal {
	notional := rules.MinNotional
	if notional <= 0 {
		notional = exchange.DefaultMinNotional
	}
	minQty := decimal.NewFromFloat(notional).Div(entry).RoundCeil(rules.QuantityPrecision)
	if rules.MinAmount > 0 {
		if amount := decimal.NewFromFloat(rules.MinAmount).RoundCeil(rules.QuantityPrecision); amount.GreaterThan(minQty) {
			minQty = amount
		}
	}
	return minQty
}

func (s *Sizer) stopDistance(req Request) (decimal.Decimal, bool) {
	if s.mode != ModeRisk || req.StopPrice == nil {
		return decimal.Zero, false
	}
	dist := decimal.NewFromFloat(*req.StopPrice).Sub(decimal.NewFromFloat(req.EntryPrice)).Abs()
	if dist.IsZero() {
		return decimal.Zero, false
	}
	return dist, true
}

func (r Request) validate() error {
	for _, v := range []float64{r.Balance, r.RiskFraction, r.EntryPrice} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: 输入包含非法数值", ErrInvalidInput)
		}
	}
	if r.EntryPrice <= 0 {
		return fmt.Errorf("%w: 开仓价格必须为正", ErrInvalidInput)
	}
	if r.Balance < 0 || r.RiskFraction < 0 {
		return fmt.Errorf("%w: 余额与风险比例不能为负", ErrInvalidInput)
	}
	if r.StopPrice != nil && (math.IsNaN(*r.StopPrice) || *r.StopPrice <= 0) {
		return fmt.Errorf("%w: 止损价格必须为正", ErrInvalidInput)
	}
	return nil
}

// StopPrice 根据止损比例推算止损价格，ratio<=0 时返回 nil。
func StopPrice(entryPrice, ratio float64, long bool) *float64 {
	if ratio <= 0 || entryPrice <= 0 {
		return nil
	}
	var stop float64
	if long {
		stop = entryPrice * (1 - ratio)
	} else {
		stop = entryPrice * (1 + ratio)
	}
	return &stop
}
