package backtest

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"neat-trader/internal/position"
)

// ErrInsufficientMargin 表示可用保证金不足以开仓。
var ErrInsufficientMargin = errors.New("backtest: insufficient margin")

const sizeEpsilon = 1e-12

// Fill 为一次模拟成交。
type Fill struct {
	Side        string
	Quantity    float64
	Price       float64
	Fee         float64
	RealizedPnL float64
	Time        time.Time
}

// Simulator 模拟单个合约交易对的逐仓账户：带符号仓位、开仓均价、手续费与杠杆保证金。
type Simulator struct {
	initialEquity float64
	balance       float64
	leverage      float64
	feeRate       float64

	size       float64
	entryPrice float64
	lastPrice  float64

	equityHistory []float64
	returnHistory []float64
	tradeCount    int
	rejected      int
}

// NewSimulator 创建模拟账户。
func NewSimulator(initialEquity float64, leverage int, feeRate float64) *Simulator {
	if initialEquity <= 0 {
		initialEquity = 10000
	}
	if leverage <= 0 {
		leverage = 1
	}
	if feeRate < 0 {
		feeRate = 0
	}
	return &Simulator{
		initialEquity: initialEquity,
		balance:       initialEquity,
		leverage:      float64(leverage),
		feeRate:       feeRate,
		equityHistory: []float64{initialEquity},
	}
}

// Advance 以最新价格标记仓位并记录权益。
func (s *Simulator) Advance(price float64) {
	if price <= 0 || math.IsNaN(price) {
		return
	}
	prev := s.Equity()
	s.lastPrice = price
	equity := s.Equity()
	if s.size != 0 && prev != 0 {
		s.returnHistory = append(s.returnHistory, equity/prev-1)
	}
	s.equityHistory = append(s.equityHistory, equity)
}

// Execute 以 price 成交一笔市价单。side 为 buy 或 sell。
func (s *Simulator) Execute(side string, qty, price float64, ts time.Time) (Fill, error) {
	if qty <= 0 || price <= 0 || math.IsNaN(qty) || math.IsNaN(price) {
		return Fill{}, fmt.Errorf("backtest: 非法成交参数 qty=%f price=%f", qty, price)
	}

	signed := qty
	switch strings.ToLower(side) {
	case "buy":
	case "sell":
		signed = -qty
	default:
		return Fill{}, fmt.Errorf("backtest: 未知的方向 %q", side)
	}

	fee := qty * price * s.feeRate
	opening := s.size == 0 || sameSign(s.size, signed) || math.Abs(signed) > math.Abs(s.size)
	if opening {
		openQty := math.Abs(signed)
		if !sameSign(s.size, signed) && s.size != 0 {
			openQty -= math.Abs(s.size)
		}
		required := openQty*price/s.leverage + fee
		if required > s.available()+s.releasedMargin(signed)+sizeEpsilon {
			s.rejected++
			return Fill{}, fmt.Errorf("%w: 需要 %.4f", ErrInsufficientMargin, required)
		}
	}

	fill := Fill{Side: strings.ToLower(side), Quantity: qty, Price: price, Fee: fee, Time: ts}
	s.balance -= fee

	switch {
	case s.size == 0 || sameSign(s.size, signed):
		total := s.size + signed
		s.entryPrice = (math.Abs(s.size)*s.entryPrice + qty*price) / math.Abs(total)
		s.size = total
	default:
		closed := math.Min(math.Abs(signed), math.Abs(s.size))
		direction := 1.0
		if s.size < 0 {
			direction = -1
		}
		fill.RealizedPnL = closed * (price - s.entryPrice) * direction
		s.balance += fill.RealizedPnL
		s.size += signed
		switch {
		case math.Abs(s.size) < sizeEpsilon:
			s.size = 0
			s.entryPrice = 0
		case !sameSign(s.size, -signed):
			// 反向开仓，剩余部分以成交价为开仓价
			s.entryPrice = price
		}
	}

	if s.lastPrice <= 0 {
		s.lastPrice = price
	}
	s.tradeCount++
	return fill, nil
}

// Snapshot 返回与交易所格式一致的仓位快照。
func (s *Simulator) Snapshot(pair string, ts time.Time) position.Snapshot {
	return position.Snapshot{
		Pair:             pair,
		Size:             s.size,
		EntryPrice:       s.entryPrice,
		AvailableBalance: s.available(),
		UnrealizedPnL:    s.unrealized(),
		Timestamp:        ts,
	}
}

// Equity 返回钱包余额加未实现盈亏。
func (s *Simulator) Equity() float64 {
	return s.balance + s.unrealized()
}

func (s *Simulator) Size() float64 {
	return s.size
}

func (s *Simulator) TradeCount() int {
	return s.tradeCount
}

func (s *Simulator) Rejected() int {
	return s.rejected
}

func (s *Simulator) EquityHistory() []float64 {
	return append([]float64(nil), s.equityHistory...)
}

func (s *Simulator) ReturnHistory() []float64 {
	return append([]float64(nil), s.returnHistory...)
}

func (s *Simulator) unrealized() float64 {
	if s.size == 0 || s.lastPrice <= 0 {
		return 0
	}
	return s.size * (s.lastPrice - s.entryPrice)
}

func (s *Simulator) available() float64 {
	margin := math.Abs(s.size) * s.entryPrice / s.leverage
	return math.Max(0, s.balance+math.Min(0, s.unrealized())-margin)
}

// releasedMargin 为反向成交时被释放的原仓位保证金。
func (s *Simulator) releasedMargin(signed float64) float64 {
	if s.size == 0 || sameSign(s.size, signed) {
		return 0
	}
	return math.Abs(s.size) * s.entryPrice / s.leverage
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
