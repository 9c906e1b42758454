package position

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMissingPosition 表示账户或仓位数据缺失，本轮决策应跳过。
var ErrMissingPosition = errors.New("position: missing position data")

// Side 为仓位方向。
type Side string

const (
	SideFlat  Side = "FLAT"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Snapshot 为单个交易对的账户与仓位快照。Size 带符号，正数为多头，负数为空头。
type Snapshot struct {
	Pair             string    `json:"pair"`
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entry_price"`
	AvailableBalance float64   `json:"available_balance"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	Timestamp        time.Time `json:"timestamp"`
}

// Side 由 Size 符号推导方向。
func (s Snapshot) Side() Side {
	switch {
	case s.Size > 0:
		return SideLong
	case s.Size < 0:
		return SideShort
	default:
		return SideFlat
	}
}

// Holding 表示是否持有仓位。
func (s Snapshot) Holding() bool {
	return s.Size != 0
}

// AbsSize 返回仓位数量的绝对值。
func (s Snapshot) AbsSize() float64 {
	return math.Abs(s.Size)
}

// Validate 校验快照是否可用于决策。
func (s Snapshot) Validate() error {
	if s.Pair == "" {
		return fmt.Errorf("%w: 交易对为空", ErrMissingPosition)
	}
	if math.IsNaN(s.Size) || math.IsNaN(s.AvailableBalance) || math.IsNaN(s.UnrealizedPnL) {
		return fmt.Errorf("%w: 快照包含非法数值", ErrMissingPosition)
	}
	if s.Holding() && s.EntryPrice <= 0 {
		return fmt.Errorf("%w: 持仓缺少开仓价格", ErrMissingPosition)
	}
	return nil
}
