package position

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

type balanceClient interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
}

// Manager 从交易所读取单个交易对的资金与仓位。
type Manager struct {
	client balanceClient
	pair   string
	quote  string
	logger *zap.Logger
}

// NewManager 创建仓位管理器。quote 为保证金币种，例如 USDT。
func NewManager(client balanceClient, pair, quote string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if quote == "" {
		quote = QuoteAsset(pair)
	}
	return &Manager{
		client: client,
		pair:   pair,
		quote:  strings.ToUpper(quote),
		logger: logger.Named("position"),
	}
}

// QuoteAsset 从 ccxt 交易对（BTC/USDT:USDT）中解析保证金币种。
func QuoteAsset(pair string) string {
	if idx := strings.Index(pair, ":"); idx >= 0 {
		return strings.ToUpper(pair[idx+1:])
	}
	if idx := strings.Index(pair, "/"); idx >= 0 {
		return strings.ToUpper(pair[idx+1:])
	}
	return "USDT"
}

// FetchSnapshot 获取可用余额与当前交易对仓位。保证金币种余额缺失时返回 ErrMissingPosition。
func (m *Manager) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Pair:      m.pair,
		Timestamp: time.Now().UTC(),
	}

	balances, err := m.client.FetchBalance()
	if err != nil {
		return Snapshot{}, fmt.Errorf("position: 获取账户余额失败: %w", err)
	}

	free, ok := balances.Free[m.quote]
	if !ok || free == nil {
		return Snapshot{}, fmt.Errorf("%w: 未找到 %s 余额", ErrMissingPosition, m.quote)
	}
	snap.AvailableBalance = *free

	rawPositions, err := m.client.FetchPositions()
	if err != nil {
		return Snapshot{}, fmt.Errorf("position: 获取持仓失败: %w", err)
	}

	for _, rawPos := range rawPositions {
		symbol := derefString(rawPos.Symbol)
		if symbol == "" || !strings.EqualFold(symbol, m.pair) {
			continue
		}

		size := signedSize(rawPos)
		if size == 0 {
			continue
		}
		snap.Size = size
		snap.EntryPrice = derefFloat(rawPos.EntryPrice)
		snap.UnrealizedPnL = derefFloat(rawPos.UnrealizedPnl)
		break
	}

	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}

	m.logger.Debug("仓位快照",
		zap.String("pair", snap.Pair),
		zap.String("side", string(snap.Side())),
		zap.Float64("size", snap.Size),
		zap.Float64("entry_price", snap.EntryPrice),
		zap.Float64("available_balance", snap.AvailableBalance),
		zap.Float64("unrealized_pnl", snap.UnrealizedPnL),
	)
	return snap, nil
}

// signedSize 返回带符号的合约数量，优先使用 Binance 原始的 positionAmt。
func signedSize(p ccxt.Position) float64 {
	if p.Info != nil {
		if v, ok := p.Info["positionAmt"]; ok {
			if amt := parseNumeric(v); amt != 0 {
				return amt
			}
		}
	}

	size := math.Abs(derefFloat(p.Contracts))
	if strings.EqualFold(strings.TrimSpace(derefString(p.Side)), "short") {
		return -size
	}
	return size
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
