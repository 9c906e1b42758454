package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
)

// KlineStream 订阅 Binance 合约K线推送，只转发已收盘的K线。
type KlineStream struct {
	symbol   string
	interval string
	testnet  bool
	logger   *zap.Logger
}

// NewKlineStream 创建K线订阅。symbol 接受 "BTC/USDT:USDT" 或 "BTCUSDT" 形式。
func NewKlineStream(symbol, interval string, testnet bool, logger *zap.Logger) *KlineStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KlineStream{
		symbol:   StreamSymbol(symbol),
		interval: interval,
		testnet:  testnet,
		logger:   logger.Named("stream"),
	}
}

// StreamSymbol 将 ccxt 交易对转换为 Binance 原生格式。
func StreamSymbol(symbol string) string {
	if idx := strings.Index(symbol, ":"); idx >= 0 {
		symbol = symbol[:idx]
	}
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// Run 订阅K线并把收盘K线写入 out，直到 ctx 取消。连接中断后按退避重连。
func (s *KlineStream) Run(ctx context.Context, out chan<- Candle) error {
	futures.UseTestnet = s.testnet
	backoff := time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		doneC, stopC, err := futures.WsKlineServe(s.symbol, s.interval, func(event *futures.WsKlineEvent) {
			candle, ok, convErr := candleFromEvent(event)
			if convErr != nil {
				s.logger.Warn("解析K线推送失败", zap.Error(convErr))
				return
			}
			if !ok {
				return
			}
			select {
			case out <- candle:
			case <-ctx.Done():
			}
		}, func(err error) {
			s.logger.Warn("K线推送异常", zap.String("symbol", s.symbol), zap.Error(err))
		})
		if err != nil {
			s.logger.Warn("订阅K线失败，等待重连", zap.Duration("wait", backoff), zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}

		s.logger.Info("已订阅K线推送", zap.String("symbol", s.symbol), zap.String("interval", s.interval))
		backoff = time.Second

		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return ctx.Err()
		case <-doneC:
			s.logger.Warn("K线推送连接断开，准备重连")
		}
	}
}

// candleFromEvent 转换推送事件；未收盘的K线返回 ok=false。
func candleFromEvent(event *futures.WsKlineEvent) (Candle, bool, error) {
	if event == nil || !event.Kline.IsFinal {
		return Candle{}, false, nil
	}
	k := event.Kline

	values := make([]float64, 5)
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Candle{}, false, fmt.Errorf("exchange: 解析K线字段 %q 失败: %w", raw, err)
		}
		values[i] = v
	}

	return Candle{
		Timestamp: time.UnixMilli(k.StartTime).UTC(),
		CloseTime: time.UnixMilli(k.EndTime).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
