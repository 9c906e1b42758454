package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"neat-trader/internal/config"
)

// Client 负责与交易所交互并实现重试机制。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm
	symbol   string

	marketsMu sync.Mutex
	markets   map[string]ccxt.MarketInterface
}

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, symbol string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(symbol) == "" {
		return nil, errors.New("exchange: 交易对不能为空")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger.Named("exchange"),
		exchange: ex,
		symbol:   symbol,
	}, nil
}

// Symbol 返回交易对符号。
func (c *Client) Symbol() string {
	return c.symbol
}

// Raw 返回底层 ccxt 客户端，供仓位与下单模块使用。
func (c *Client) Raw() *ccxt.Binanceusdm {
	return c.exchange
}

// FetchCandles 获取最近 limit 根K线。
func (c *Client) FetchCandles(ctx context.Context, timeframe string, limit int64) ([]Candle, error) {
	return c.fetchOHLCV(ctx, timeframe, 0, limit)
}

// FetchHistory 从 since 开始分页拉取K线，直到凑满 total 根或没有更多数据。
func (c *Client) FetchHistory(ctx context.Context, timeframe string, since time.Time, total int) ([]Candle, error) {
	const pageSize = 1000

	step, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	out := make([]Candle, 0, total)
	cursor := since.UnixMilli()
	for len(out) < total {
		limit := int64(total - len(out))
		if limit > pageSize {
			limit = pageSize
		}
		page, err := c.fetchOHLCV(ctx, timeframe, cursor, limit)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, candle := range page {
			if len(out) > 0 && !candle.Timestamp.After(out[len(out)-1].Timestamp) {
				continue
			}
			out = append(out, candle)
		}
		cursor = page[len(page)-1].Timestamp.Add(step).UnixMilli()
		if int64(len(page)) < limit {
			break
		}
	}

	c.logger.Info("历史K线拉取完成",
		zap.String("symbol", c.symbol),
		zap.String("timeframe", timeframe),
		zap.Int("count", len(out)),
	)
	return out, nil
}

func (c *Client) fetchOHLCV(ctx context.Context, timeframe string, since int64, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}
	step, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	var raw []ccxt.OHLCV
	err = c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		opts := []ccxt.FetchOHLCVOptions{
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		}
		if since > 0 {
			opts = append(opts, ccxt.WithFetchOHLCVSince(since))
		}
		result, err := c.exchange.FetchOHLCV(c.symbol, opts...)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		ts := time.UnixMilli(item.Timestamp).UTC()
		candles = append(candles, Candle{
			Timestamp: ts,
			CloseTime: ts.Add(step - time.Millisecond),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// MarketRules 返回交易对的数量精度与最小名义价值。
func (c *Client) MarketRules(ctx context.Context) (MarketRules, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return MarketRules{}, err
	}

	c.marketsMu.Lock()
	market, ok := c.markets[c.symbol]
	c.marketsMu.Unlock()
	if !ok {
		return MarketRules{}, fmt.Errorf("%w: %s", ErrMarketNotFound, c.symbol)
	}
	return rulesFromMarket(c.symbol, market), nil
}

func rulesFromMarket(symbol string, market ccxt.MarketInterface) MarketRules {
	rules := MarketRules{
		Symbol:      symbol,
		MinNotional: DefaultMinNotional,
	}
	if market.Precision.Amount != nil {
		rules.QuantityPrecision = precisionDigits(*market.Precision.Amount)
	}
	if market.Precision.Price != nil {
		rules.PricePrecision = precisionDigits(*market.Precision.Price)
	}
	if market.Limits.Cost.Min != nil && *market.Limits.Cost.Min > 0 {
		rules.MinNotional = *market.Limits.Cost.Min
	}
	if market.Limits.Amount.Min != nil {
		rules.MinAmount = *market.Limits.Amount.Min
	}
	return rules
}

// precisionDigits 将步长（如 0.001）转换为小数位数。
func precisionDigits(step float64) int32 {
	if step <= 0 || step >= 1 {
		return 0
	}
	return int32(math.Round(-math.Log10(step)))
}

// Prepare 设置杠杆与保证金模式，失败只记录日志。
func (c *Client) Prepare(ctx context.Context, leverage int, marginMode string) {
	if leverage > 0 {
		err := c.callWithRetry(ctx, "set_leverage", func() error {
			_, err := c.exchange.SetLeverage(int64(leverage), ccxt.WithSetLeverageSymbol(c.symbol))
			return err
		})
		if err != nil {
			c.logger.Warn("设置杠杆失败", zap.Int("leverage", leverage), zap.Error(err))
		} else {
			c.logger.Info("已设置杠杆", zap.String("symbol", c.symbol), zap.Int("leverage", leverage))
		}
	}

	if marginMode != "" {
		err := c.callWithRetry(ctx, "set_margin_mode", func() error {
			_, err := c.exchange.SetMarginMode(strings.ToLower(marginMode), ccxt.WithSetMarginModeSymbol(c.symbol))
			return err
		})
		if err != nil {
			// 保证金模式未变化时交易所同样返回错误
			c.logger.Warn("设置保证金模式失败", zap.String("margin_mode", marginMode), zap.Error(err))
		} else {
			c.logger.Info("已设置保证金模式", zap.String("symbol", c.symbol), zap.String("margin_mode", marginMode))
		}
	}
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.markets != nil {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		markets, err := c.exchange.LoadMarkets()
		if err != nil {
			return err
		}
		c.markets = markets
		return nil
	})
	if loadErr != nil {
		return loadErr
	}

	c.logger.Info("已完成市场元数据加载", zap.String("symbol", c.symbol), zap.Int("markets", len(c.markets)))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
