package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type marketClient interface {
	Symbol() string
	FetchCandles(ctx context.Context, timeframe string, limit int64) ([]Candle, error)
	MarketRules(ctx context.Context) (MarketRules, error)
}

// MarketDataService 聚合K线与交易规则获取。
type MarketDataService struct {
	client marketClient
	logger *zap.Logger
}

// NewMarketDataService 创建市场数据服务。
func NewMarketDataService(client marketClient, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketDataService{
		client: client,
		logger: logger,
	}
}

// GetSnapshot 并发拉取最近K线与交易规则。
func (s *MarketDataService) GetSnapshot(ctx context.Context, timeframe string, limit int) (MarketSnapshot, error) {
	if limit <= 0 {
		limit = 500
	}

	var (
		candles []Candle
		rules   MarketRules
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := s.client.FetchCandles(groupCtx, timeframe, int64(limit))
		if err != nil {
			return err
		}
		candles = data
		return nil
	})

	group.Go(func() error {
		r, err := s.client.MarketRules(groupCtx)
		if err != nil {
			return err
		}
		rules = r
		return nil
	})

	if err := group.Wait(); err != nil {
		return MarketSnapshot{}, err
	}

	snapshot := MarketSnapshot{
		Symbol:      s.client.Symbol(),
		Candles:     candles,
		Rules:       rules,
		RetrievedAt: time.Now().UTC(),
	}

	s.logger.Debug("市场数据快照获取完成",
		zap.String("symbol", snapshot.Symbol),
		zap.Time("retrieved_at", snapshot.RetrievedAt),
		zap.Int("candle_count", len(snapshot.Candles)),
		zap.Int32("quantity_precision", rules.QuantityPrecision),
		zap.Float64("min_notional", rules.MinNotional),
	)

	return snapshot, nil
}
