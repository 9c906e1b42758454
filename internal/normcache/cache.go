package normcache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

type discarder interface {
	Discard(ctx context.Context) error
}

// Cache 保存各通道的归一化边界。第一批数据计算出的边界被持久化，之后只读复用。
type Cache struct {
	mu      sync.Mutex
	backend Backend
	bounds  []Bounds
	logger  *zap.Logger
}

// Open 从后端加载已持久化的边界；数据损坏时记录警告并视为不存在。
func Open(ctx context.Context, backend Backend, logger *zap.Logger) (*Cache, error) {
	if backend == nil {
		return nil, fmt.Errorf("normcache: backend 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{backend: backend, logger: logger.Named("normcache")}
	bounds, err := backend.Load(ctx)
	switch {
	case errors.Is(err, ErrCacheCorrupt):
		c.logger.Warn("归一化边界已损坏，将重新计算", zap.Error(err))
		if d, ok := backend.(discarder); ok {
			if derr := d.Discard(ctx); derr != nil {
				return nil, derr
			}
		}
	case err != nil:
		return nil, err
	default:
		c.bounds = bounds
	}

	if len(c.bounds) > 0 {
		c.logger.Info("已加载归一化边界", zap.Int("channels", len(c.bounds)))
	}
	return c, nil
}

// Bounds 返回当前已持久化的边界副本。
func (c *Cache) Bounds() []Bounds {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Bounds, len(c.bounds))
	copy(out, c.bounds)
	return out
}

// Resolve 返回与 batch 通道一一对应的边界。
// 尚无持久化数据时以本批数据计算并写入；已有数据时直接复用，
// 超出已存通道数的部分按本批数据临时计算，不写入。
func (c *Cache) Resolve(ctx context.Context, batch [][]float64) ([]Bounds, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.bounds) == 0 {
		computed := make([]Bounds, len(batch))
		for i, values := range batch {
			computed[i] = c.compute(i, values)
		}

		err := c.backend.Save(ctx, computed)
		switch {
		case errors.Is(err, ErrBoundsExist):
			winner, loadErr := c.backend.Load(ctx)
			if loadErr != nil {
				return nil, fmt.Errorf("normcache: 加载已存在的边界失败: %w", loadErr)
			}
			c.logger.Info("边界已由其他写入者持久化，改用已存边界")
			c.bounds = winner
		case err != nil:
			// 保留在内存中，后续批次仍复用同一组边界
			c.logger.Warn("持久化归一化边界失败", zap.Error(err))
			c.bounds = computed
		default:
			c.logger.Info("已持久化归一化边界", zap.Int("channels", len(computed)))
			c.bounds = computed
		}
		if len(c.bounds) == 0 {
			return computed, nil
		}
	}

	out := make([]Bounds, len(batch))
	for i, values := range batch {
		if i < len(c.bounds) {
			out[i] = c.bounds[i]
			continue
		}
		out[i] = c.compute(i, values)
	}
	return out, nil
}

func (c *Cache) compute(channel int, values []float64) Bounds {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		c.logger.Warn("通道没有有效值，边界置为0", zap.Int("channel", channel))
		return Bounds{}
	}
	return Bounds{Min: lo, Max: hi}
}
