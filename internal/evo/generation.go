package evo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"neat-trader/internal/genome"
)

// FitnessFunc 评估单个基因组，需支持并发调用。
type FitnessFunc func(ctx context.Context, g genome.Genome) (float64, error)

// Generation 以精英保留 + 变异补足的方式推进种群，不做物种划分和交叉。
type Generation struct {
	Engine        *Engine
	Fitness       FitnessFunc
	Workers       int
	EliteFraction float64
	Logger        *zap.Logger

	// OnGeneration 在每一代评估完成后回调，可用于持久化最优个体。
	OnGeneration func(ctx context.Context, gen int, best genome.Genome) error
}

func (r *Generation) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Evaluate 并发计算适应度，返回按适应度降序排列的副本。
func (r *Generation) Evaluate(ctx context.Context, population []genome.Genome) ([]genome.Genome, error) {
	if r.Fitness == nil {
		return nil, errors.New("evo: fitness 函数不能为空")
	}

	ranked := make([]genome.Genome, len(population))
	g, gctx := errgroup.WithContext(ctx)
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for i := range population {
		i := i
		g.Go(func() error {
			score, err := r.Fitness(gctx, population[i])
			if err != nil {
				return fmt.Errorf("evo: 评估基因组 %s 失败: %w", population[i].ID, err)
			}
			if math.IsNaN(score) || math.IsInf(score, 0) {
				score = math.Inf(-1)
			}
			scored := population[i].Clone()
			scored.Fitness = score
			ranked[i] = scored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })
	return ranked, nil
}

// Next 基于排序后的种群生成下一代：精英原样保留，其余由精英变异而来。
func (r *Generation) Next(ctx context.Context, ranked []genome.Genome, size int) ([]genome.Genome, error) {
	if r.Engine == nil {
		return nil, errors.New("evo: engine 不能为空")
	}
	if len(ranked) == 0 || size <= 0 {
		return nil, ErrNoMutationChoice
	}

	elites := int(math.Ceil(float64(size) * r.EliteFraction))
	if elites < 1 {
		elites = 1
	}
	if elites > len(ranked) {
		elites = len(ranked)
	}
	if elites > size {
		elites = size
	}

	next := make([]genome.Genome, 0, size)
	for i := 0; i < elites; i++ {
		next = append(next, ranked[i].Clone())
	}
	for i := 0; len(next) < size; i++ {
		parent := ranked[i%elites]
		child, err := r.Engine.Mutate(ctx, parent)
		if err != nil {
			return nil, err
		}
		child.ID = uuid.NewString()
		child.Generation = parent.Generation + 1
		child.Fitness = 0
		next = append(next, child)
	}
	return next, nil
}

// Evolve 运行指定代数，返回历代最优个体。
func (r *Generation) Evolve(ctx context.Context, population []genome.Genome, generations int) (genome.Genome, error) {
	if len(population) == 0 {
		return genome.Genome{}, errors.New("evo: 初始种群为空")
	}

	size := len(population)
	var best genome.Genome
	hasBest := false

	for gen := 0; gen < generations; gen++ {
		if err := ctx.Err(); err != nil {
			return best, err
		}

		ranked, err := r.Evaluate(ctx, population)
		if err != nil {
			return best, err
		}
		if !hasBest || ranked[0].Fitness > best.Fitness {
			best = ranked[0].Clone()
			hasBest = true
		}

		r.logger().Info("完成一代评估",
			zap.Int("generation", gen),
			zap.Float64("best_fitness", ranked[0].Fitness),
			zap.Float64("overall_best", best.Fitness),
			zap.Int("connections", len(ranked[0].Connections)),
		)
		if r.OnGeneration != nil {
			if err := r.OnGeneration(ctx, gen, ranked[0]); err != nil {
				r.logger().Warn("保存当代最优个体失败", zap.Error(err))
			}
		}

		if gen == generations-1 {
			break
		}
		population, err = r.Next(ctx, ranked, size)
		if err != nil {
			return best, err
		}
	}
	return best, nil
}
