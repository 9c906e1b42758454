package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"neat-trader/internal/genome"
)

// EngineConfig 描述各类变异的触发概率。
type EngineConfig struct {
	AddConnectionRate float64
	AddNodeRate       float64
	ToggleRate        float64
	ResetProbability  float64
	StepScale         float64
	FeedForwardOnly   bool
}

// DefaultEngineConfig 返回默认变异参数。
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AddConnectionRate: 0.05,
		AddNodeRate:       0.03,
		ToggleRate:        0.01,
		ResetProbability:  DefaultResetProbability,
		StepScale:         DefaultStepScale,
	}
}

type scheduledOperator struct {
	op   Operator
	rate float64
}

// Engine 依次执行权重变异和按概率触发的结构变异。
// 同一时间只处理一个基因组，以保证创新号分配与随机序列可复现。
type Engine struct {
	mu         sync.Mutex
	lineage    *genome.LineageTable
	rng        *rand.Rand
	weights    Operator
	structural []scheduledOperator
	logger     *zap.Logger
}

// NewEngine 创建变异引擎。
func NewEngine(cfg EngineConfig, lineage *genome.LineageTable, rng *rand.Rand, logger *zap.Logger) (*Engine, error) {
	if lineage == nil {
		return nil, errLineageRequired
	}
	if rng == nil {
		return nil, errRandRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		lineage: lineage,
		rng:     rng,
		weights: &MutateWeights{Rand: rng, ResetProbability: cfg.ResetProbability, StepScale: cfg.StepScale},
		structural: []scheduledOperator{
			{op: &AddConnection{Rand: rng, Lineage: lineage, FeedForwardOnly: cfg.FeedForwardOnly}, rate: cfg.AddConnectionRate},
			{op: &AddNode{Rand: rng, Lineage: lineage}, rate: cfg.AddNodeRate},
			{op: &ToggleEnabled{Rand: rng}, rate: cfg.ToggleRate},
		},
		logger: logger.Named("evo"),
	}, nil
}

// Lineage 返回引擎使用的创新号表。
func (e *Engine) Lineage() *genome.LineageTable {
	return e.lineage
}

// Mutate 返回变异后的副本。结构变异无可选目标或会破坏拓扑时跳过该变异。
func (e *Engine) Mutate(ctx context.Context, g genome.Genome) (genome.Genome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mutated, err := e.weights.Apply(ctx, g)
	switch {
	case errors.Is(err, ErrNoMutationChoice):
		mutated = g.Clone()
	case err != nil:
		return genome.Genome{}, fmt.Errorf("evo: %s: %w", e.weights.Name(), err)
	}

	for _, s := range e.structural {
		if e.rng.Float64() >= s.rate {
			continue
		}
		next, err := s.op.Apply(ctx, mutated)
		if err != nil {
			if errors.Is(err, ErrNoMutationChoice) || errors.Is(err, genome.ErrInvalidTopology) {
				e.logger.Debug("跳过结构变异", zap.String("operator", s.op.Name()), zap.Error(err))
				continue
			}
			return genome.Genome{}, fmt.Errorf("evo: %s: %w", s.op.Name(), err)
		}
		mutated = next
	}
	return mutated, nil
}

// RandomGenome 使用引擎的随机源创建最小基因组。
func (e *Engine) RandomGenome(inputs, outputs int) (genome.Genome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return genome.New(inputs, outputs, e.lineage, e.rng)
}
