package evo

import (
	"context"
	"errors"

	"neat-trader/internal/genome"
)

var (
	// ErrNoMutationChoice 表示当前基因组没有可用的变异目标。
	ErrNoMutationChoice = errors.New("evo: no mutation choice available")
	errRandRequired     = errors.New("evo: 随机源不能为空")
	errLineageRequired  = errors.New("evo: lineage table 不能为空")
)

// Operator 对基因组做一次变异，返回新的副本，不修改入参。
type Operator interface {
	Name() string
	Apply(ctx context.Context, g genome.Genome) (genome.Genome, error)
}
