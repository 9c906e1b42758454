package evo

import (
	"context"
	"fmt"
	"math/rand"

	"neat-trader/internal/genome"
)

const (
	DefaultResetProbability = 0.1
	DefaultStepScale        = 1.0 / 50
)

// MutateWeights 逐条扰动连接权重：以 ResetProbability 概率重新均匀采样，否则叠加高斯步长。
type MutateWeights struct {
	Rand             *rand.Rand
	ResetProbability float64
	StepScale        float64
}

func (o *MutateWeights) Name() string {
	return "mutate_weights"
}

func (o *MutateWeights) Apply(ctx context.Context, g genome.Genome) (genome.Genome, error) {
	if err := ctx.Err(); err != nil {
		return genome.Genome{}, err
	}
	if o == nil || o.Rand == nil {
		return genome.Genome{}, errRandRequired
	}
	if len(g.Connections) == 0 {
		return genome.Genome{}, ErrNoMutationChoice
	}

	mutated := g.Clone()
	for i := range mutated.Connections {
		mutated.Connections[i].Weight = o.mutate(mutated.Connections[i].Weight)
	}
	return mutated, nil
}

func (o *MutateWeights) mutate(w float64) float64 {
	if o.Rand.Float64() < o.ResetProbability {
		return o.Rand.Float64()*2 - 1
	}
	return genome.ClampWeight(w + o.Rand.NormFloat64()*o.StepScale)
}

// AddConnection 在两个尚未启用连接的节点之间新增连接。
// 已存在但被禁用的同端点连接会被重新启用，而不是重复添加。
type AddConnection struct {
	Rand            *rand.Rand
	Lineage         *genome.LineageTable
	FeedForwardOnly bool
}

func (o *AddConnection) Name() string {
	return "add_connection"
}

func (o *AddConnection) Apply(ctx context.Context, g genome.Genome) (genome.Genome, error) {
	if err := ctx.Err(); err != nil {
		return genome.Genome{}, err
	}
	if o == nil || o.Rand == nil {
		return genome.Genome{}, errRandRequired
	}
	if o.Lineage == nil {
		return genome.Genome{}, errLineageRequired
	}

	candidates := o.candidates(g)
	if len(candidates) == 0 {
		return genome.Genome{}, ErrNoMutationChoice
	}
	pick := candidates[o.Rand.Intn(len(candidates))]

	mutated := g.Clone()
	if idx := mutated.IndexOf(pick[0], pick[1]); idx >= 0 {
		mutated.Connections[idx].Enabled = true
		return mutated, nil
	}

	conn, err := genome.CreateConnection(o.Lineage, pick[0], pick[1], o.Rand.Float64()*2-1)
	if err != nil {
		return genome.Genome{}, err
	}
	if err := mutated.AddConnection(conn); err != nil {
		return genome.Genome{}, err
	}
	return mutated, nil
}

func (o *AddConnection) candidates(g genome.Genome) [][2]int {
	ids := g.NodeIDs()
	out := make([][2]int, 0)
	for _, from := range ids {
		if g.Nodes[from].Role == genome.RoleOutput {
			continue
		}
		for _, to := range ids {
			role := g.Nodes[to].Role
			if from == to || role == genome.RoleInput || role == genome.RoleBias {
				continue
			}
			if g.HasEnabled(from, to) {
				continue
			}
			if o.FeedForwardOnly && reachable(g, to, from) {
				continue
			}
			out = append(out, [2]int{from, to})
		}
	}
	return out
}

// reachable 判断沿启用连接能否从 src 走到 dst。
func reachable(g genome.Genome, src, dst int) bool {
	adj := make(map[int][]int, len(g.Nodes))
	for _, c := range g.Connections {
		if c.Enabled {
			adj[c.From] = append(adj[c.From], c.To)
		}
	}
	seen := map[int]bool{src: true}
	stack := []int{src}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == dst {
			return true
		}
		for _, next := range adj[n] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// AddNode 拆分一条启用连接 A->B：禁用原连接，插入隐藏节点 N，
// 新增 A->N（权重 1）与 N->B（沿用原权重）。
type AddNode struct {
	Rand    *rand.Rand
	Lineage *genome.LineageTable
}

func (o *AddNode) Name() string {
	return "add_node"
}

func (o *AddNode) Apply(ctx context.Context, g genome.Genome) (genome.Genome, error) {
	if err := ctx.Err(); err != nil {
		return genome.Genome{}, err
	}
	if o == nil || o.Rand == nil {
		return genome.Genome{}, errRandRequired
	}
	if o.Lineage == nil {
		return genome.Genome{}, errLineageRequired
	}

	enabled := make([]int, 0, len(g.Connections))
	for i, c := range g.Connections {
		if c.Enabled {
			enabled = append(enabled, i)
		}
	}
	if len(enabled) == 0 {
		return genome.Genome{}, ErrNoMutationChoice
	}

	mutated := g.Clone()
	idx := enabled[o.Rand.Intn(len(enabled))]
	split := mutated.Connections[idx]
	mutated.Connections[idx].Enabled = false

	from := mutated.Nodes[split.From]
	to := mutated.Nodes[split.To]
	layer := from.Layer + 1
	nodeID := o.Lineage.SplitNode(split.Innovation, mutated.NextNodeID)
	if _, taken := mutated.Nodes[nodeID]; taken {
		// 同一连接在本基因组内被再次拆分
		nodeID = o.Lineage.NewNode(mutated.NextNodeID)
	}
	node := mutated.AddHiddenNodeWithID(nodeID, layer)
	if to.Layer <= layer && from.Layer < to.Layer {
		mutated.ShiftLayers(layer, node.ID)
	}

	in, err := genome.CreateConnection(o.Lineage, split.From, node.ID, 1)
	if err != nil {
		return genome.Genome{}, err
	}
	out, err := genome.CreateConnection(o.Lineage, node.ID, split.To, split.Weight)
	if err != nil {
		return genome.Genome{}, err
	}
	if err := mutated.AddConnection(in); err != nil {
		return genome.Genome{}, err
	}
	if err := mutated.AddConnection(out); err != nil {
		return genome.Genome{}, err
	}
	return mutated, nil
}

// ToggleEnabled 翻转随机一条连接的启用状态。
type ToggleEnabled struct {
	Rand *rand.Rand
}

func (o *ToggleEnabled) Name() string {
	return "toggle_enabled"
}

func (o *ToggleEnabled) Apply(ctx context.Context, g genome.Genome) (genome.Genome, error) {
	if err := ctx.Err(); err != nil {
		return genome.Genome{}, err
	}
	if o == nil || o.Rand == nil {
		return genome.Genome{}, errRandRequired
	}
	if len(g.Connections) == 0 {
		return genome.Genome{}, ErrNoMutationChoice
	}

	mutated := g.Clone()
	idx := o.Rand.Intn(len(mutated.Connections))
	conn := mutated.Connections[idx]
	if !conn.Enabled && mutated.HasEnabled(conn.From, conn.To) {
		return genome.Genome{}, fmt.Errorf("%w: 已存在启用的连接 %d->%d", genome.ErrInvalidTopology, conn.From, conn.To)
	}
	mutated.Connections[idx].Enabled = !conn.Enabled
	return mutated, nil
}
