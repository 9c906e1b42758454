package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"neat-trader/internal/genome"
)

// ErrInputSize 表示输入向量长度与基因组输入节点数不一致。
var ErrInputSize = errors.New("nn: input size mismatch")

// SigmoidSlope 为隐藏层与输出层 sigmoid 的陡峭系数。
const SigmoidSlope = 4.9

type edge struct {
	src    int
	weight float64
	back   bool
}

// Network 是基因组编译后的可执行网络。
// 回边读取上一次 Activate 的节点值（首次为 0），因此同一 Network 不能并发使用。
type Network struct {
	order    []int // 槽位的求值顺序
	roles    []genome.NodeRole
	incoming [][]edge
	inputs   []int
	bias     int
	outputs  []int
	prev     []float64
	curr     []float64
}

// Compile 按依赖关系确定求值顺序：每次选择前驱都已就绪的第一个节点（按 Layer、ID 排序），
// 遇到环时取剩余的第一个节点打破，闭合环的连接记为回边。
func Compile(g genome.Genome) (*Network, error) {
	ids := g.NodeIDs()
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := g.Nodes[ids[i]], g.Nodes[ids[j]]
		if a.Layer != b.Layer {
			return a.Layer < b.Layer
		}
		return a.ID < b.ID
	})

	slot := make(map[int]int, len(ids))
	for i, id := range ids {
		slot[id] = i
	}

	preds := make([][]int, len(ids))
	for _, c := range g.Connections {
		if !c.Enabled {
			continue
		}
		from, ok := slot[c.From]
		if !ok {
			return nil, fmt.Errorf("nn: %w: %d", genome.ErrUnknownNode, c.From)
		}
		to, ok := slot[c.To]
		if !ok {
			return nil, fmt.Errorf("nn: %w: %d", genome.ErrUnknownNode, c.To)
		}
		preds[to] = append(preds[to], from)
	}

	order := make([]int, 0, len(ids))
	placed := make([]bool, len(ids))
	position := make([]int, len(ids))
	for len(order) < len(ids) {
		next := -1
		for i := range ids {
			if placed[i] {
				continue
			}
			if next < 0 {
				next = i
			}
			if ready(preds[i], placed) {
				next = i
				break
			}
		}
		placed[next] = true
		position[next] = len(order)
		order = append(order, next)
	}

	n := &Network{
		order:    order,
		roles:    make([]genome.NodeRole, len(ids)),
		incoming: make([][]edge, len(ids)),
		bias:     -1,
		prev:     make([]float64, len(ids)),
		curr:     make([]float64, len(ids)),
	}
	for i, id := range ids {
		n.roles[i] = g.Nodes[id].Role
	}
	for _, c := range g.Connections {
		if !c.Enabled {
			continue
		}
		from, to := slot[c.From], slot[c.To]
		n.incoming[to] = append(n.incoming[to], edge{
			src:    from,
			weight: c.Weight,
			back:   position[from] >= position[to],
		})
	}
	for _, id := range g.InputIDs() {
		n.inputs = append(n.inputs, slot[id])
	}
	for _, id := range g.OutputIDs() {
		n.outputs = append(n.outputs, slot[id])
	}
	if id := g.BiasID(); id >= 0 {
		n.bias = slot[id]
	}
	return n, nil
}

func ready(preds []int, placed []bool) bool {
	for _, p := range preds {
		if !placed[p] {
			return false
		}
	}
	return true
}

// Activate 执行一次前向传播，返回按输出节点 ID 排序的输出。
func (n *Network) Activate(inputs []float64) ([]float64, error) {
	if len(inputs) != len(n.inputs) {
		return nil, fmt.Errorf("%w: got %d want %d", ErrInputSize, len(inputs), len(n.inputs))
	}

	for i := range n.curr {
		n.curr[i] = 0
	}
	for i, s := range n.inputs {
		n.curr[s] = inputs[i]
	}
	if n.bias >= 0 {
		n.curr[n.bias] = 1
	}

	for _, s := range n.order {
		if n.roles[s] == genome.RoleInput || n.roles[s] == genome.RoleBias {
			continue
		}
		var sum float64
		for _, e := range n.incoming[s] {
			if e.back {
				sum += n.prev[e.src] * e.weight
			} else {
				sum += n.curr[e.src] * e.weight
			}
		}
		n.curr[s] = Sigmoid(sum)
	}

	copy(n.prev, n.curr)
	out := make([]float64, len(n.outputs))
	for i, s := range n.outputs {
		out[i] = n.curr[s]
	}
	return out, nil
}

// Reset 清空回边保存的上一轮状态。
func (n *Network) Reset() {
	for i := range n.prev {
		n.prev[i] = 0
	}
}

// InputSize 返回期望的输入长度。
func (n *Network) InputSize() int {
	return len(n.inputs)
}

// BackEdges 返回回边数量，无回边表示网络是纯前馈的。
func (n *Network) BackEdges() int {
	count := 0
	for _, in := range n.incoming {
		for _, e := range in {
			if e.back {
				count++
			}
		}
	}
	return count
}

// Evaluate 在全新状态上编译并执行一次基因组，结果只取决于基因组与输入。
func Evaluate(g genome.Genome, inputs []float64) ([]float64, error) {
	n, err := Compile(g)
	if err != nil {
		return nil, err
	}
	return n.Activate(inputs)
}

// Sigmoid 返回 1/(1+e^{-4.9x})。
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-SigmoidSlope*x))
}
