package genome

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTopology 表示结构变更会破坏图的约束（自环、重复的启用连接等）。
	ErrInvalidTopology = errors.New("genome: invalid topology")
	// ErrUnknownNode 表示连接引用了不存在的节点。
	ErrUnknownNode = errors.New("genome: unknown node")
)

// NodeRole 表示节点在网络中的角色。
type NodeRole string

const (
	RoleInput  NodeRole = "input"
	RoleHidden NodeRole = "hidden"
	RoleOutput NodeRole = "output"
	RoleBias   NodeRole = "bias"
)

// Node 为网络节点，ID 在基因组生命周期内保持不变。
type Node struct {
	ID    int      `json:"id"`
	Role  NodeRole `json:"role"`
	Layer int      `json:"layer"` // 仅用于打破求值顺序的平局
}

// Connection 为带权重的有向连接，Innovation 用于跨基因组对齐。
type Connection struct {
	From       int     `json:"from"`
	To         int     `json:"to"`
	Weight     float64 `json:"weight"`
	Enabled    bool    `json:"enabled"`
	Innovation int     `json:"innovation"`
}

// Genome 以节点表 + 连接序列描述一个可进化的网络。
// 连接按创建顺序保存；节点只增不删。
type Genome struct {
	ID          string
	Inputs      int
	Outputs     int
	Nodes       map[int]Node
	Connections []Connection
	NextNodeID  int
	Fitness     float64
	Generation  int
}

// New 创建最小全连接基因组：输入节点与偏置节点连接到每个输出节点。
func New(inputs, outputs int, lineage *LineageTable, rng *rand.Rand) (Genome, error) {
	if inputs <= 0 || outputs <= 0 {
		return Genome{}, fmt.Errorf("genome: 输入/输出数量必须大于0 (inputs=%d outputs=%d)", inputs, outputs)
	}
	if lineage == nil {
		return Genome{}, errors.New("genome: lineage table 不能为空")
	}
	if rng == nil {
		return Genome{}, errors.New("genome: 随机源不能为空")
	}

	g := Genome{
		ID:      uuid.NewString(),
		Inputs:  inputs,
		Outputs: outputs,
		Nodes:   make(map[int]Node, inputs+outputs+1),
	}

	for i := 0; i < inputs; i++ {
		g.Nodes[i] = Node{ID: i, Role: RoleInput, Layer: 0}
	}
	g.Nodes[inputs] = Node{ID: inputs, Role: RoleBias, Layer: 0}
	for i := 0; i < outputs; i++ {
		id := inputs + 1 + i
		g.Nodes[id] = Node{ID: id, Role: RoleOutput, Layer: 1}
	}
	g.NextNodeID = inputs + outputs + 1

	for from := 0; from <= inputs; from++ {
		for _, to := range g.OutputIDs() {
			conn, err := CreateConnection(lineage, from, to, rng.Float64()*2-1)
			if err != nil {
				return Genome{}, err
			}
			if err := g.AddConnection(conn); err != nil {
				return Genome{}, err
			}
		}
	}

	return g, nil
}

// CreateConnection 构造连接；同一 (from,to) 在整个进化过程中复用同一创新号。
func CreateConnection(lineage *LineageTable, from, to int, weight float64) (Connection, error) {
	if from == to {
		return Connection{}, fmt.Errorf("%w: 节点 %d 不能连接到自身", ErrInvalidTopology, from)
	}
	if lineage == nil {
		return Connection{}, errors.New("genome: lineage table 不能为空")
	}
	return Connection{
		From:       from,
		To:         to,
		Weight:     ClampWeight(weight),
		Enabled:    true,
		Innovation: lineage.Innovation(from, to),
	}, nil
}

// ClampWeight 将权重限制在 [-1,1]。
func ClampWeight(w float64) float64 {
	if math.IsNaN(w) {
		return 0
	}
	if w > 1 {
		return 1
	}
	if w < -1 {
		return -1
	}
	return w
}

// Clone 返回完全独立的深拷贝。
func (g Genome) Clone() Genome {
	clone := g
	clone.Nodes = make(map[int]Node, len(g.Nodes))
	for id, n := range g.Nodes {
		clone.Nodes[id] = n
	}
	clone.Connections = make([]Connection, len(g.Connections))
	copy(clone.Connections, g.Connections)
	return clone
}

// AddConnection 追加连接，拒绝自环、未知端点以及重复的启用连接。
func (g *Genome) AddConnection(c Connection) error {
	if c.From == c.To {
		return fmt.Errorf("%w: 自环 %d->%d", ErrInvalidTopology, c.From, c.To)
	}
	if _, ok := g.Nodes[c.From]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, c.From)
	}
	if _, ok := g.Nodes[c.To]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, c.To)
	}
	if c.Enabled && g.HasEnabled(c.From, c.To) {
		return fmt.Errorf("%w: 已存在启用的连接 %d->%d", ErrInvalidTopology, c.From, c.To)
	}
	g.Connections = append(g.Connections, c)
	return nil
}

// AddHiddenNode 新增隐藏节点并返回。
func (g *Genome) AddHiddenNode(layer int) Node {
	return g.AddHiddenNodeWithID(g.NextNodeID, layer)
}

// AddHiddenNodeWithID 以指定编号新增隐藏节点，NextNodeID 随之前移。调用方保证编号未被占用。
func (g *Genome) AddHiddenNodeWithID(id, layer int) Node {
	node := Node{ID: id, Role: RoleHidden, Layer: layer}
	g.Nodes[node.ID] = node
	if id >= g.NextNodeID {
		g.NextNodeID = id + 1
	}
	return node
}

// ShiftLayers 将层号 >= from 的节点整体后移一层，exclude 节点除外。
func (g *Genome) ShiftLayers(from, exclude int) {
	for id, n := range g.Nodes {
		if id == exclude || n.Layer < from {
			continue
		}
		n.Layer++
		g.Nodes[id] = n
	}
}

// HasEnabled 判断是否存在启用的 (from,to) 连接。
func (g Genome) HasEnabled(from, to int) bool {
	for _, c := range g.Connections {
		if c.Enabled && c.From == from && c.To == to {
			return true
		}
	}
	return false
}

// IndexOf 返回 (from,to) 连接的下标，不存在时返回 -1。
func (g Genome) IndexOf(from, to int) int {
	for i, c := range g.Connections {
		if c.From == from && c.To == to {
			return i
		}
	}
	return -1
}

// InputIDs 按 ID 升序返回输入节点。
func (g Genome) InputIDs() []int {
	return g.idsWithRole(RoleInput)
}

// OutputIDs 按 ID 升序返回输出节点。
func (g Genome) OutputIDs() []int {
	return g.idsWithRole(RoleOutput)
}

// BiasID 返回偏置节点 ID，不存在时返回 -1。
func (g Genome) BiasID() int {
	ids := g.idsWithRole(RoleBias)
	if len(ids) == 0 {
		return -1
	}
	return ids[0]
}

// NodeIDs 按 ID 升序返回全部节点。
func (g Genome) NodeIDs() []int {
	ids := make([]int, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (g Genome) idsWithRole(role NodeRole) []int {
	ids := make([]int, 0)
	for id, n := range g.Nodes {
		if n.Role == role {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Validate 校验基因组的结构约束。
func (g Genome) Validate() error {
	if len(g.InputIDs()) != g.Inputs {
		return fmt.Errorf("%w: 输入节点数量 %d 与声明 %d 不一致", ErrInvalidTopology, len(g.InputIDs()), g.Inputs)
	}
	if len(g.OutputIDs()) != g.Outputs {
		return fmt.Errorf("%w: 输出节点数量 %d 与声明 %d 不一致", ErrInvalidTopology, len(g.OutputIDs()), g.Outputs)
	}

	enabled := make(map[[2]int]struct{}, len(g.Connections))
	for _, c := range g.Connections {
		if c.From == c.To {
			return fmt.Errorf("%w: 自环 %d", ErrInvalidTopology, c.From)
		}
		if _, ok := g.Nodes[c.From]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownNode, c.From)
		}
		if _, ok := g.Nodes[c.To]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownNode, c.To)
		}
		if c.Weight < -1 || c.Weight > 1 {
			return fmt.Errorf("%w: 连接 %d->%d 权重越界 %f", ErrInvalidTopology, c.From, c.To, c.Weight)
		}
		if !c.Enabled {
			continue
		}
		key := [2]int{c.From, c.To}
		if _, dup := enabled[key]; dup {
			return fmt.Errorf("%w: 重复的启用连接 %d->%d", ErrInvalidTopology, c.From, c.To)
		}
		enabled[key] = struct{}{}
	}
	for id := range g.Nodes {
		if id >= g.NextNodeID {
			return fmt.Errorf("%w: 节点 %d 超出 next_node_id %d", ErrInvalidTopology, id, g.NextNodeID)
		}
	}
	return nil
}
