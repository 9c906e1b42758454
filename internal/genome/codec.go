package genome

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/bytedance/sonic"
)

type wireGenome struct {
	ID          string       `json:"id"`
	Inputs      int          `json:"inputs"`
	Outputs     int          `json:"outputs"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	NextNodeID  int          `json:"next_node_id"`
	Fitness     float64      `json:"fitness"`
	Generation  int          `json:"generation"`
}

// Marshal 将基因组编码为 JSON，节点按 ID 排序保证输出稳定。
func Marshal(g Genome) ([]byte, error) {
	nodes := make([]Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	data, err := json.Marshal(wireGenome{
		ID:          g.ID,
		Inputs:      g.Inputs,
		Outputs:     g.Outputs,
		Nodes:       nodes,
		Connections: g.Connections,
		NextNodeID:  g.NextNodeID,
		Fitness:     g.Fitness,
		Generation:  g.Generation,
	})
	if err != nil {
		return nil, fmt.Errorf("genome: 编码失败: %w", err)
	}
	return data, nil
}

// Unmarshal 解码并校验基因组。
func Unmarshal(data []byte) (Genome, error) {
	var w wireGenome
	if err := json.Unmarshal(data, &w); err != nil {
		return Genome{}, fmt.Errorf("genome: 解码失败: %w", err)
	}

	g := Genome{
		ID:          w.ID,
		Inputs:      w.Inputs,
		Outputs:     w.Outputs,
		Nodes:       make(map[int]Node, len(w.Nodes)),
		Connections: w.Connections,
		NextNodeID:  w.NextNodeID,
		Fitness:     w.Fitness,
		Generation:  w.Generation,
	}
	if g.Connections == nil {
		g.Connections = []Connection{}
	}
	for _, n := range w.Nodes {
		if _, dup := g.Nodes[n.ID]; dup {
			return Genome{}, fmt.Errorf("%w: 重复的节点 %d", ErrInvalidTopology, n.ID)
		}
		g.Nodes[n.ID] = n
	}
	if err := g.Validate(); err != nil {
		return Genome{}, err
	}
	return g, nil
}

// SaveFile 写入文件，先写临时文件再原子替换。
func SaveFile(path string, g Genome) error {
	data, err := Marshal(g)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("genome: 创建目录失败: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("genome: 写入文件失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("genome: 替换文件失败: %w", err)
	}
	return nil
}

// LoadFile 从文件加载基因组。
func LoadFile(path string) (Genome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Genome{}, fmt.Errorf("genome: 读取文件失败: %w", err)
	}
	return Unmarshal(data)
}
