package genome

import (
	"fmt"
	"sync"
)

type pairKey struct {
	from int
	to   int
}

// LineageTable 记录一次进化运行内 (from,to) 到创新号的映射。
// 生命周期与进化运行一致，需显式传递给每次变异调用。
// 同时记录被拆分连接（按创新号）产生的隐藏节点编号，使不同基因组拆分同一连接时得到同一节点。
type LineageTable struct {
	mu       sync.Mutex
	next     int
	ids      map[pairKey]int
	splits   map[int]int
	nextNode int
}

// NewLineageTable 创建空的创新号表，编号从 1 开始。
func NewLineageTable() *LineageTable {
	return &LineageTable{
		next:   1,
		ids:    make(map[pairKey]int),
		splits: make(map[int]int),
	}
}

// SplitNode 返回拆分创新号为 innovation 的连接时应使用的隐藏节点编号。
// 首次拆分时分配不小于 floor 的新编号并登记。
func (t *LineageTable) SplitNode(innovation, floor int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.splits[innovation]; ok {
		return id
	}
	id := t.allocNode(floor)
	t.splits[innovation] = id
	return id
}

// NewNode 分配一个不与任何已登记节点冲突的隐藏节点编号，不登记拆分关系。
func (t *LineageTable) NewNode(floor int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocNode(floor)
}

func (t *LineageTable) allocNode(floor int) int {
	id := t.nextNode
	if floor > id {
		id = floor
	}
	t.nextNode = id + 1
	return id
}

// Innovation 返回 (from,to) 的创新号，首次出现时分配新的递增编号。
func (t *LineageTable) Innovation(from, to int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := pairKey{from: from, to: to}
	if id, ok := t.ids[key]; ok {
		return id
	}
	id := t.next
	t.ids[key] = id
	t.next++
	return id
}

// Lookup 查询已登记的创新号。
func (t *LineageTable) Lookup(from, to int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[pairKey{from: from, to: to}]
	return id, ok
}

// Observe 登记已有基因组（例如从文件加载）的连接，保证后续编号不冲突。
func (t *LineageTable) Observe(g Genome) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range g.Connections {
		key := pairKey{from: c.From, to: c.To}
		if id, ok := t.ids[key]; ok {
			if id != c.Innovation {
				return fmt.Errorf("genome: 连接 %d->%d 创新号冲突 (%d vs %d)", c.From, c.To, id, c.Innovation)
			}
			continue
		}
		t.ids[key] = c.Innovation
		if c.Innovation >= t.next {
			t.next = c.Innovation + 1
		}
	}
	if g.NextNodeID > t.nextNode {
		t.nextNode = g.NextNodeID
	}
	return nil
}

// Reset 清空表，仅在新一轮进化开始时调用。
func (t *LineageTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = 1
	t.ids = make(map[pairKey]int)
	t.splits = make(map[int]int)
	t.nextNode = 0
}

// Len 返回已登记的连接数。
func (t *LineageTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}
