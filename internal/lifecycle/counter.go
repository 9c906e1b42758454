package lifecycle

// DurationCounter 记录持仓剩余的决策周期数，空仓时保持在最大值。
type DurationCounter struct {
	max   int
	value int
}

// NewDurationCounter 创建计数器，初始值为 limit。
func NewDurationCounter(limit int) *DurationCounter {
	if limit < 0 {
		limit = 0
	}
	return &DurationCounter{max: limit, value: limit}
}

// Decrement 将计数减一，最小为 0。
func (c *DurationCounter) Decrement() {
	if c.value > 0 {
		c.value--
	}
}

// Reset 将计数恢复到最大值。
func (c *DurationCounter) Reset() {
	c.value = c.max
}

// Value 返回当前计数。
func (c *DurationCounter) Value() int {
	return c.value
}

// Max 返回最大持仓周期数，0 表示不限制。
func (c *DurationCounter) Max() int {
	return c.max
}
