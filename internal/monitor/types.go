package monitor

import (
	"time"

	"neat-trader/internal/execution"
	"neat-trader/internal/lifecycle"
	"neat-trader/internal/position"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventTick      EventType = "tick"
	EventIntent    EventType = "intent"
	EventExecution EventType = "execution"
	EventError     EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TickPayload 记录一个决策周期的输入与网络输出。
type TickPayload struct {
	Price    float64           `json:"price"`
	Position position.Snapshot `json:"position"`
	Inputs   []float64         `json:"inputs"`
	Outputs  []float64         `json:"outputs"`
	Action   string            `json:"action"`
	Trend    int               `json:"trend"`
}

// IntentPayload 记录生成的下单意图。
type IntentPayload struct {
	Intent lifecycle.Intent `json:"intent"`
}

// ExecutionPayload 记录订单执行结果。
type ExecutionPayload struct {
	Result execution.Result `json:"result"`
	Error  string           `json:"error,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
