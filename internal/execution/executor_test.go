package execution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"neat-trader/internal/lifecycle"
)

func TestExecutorExecute_SubmitsMarketOrder(t *testing.T) {
	mockClient := &mockOrderClient{}
	exec := NewExecutor(mockClient, Options{MaxRetry: 3, RetryDelay: time.Millisecond}, nil)

	result, err := exec.Execute(context.Background(), makeIntent(lifecycle.ReasonOpenLong))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.Executed {
		t.Fatalf("expected result.Executed=true")
	}
	if result.OrderID != "order-1" {
		t.Errorf("unexpected order id %q", result.OrderID)
	}
	if !strings.HasPrefix(result.ClientOrderID, "neat-") {
		t.Errorf("unexpected client order id %q", result.ClientOrderID)
	}

	if len(mockClient.calls) != 1 {
		t.Fatalf("unexpected call count: got %d want 1", len(mockClient.calls))
	}
	call := mockClient.calls[0]
	if call.side != "buy" || call.amount != 0.01 || call.symbol != "BTC/USDT:USDT" {
		t.Errorf("unexpected call %+v", call)
	}
	if _, ok := call.params["reduceOnly"]; ok {
		t.Errorf("opening order must not be reduceOnly")
	}
	if call.params["clientOrderId"] != result.ClientOrderID {
		t.Errorf("client order id not forwarded: %v", call.params)
	}
}

func TestExecutorExecute_CloseIsReduceOnly(t *testing.T) {
	mockClient := &mockOrderClient{}
	exec := NewExecutor(mockClient, Options{}, nil)

	intent := makeIntent(lifecycle.ReasonDurationExpired)
	intent.Side = lifecycle.SideSell
	if _, err := exec.Execute(context.Background(), intent); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if mockClient.calls[0].params["reduceOnly"] != true {
		t.Errorf("expected reduceOnly=true, got %v", mockClient.calls[0].params)
	}
}

func TestExecutorExecute_RetriesNetworkErrors(t *testing.T) {
	mockClient := &mockOrderClient{errs: []error{
		&ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "timeout"},
		&ccxt.Error{Type: ccxt.RequestTimeoutErrType, Message: "timeout"},
	}}
	exec := NewExecutor(mockClient, Options{MaxRetry: 3, RetryDelay: time.Millisecond}, nil)

	result, err := exec.Execute(context.Background(), makeIntent(lifecycle.ReasonOpenShort))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.Executed || len(mockClient.calls) != 3 {
		t.Fatalf("expected success on third attempt, calls=%d", len(mockClient.calls))
	}
}

func TestExecutorExecute_RejectsWithoutRetry(t *testing.T) {
	mockClient := &mockOrderClient{errs: []error{errors.New("Margin is insufficient.")}}
	exec := NewExecutor(mockClient, Options{MaxRetry: 3, RetryDelay: time.Millisecond}, nil)

	_, err := exec.Execute(context.Background(), makeIntent(lifecycle.ReasonOpenLong))
	if !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
	if len(mockClient.calls) != 1 {
		t.Fatalf("rejected orders must not be retried, calls=%d", len(mockClient.calls))
	}
}

func TestExecutorExecute_InvalidIntent(t *testing.T) {
	exec := NewExecutor(&mockOrderClient{}, Options{}, nil)

	intent := makeIntent(lifecycle.ReasonOpenLong)
	intent.Quantity = 0
	if _, err := exec.Execute(context.Background(), intent); err == nil {
		t.Fatalf("expected error for zero quantity")
	}

	intent = makeIntent(lifecycle.ReasonOpenLong)
	intent.Type = "LIMIT"
	if _, err := exec.Execute(context.Background(), intent); err == nil || !strings.Contains(err.Error(), "不支持的订单类型") {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
}

func TestExecutorSubmit_DoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	mockClient := &mockOrderClient{block: release}
	exec := NewExecutor(mockClient, Options{Timeout: time.Second}, nil)

	var (
		mu  sync.Mutex
		got []Result
	)
	exec.Submit(context.Background(), makeIntent(lifecycle.ReasonOpenLong), func(res Result, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		mu.Lock()
		got = append(got, res)
		mu.Unlock()
	})

	mu.Lock()
	if len(got) != 0 {
		t.Fatalf("Submit must return before the order completes")
	}
	mu.Unlock()

	close(release)
	exec.Wait()

	if len(got) != 1 || !got[0].Executed {
		t.Fatalf("expected one executed result, got %+v", got)
	}
}

func makeIntent(reason lifecycle.Reason) lifecycle.Intent {
	return lifecycle.Intent{
		Symbol:    "BTC/USDT:USDT",
		Side:      lifecycle.SideBuy,
		Type:      lifecycle.OrderTypeMarket,
		Quantity:  0.01,
		Reason:    reason,
		Price:     50000,
		CreatedAt: time.Now(),
	}
}

type orderCall struct {
	symbol string
	side   string
	amount float64
	params map[string]interface{}
}

type mockOrderClient struct {
	mu    sync.Mutex
	calls []orderCall
	errs  []error
	block chan struct{}
}

func (m *mockOrderClient) CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error) {
	if m.block != nil {
		<-m.block
	}

	opts := ccxt.CreateMarketOrderOptionsStruct{}
	for _, opt := range options {
		opt(&opts)
	}
	var params map[string]interface{}
	if opts.Params != nil {
		params = *opts.Params
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, orderCall{symbol: symbol, side: side, amount: amount, params: params})
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return ccxt.Order{}, err
	}
	id := "order-1"
	return ccxt.Order{Id: &id}, nil
}
