// Package mock provides an in-memory Invoker for tests.
package mock

import (
	"context"
	"sync"

	"roomscan/internal/inference"
)

// MockInvoker records every invocation and returns a configurable error.
type MockInvoker struct {
	mu    sync.Mutex
	calls []inference.InvokeRequest

	// Err, when set, is returned from every Invoke call.
	Err error
}

func (m *MockInvoker) Invoke(_ context.Context, req inference.InvokeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	return m.Err
}

// Calls returns a copy of all recorded invocations.
func (m *MockInvoker) Calls() []inference.InvokeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]inference.InvokeRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Compile-time check that MockInvoker implements Invoker.
var _ inference.Invoker = (*MockInvoker)(nil)
