package gateway

import (
	"context"
	"sync"
)

// MockClient is a scripted gateway used in tests. Results are returned in
// order per merchant reference; an unscripted reference gets the Default
// result.
type MockClient struct {
	mu      sync.Mutex
	scripts map[string][]*ChargeResult
	Default *ChargeResult
	Err     error

	Charges       []ChargeRequest
	StoredMethods []StoredMethod
}

// NewMockClient returns a mock that refuses everything until scripted.
func NewMockClient() *MockClient {
	return &MockClient{
		scripts: make(map[string][]*ChargeResult),
		Default: &ChargeResult{Success: false, ResultCode: ResultCodeRefused, RefusalReason: "Not scripted"},
	}
}

// Script queues a result for charges carrying the given merchant reference.
func (m *MockClient) Script(merchantReference string, result *ChargeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[merchantReference] = append(m.scripts[merchantReference], result)
}

// ScriptAll sets the default result for any unscripted charge.
func (m *MockClient) ScriptAll(result *ChargeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Default = result
}

func (m *MockClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Charges = append(m.Charges, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if queue := m.scripts[req.MerchantReference]; len(queue) > 0 {
		result := queue[0]
		m.scripts[req.MerchantReference] = queue[1:]
		return result, nil
	}
	return m.Default, nil
}

func (m *MockClient) FetchStoredMethods(ctx context.Context, shopperReference string) ([]StoredMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.StoredMethods, nil
}
