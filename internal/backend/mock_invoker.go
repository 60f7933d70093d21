package backend

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"llm-ensemble/internal/registry"
)

// MockInvoker is a mock implementation of Invoker using testify/mock.
type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) Invoke(ctx context.Context, d registry.Descriptor, query string, timeout time.Duration) Outcome {
	args := m.Called(ctx, d, query, timeout)
	return args.Get(0).(Outcome)
}
