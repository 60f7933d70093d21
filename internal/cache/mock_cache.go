package cache

import (
	"context"

	"github.com/stretchr/testify/mock"

	"llm-ensemble/internal/ensemble"
)

// MockCache is a mock implementation of the Cache interface for testing
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, query string, strategy ensemble.Strategy) (*ensemble.Result, error) {
	args := m.Called(ctx, query, strategy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ensemble.Result), args.Error(1)
}

func (m *MockCache) Put(ctx context.Context, query string, strategy ensemble.Strategy, result *ensemble.Result) error {
	args := m.Called(ctx, query, strategy, result)
	return args.Error(0)
}

func (m *MockCache) Stats(ctx context.Context) (Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(Stats), args.Error(1)
}

func (m *MockCache) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}
