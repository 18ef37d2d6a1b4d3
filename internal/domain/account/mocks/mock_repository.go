package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/account-relay/account-relay/internal/domain/account"
)

// MockRepository is a mock implementation of account.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetLatest(ctx context.Context, key account.Key) (*account.State, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.State), args.Error(1)
}

func (m *MockRepository) UpsertLatest(ctx context.Context, st *account.State) error {
	args := m.Called(ctx, st)
	return args.Error(0)
}

func (m *MockRepository) AppendAudit(ctx context.Context, st *account.State) error {
	args := m.Called(ctx, st)
	return args.Error(0)
}

// MockCache is a mock implementation of account.Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key account.Key) (*account.State, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.State), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, st *account.State, ttl time.Duration) error {
	args := m.Called(ctx, st, ttl)
	return args.Error(0)
}
