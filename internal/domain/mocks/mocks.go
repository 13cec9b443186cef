// Package mocks holds testify mocks for the domain ports.
package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

// MockTextExtractor is a mock of domain.TextExtractor.
type MockTextExtractor struct{ mock.Mock }

// Extract provides a mock function.
func (m *MockTextExtractor) Extract(ctx domain.Context, path string) (domain.ExtractedText, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(domain.ExtractedText), args.Error(1)
}

// MockGateway is a mock of domain.Gateway.
type MockGateway struct{ mock.Mock }

// Complete provides a mock function.
func (m *MockGateway) Complete(ctx domain.Context, req domain.CompletionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// MockCleanupScheduler is a mock of domain.CleanupScheduler.
type MockCleanupScheduler struct{ mock.Mock }

// Schedule provides a mock function.
func (m *MockCleanupScheduler) Schedule(ctx domain.Context, paths []string, delay time.Duration) error {
	args := m.Called(ctx, paths, delay)
	return args.Error(0)
}

// MockVerdictStore is a mock of domain.VerdictStore.
type MockVerdictStore struct{ mock.Mock }

// SaveBatch provides a mock function.
func (m *MockVerdictStore) SaveBatch(ctx domain.Context, b domain.BatchResult) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

// GetBatch provides a mock function.
func (m *MockVerdictStore) GetBatch(ctx domain.Context, batchID string) (domain.BatchResult, error) {
	args := m.Called(ctx, batchID)
	return args.Get(0).(domain.BatchResult), args.Error(1)
}

// MockEventPublisher is a mock of domain.EventPublisher.
type MockEventPublisher struct{ mock.Mock }

// PublishBatch provides a mock function.
func (m *MockEventPublisher) PublishBatch(ctx domain.Context, b domain.BatchResult) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// NewMockTextExtractor creates a mock that asserts its expectations on cleanup.
func NewMockTextExtractor(t testingT) *MockTextExtractor {
	m := &MockTextExtractor{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockGateway creates a mock that asserts its expectations on cleanup.
func NewMockGateway(t testingT) *MockGateway {
	m := &MockGateway{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockCleanupScheduler creates a mock that asserts its expectations on cleanup.
func NewMockCleanupScheduler(t testingT) *MockCleanupScheduler {
	m := &MockCleanupScheduler{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockVerdictStore creates a mock that asserts its expectations on cleanup.
func NewMockVerdictStore(t testingT) *MockVerdictStore {
	m := &MockVerdictStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockEventPublisher creates a mock that asserts its expectations on cleanup.
func NewMockEventPublisher(t testingT) *MockEventPublisher {
	m := &MockEventPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
