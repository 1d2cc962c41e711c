package resolution

import (
	"context"

	"github.com/stretchr/testify/mock"

	"recipebox/backend/internal/correlation"
	"recipebox/backend/internal/ingredient"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Submit(ctx context.Context, prompt ingredient.Prompt) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Output(ctx context.Context, jobID string) (string, error) {
	args := m.Called(ctx, jobID)
	return args.String(0), args.Error(1)
}

type MockLaunchingProvider struct {
	MockProvider
}

func (m *MockLaunchingProvider) Launch(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockLaunchingProvider) Cancel(jobID string) {
	m.Called(jobID)
}

type MockResumer struct {
	mock.Mock
}

func (m *MockResumer) Resume(ctx context.Context, handle string, r Resumption) error {
	args := m.Called(ctx, handle, r)
	return args.Error(0)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Put(ctx context.Context, rec correlation.Record) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockStore) Peek(ctx context.Context, jobID string) (correlation.Projection, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(correlation.Projection), args.Error(1)
}

func (m *MockStore) Take(ctx context.Context, jobID string) (correlation.Record, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(correlation.Record), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}
