package assembly

import (
	"context"

	"github.com/stretchr/testify/mock"

	"recipebox/backend/features/recipe"
	"recipebox/backend/internal/adapter/push"
)

type MockRecipeStore struct {
	mock.Mock
}

func (m *MockRecipeStore) Get(ctx context.Context, id string) (*recipe.Recipe, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*recipe.Recipe), args.Error(1)
}

func (m *MockRecipeStore) Put(ctx context.Context, rec *recipe.Recipe) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockRecipeStore) GetNotificationChannel(ctx context.Context, id string) (*string, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*string), args.Error(1)
}

func (m *MockRecipeStore) MarkFailed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(ctx context.Context, channel string, msg push.Message) error {
	return m.Called(ctx, channel, msg).Error(0)
}

func (m *MockNotifier) DeleteChannel(ctx context.Context, channel string) error {
	return m.Called(ctx, channel).Error(0)
}
