package worker_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"recipebox/backend/features/job"
	"recipebox/backend/internal/adapter/push"
	"recipebox/backend/internal/assembly"
	"recipebox/backend/internal/ingredient"
	"recipebox/backend/internal/resolution"
)

type MockDispatcher struct{ mock.Mock }

func (m *MockDispatcher) Dispatch(ctx context.Context, handle string, item ingredient.WorkItem) (string, error) {
	args := m.Called(ctx, handle, item)
	return args.String(0), args.Error(1)
}

type MockDriver struct{ mock.Mock }

func (m *MockDriver) Resume(ctx context.Context, handle string, r resolution.Resumption) error {
	return m.Called(ctx, handle, r).Error(0)
}

func (m *MockDriver) Fail(ctx context.Context, recipeID string, cause error) error {
	return m.Called(ctx, recipeID, cause).Error(0)
}

type MockClassifier struct{ mock.Mock }

func (m *MockClassifier) Handle(ctx context.Context, n resolution.Notification) error {
	return m.Called(ctx, n).Error(0)
}

type MockReconciler struct{ mock.Mock }

func (m *MockReconciler) Reconcile(ctx context.Context, ev assembly.FailureEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) Publish(ctx context.Context, channel string, msg push.Message) error {
	return m.Called(ctx, channel, msg).Error(0)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	return m.Called(ctx, j).Error(0)
}

type MockStaleBatches struct{ mock.Mock }

func (m *MockStaleBatches) FailStale(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockExpiredRecipes struct{ mock.Mock }

func (m *MockExpiredRecipes) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}
