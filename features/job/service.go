package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

var ErrInvalidPayload = errors.New("stored payload is not valid json")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context, f Filter) ([]Job, error) {
	return s.repo.List(ctx, f)
}

// Retry republishes a dead-lettered message to the topic it came from and
// removes it from the table once the publish succeeded.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !json.Valid(job.Payload) {
		return fmt.Errorf("%w: job %s", ErrInvalidPayload, id)
	}

	// go-nsq Publish does not take a context
	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(job.Topic, job.Payload)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("republish to %s: %w", job.Topic, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "failed job republished", "id", id, "topic", job.Topic)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
