// Package gemini runs ingredient prompts against Gemini. Gemini has no
// background jobs or webhooks, so the provider runs each generation in its own
// goroutine and reports completion on the same queue the webhook endpoint uses.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"recipebox/backend/internal/config"
	"recipebox/backend/internal/ingredient"
	"recipebox/backend/internal/resolution"
)

var ErrUnknownJob = errors.New("unknown gemini job")

type Generator interface {
	Generate(ctx context.Context, prompt ingredient.Prompt) (string, error)
}

type OutputStore interface {
	Save(ctx context.Context, jobID, text string) error
	Load(ctx context.Context, jobID string) (string, error)
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

type Provider struct {
	gen     Generator
	outputs OutputStore
	pub     Publisher
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]ingredient.Prompt
	wg      sync.WaitGroup
}

func NewProvider(gen Generator, outputs OutputStore, pub Publisher, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Provider{gen: gen, outputs: outputs, pub: pub, timeout: timeout, pending: make(map[string]ingredient.Prompt)}
}

func (p *Provider) Name() string { return "gemini" }

// Submit only reserves a job id. Generation starts on Launch, once the caller
// has recorded who is waiting for it.
func (p *Provider) Submit(_ context.Context, prompt ingredient.Prompt) (string, error) {
	id := "gem_" + uuid.New().String()
	p.mu.Lock()
	p.pending[id] = prompt
	p.mu.Unlock()
	return id, nil
}

// Cancel forgets a submitted job that will not be launched.
func (p *Provider) Cancel(jobID string) {
	p.mu.Lock()
	delete(p.pending, jobID)
	p.mu.Unlock()
}

func (p *Provider) Launch(ctx context.Context, jobID string) error {
	p.mu.Lock()
	prompt, ok := p.pending[jobID]
	delete(p.pending, jobID)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	// Detached from the caller, which finishes its message as soon as we return.
	runCtx := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(runCtx, jobID, prompt)
	}()
	return nil
}

func (p *Provider) run(ctx context.Context, jobID string, prompt ingredient.Prompt) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	n := resolution.Notification{Type: resolution.NotificationCompleted, JobID: jobID}
	text, err := p.gen.Generate(ctx, prompt)
	if err == nil {
		err = p.outputs.Save(ctx, jobID, text)
	}
	if err != nil {
		slog.WarnContext(ctx, "gemini generation failed", "job_id", jobID, "error", err)
		n.Type = resolution.NotificationFailed
	}

	body, err := json.Marshal(n)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal notification", "job_id", jobID, "error", err)
		return
	}
	if err := p.pub.Publish(config.TopicIngredientCompletion, body); err != nil {
		// The correlation record expires with the recipe; the pruner settles the batch.
		slog.ErrorContext(ctx, "failed to publish gemini completion", "job_id", jobID, "error", err)
	}
}

func (p *Provider) Output(ctx context.Context, jobID string) (string, error) {
	return p.outputs.Load(ctx, jobID)
}

// Wait blocks until every launched generation has reported back.
func (p *Provider) Wait() {
	p.wg.Wait()
}

// GenAIGenerator sends the prompt as a chat whose history holds the few-shot examples.
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

func NewGenAIGenerator(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*GenAIGenerator, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GenAIGenerator{client: client, model: model}, nil
}

func (g *GenAIGenerator) Generate(ctx context.Context, prompt ingredient.Prompt) (string, error) {
	slog.DebugContext(ctx, "generating content", "model", g.model, "language", prompt.Language)

	m := g.client.GenerativeModel(g.model)
	m.SystemInstruction = genai.NewUserContent(genai.Text(prompt.Instructions))
	m.SetTemperature(0)

	cs := m.StartChat()
	for _, ex := range prompt.Examples {
		cs.History = append(cs.History,
			&genai.Content{Role: "user", Parts: []genai.Part{genai.Text(ex.Input)}},
			&genai.Content{Role: "model", Parts: []genai.Part{genai.Text(ex.Output)}},
		)
	}

	resp, err := cs.SendMessage(ctx, genai.Text(prompt.Input))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	if b.Len() == 0 {
		return "", errors.New("empty gemini response")
	}
	return b.String(), nil
}

func (g *GenAIGenerator) Close() error {
	return g.client.Close()
}

// RedisOutputs keeps generated text until the completion consumer reads it.
type RedisOutputs struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisOutputs(client redis.UniversalClient, ttl time.Duration) *RedisOutputs {
	return &RedisOutputs{client: client, ttl: ttl}
}

func outputKey(jobID string) string {
	return "gemini:output:" + jobID
}

func (r *RedisOutputs) Save(ctx context.Context, jobID, text string) error {
	return r.client.Set(ctx, outputKey(jobID), text, r.ttl).Err()
}

func (r *RedisOutputs) Load(ctx context.Context, jobID string) (string, error) {
	text, err := r.client.Get(ctx, outputKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: no output for %s", ErrUnknownJob, jobID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ingredient.ErrProviderTransient, err)
	}
	return text, nil
}
