// Package openai submits ingredient prompts to the OpenAI Responses API as
// background jobs and verifies the webhooks that report their completion.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"recipebox/backend/internal/ingredient"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ErrRejected covers any other 4xx answer.
var ErrRejected = errors.New("request rejected by openai")

type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, model, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *Client) Name() string { return "openai" }

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createRequest struct {
	Model        string         `json:"model"`
	Instructions string         `json:"instructions"`
	Input        []inputMessage `json:"input"`
	Background   bool           `json:"background"`
	Store        bool           `json:"store"`
	ServiceTier  string         `json:"service_tier,omitempty"`
	Reasoning    *reasoning     `json:"reasoning,omitempty"`
	Text         textOptions    `json:"text"`
}

type reasoning struct {
	Effort string `json:"effort"`
}

type textOptions struct {
	Format    map[string]string `json:"format"`
	Verbosity string            `json:"verbosity,omitempty"`
}

type responseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseOutput struct {
	Type    string            `json:"type"`
	Content []responseContent `json:"content"`
}

type responseEnvelope struct {
	ID     string           `json:"id"`
	Status string           `json:"status"`
	Output []responseOutput `json:"output"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Submit starts a background response for the prompt and returns its id.
func (c *Client) Submit(ctx context.Context, prompt ingredient.Prompt) (string, error) {
	input := make([]inputMessage, 0, 2*len(prompt.Examples)+1)
	for _, ex := range prompt.Examples {
		input = append(input,
			inputMessage{Role: "user", Content: ex.Input},
			inputMessage{Role: "assistant", Content: ex.Output},
		)
	}
	input = append(input, inputMessage{Role: "user", Content: prompt.Input})

	payload := createRequest{
		Model:        c.model,
		Instructions: prompt.Instructions,
		Input:        input,
		Background:   true,
		Store:        true,
		ServiceTier:  "flex",
		Reasoning:    &reasoning{Effort: "minimal"},
		Text:         textOptions{Format: map[string]string{"type": "text"}, Verbosity: "low"},
	}

	var env responseEnvelope
	if err := c.do(ctx, http.MethodPost, "/responses", payload, &env); err != nil {
		return "", err
	}
	if env.ID == "" {
		return "", fmt.Errorf("%w: response id missing", ingredient.ErrProviderTransient)
	}
	return env.ID, nil
}

// Output returns the concatenated output text of a finished response.
func (c *Client) Output(ctx context.Context, jobID string) (string, error) {
	var env responseEnvelope
	if err := c.do(ctx, http.MethodGet, "/responses/"+url.PathEscape(jobID), nil, &env); err != nil {
		return "", err
	}
	if env.Status != "completed" {
		return "", fmt.Errorf("response %s is %s", jobID, env.Status)
	}

	var b strings.Builder
	for _, out := range env.Output {
		if out.Type != "message" {
			continue
		}
		for _, part := range out.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ingredient.ErrProviderTransient, ctx.Err())
		}
		return fmt.Errorf("%w: %w", ingredient.ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ingredient.ErrProviderTransient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode openai response: %w", err)
	}
	return nil
}

// classify maps an OpenAI error answer onto the ingredient error taxonomy.
func classify(status int, body []byte) error {
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)

	perr := &ingredient.ProviderError{StatusCode: status, Code: env.Error.Code, Message: env.Error.Message}
	switch {
	case status == http.StatusTooManyRequests && env.Error.Code == "insufficient_quota":
		perr.Kind = ingredient.ErrOutOfCredits
	case status == http.StatusBadRequest && env.Error.Code == "string_above_max_length":
		perr.Kind = ingredient.ErrInputTooLong
	case status == http.StatusTooManyRequests, status >= 500:
		perr.Kind = ingredient.ErrProviderTransient
	default:
		perr.Kind = ErrRejected
	}
	return perr
}
