// Package push talks to the push notification gateway. A channel is a
// registered device endpoint that can be published to until it is deleted.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) CreateChannel(ctx context.Context, token string) (string, error) {
	var resp struct {
		ChannelID string `json:"channelId"`
	}
	if err := c.do(ctx, http.MethodPost, "/channels", map[string]string{"token": token}, &resp); err != nil {
		return "", fmt.Errorf("create channel: %w", err)
	}
	if resp.ChannelID == "" {
		return "", fmt.Errorf("create channel: empty channel id")
	}
	return resp.ChannelID, nil
}

func (c *Client) Publish(ctx context.Context, channel string, msg Message) error {
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channel)+"/messages", msg, nil); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// DeleteChannel treats an already deleted channel as success.
func (c *Client) DeleteChannel(ctx context.Context, channel string) error {
	err := c.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(channel), nil, nil)
	if se, ok := err.(*StatusError); ok && se.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete channel %s: %w", channel, err)
	}
	return nil
}

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("push gateway returned %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
