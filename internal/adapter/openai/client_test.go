package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipebox/backend/internal/ingredient"
)

func TestClient_Submit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.True(t, req.Background)
		assert.True(t, req.Store)
		assert.Equal(t, "parse it", req.Instructions)
		require.Len(t, req.Input, 3)
		assert.Equal(t, "assistant", req.Input[1].Role)
		assert.Equal(t, "200 g tofu", req.Input[2].Content)

		_, _ = w.Write([]byte(`{"id":"resp_1","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewClient("sk-test", "gpt-test", srv.URL)
	id, err := c.Submit(context.Background(), ingredient.Prompt{
		Instructions: "parse it",
		Examples:     []ingredient.Example{{Input: "1 egg", Output: "Ingredient: egg"}},
		Input:        "200 g tofu",
	})
	require.NoError(t, err)
	assert.Equal(t, "resp_1", id)
}

func TestClient_SubmitErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"OutOfCredits", 429, `{"error":{"code":"insufficient_quota","message":"quota"}}`, ingredient.ErrOutOfCredits},
		{"RateLimited", 429, `{"error":{"code":"rate_limit_exceeded"}}`, ingredient.ErrProviderTransient},
		{"InputTooLong", 400, `{"error":{"code":"string_above_max_length"}}`, ingredient.ErrInputTooLong},
		{"ServerError", 503, `upstream`, ingredient.ErrProviderTransient},
		{"BadRequest", 400, `{"error":{"code":"invalid_value"}}`, ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient("k", "m", srv.URL).Submit(context.Background(), ingredient.Prompt{Input: "x"})
			assert.ErrorIs(t, err, tt.want)

			var perr *ingredient.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.status, perr.StatusCode)
		})
	}
}

func TestClient_SubmitNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient("k", "m", url).Submit(context.Background(), ingredient.Prompt{Input: "x"})
	assert.ErrorIs(t, err, ingredient.ErrProviderTransient)
}

func TestClient_OutputDeadlineIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient("k", "m", srv.URL).Output(ctx, "resp_1")
	assert.ErrorIs(t, err, ingredient.ErrProviderTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Output(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/responses/resp_1":
			_, _ = w.Write([]byte(`{"id":"resp_1","status":"completed","output":[
				{"type":"reasoning","content":[]},
				{"type":"message","content":[{"type":"output_text","text":"Ingredient: tofu\n"},{"type":"output_text","text":"Unit: g"}]}
			]}`))
		case "/responses/resp_2":
			_, _ = w.Write([]byte(`{"id":"resp_2","status":"incomplete"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := NewClient("k", "m", srv.URL)

	out, err := c.Output(context.Background(), "resp_1")
	require.NoError(t, err)
	assert.Equal(t, "Ingredient: tofu\nUnit: g", out)

	_, err = c.Output(context.Background(), "resp_2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ingredient.ErrProviderTransient)
}

func testSecret() string {
	return "whsec_" + base64.StdEncoding.EncodeToString([]byte("super-secret-key"))
}

func TestVerifier_Unwrap(t *testing.T) {
	v, err := NewVerifier(testSecret())
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return now }

	body := []byte(`{"id":"evt_1","type":"response.completed","created_at":1700000000,"data":{"id":"resp_1"}}`)

	t.Run("valid", func(t *testing.T) {
		ev, err := v.Unwrap(v.Sign("msg_1", now, body), body)
		require.NoError(t, err)
		assert.Equal(t, "response.completed", ev.Type)
		assert.Equal(t, "resp_1", ev.Data.ID)
	})

	t.Run("rotated secret list", func(t *testing.T) {
		h := v.Sign("msg_1", now, body)
		h.Set("webhook-signature", "v1,AAAA "+h.Get("webhook-signature"))
		_, err := v.Unwrap(h, body)
		assert.NoError(t, err)
	})

	t.Run("tampered body", func(t *testing.T) {
		_, err := v.Unwrap(v.Sign("msg_1", now, body), []byte(`{"type":"response.completed","data":{"id":"resp_2"}}`))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		_, err := v.Unwrap(v.Sign("msg_1", now.Add(-6*time.Minute), body), body)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("future timestamp", func(t *testing.T) {
		_, err := v.Unwrap(v.Sign("msg_1", now.Add(6*time.Minute), body), body)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("missing headers", func(t *testing.T) {
		_, err := v.Unwrap(http.Header{}, body)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewVerifier(base64.StdEncoding.EncodeToString([]byte("another")))
		require.NoError(t, err)
		_, err = v.Unwrap(other.Sign("msg_1", now, body), body)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestNewVerifier_BadSecret(t *testing.T) {
	_, err := NewVerifier("whsec_not base64!")
	assert.Error(t, err)
}
