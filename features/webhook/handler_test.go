package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"recipebox/backend/internal/adapter/openai"
	"recipebox/backend/internal/config"
	"recipebox/backend/internal/correlation"
	"recipebox/backend/internal/resolution"
)

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

type MockCorrelations struct{ mock.Mock }

func (m *MockCorrelations) Peek(ctx context.Context, jobID string) (correlation.Projection, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(correlation.Projection), args.Error(1)
}

func newVerifier(t *testing.T) *openai.Verifier {
	t.Helper()
	v, err := openai.NewVerifier("whsec_" + base64.StdEncoding.EncodeToString([]byte("webhook-secret")))
	require.NoError(t, err)
	return v
}

func signedRequest(v *openai.Verifier, eventType, responseID string) *http.Request {
	body, _ := json.Marshal(map[string]interface{}{
		"id":         "evt_1",
		"type":       eventType,
		"created_at": time.Now().Unix(),
		"data":       map[string]string{"id": responseID},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/inference", bytes.NewReader(body))
	for k, vals := range v.Sign("msg_1", time.Now(), body) {
		req.Header[k] = vals
	}
	return req
}

func TestHandler_Inference_Enqueues(t *testing.T) {
	v := newVerifier(t)
	store := correlation.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), correlation.Record{JobID: "resp_1", ResumeHandle: "h1", ExpiresAt: time.Now().Add(time.Hour)}))

	pub := new(MockPublisher)
	pub.On("Publish", config.TopicIngredientCompletion, mock.MatchedBy(func(body []byte) bool {
		var n resolution.Notification
		return json.Unmarshal(body, &n) == nil && n.Type == resolution.NotificationCompleted && n.JobID == "resp_1"
	})).Return(nil)

	w := httptest.NewRecorder()
	NewHandler(v, store, pub).Inference(w, signedRequest(v, "response.completed", "resp_1"))

	assert.Equal(t, http.StatusOK, w.Code)
	pub.AssertExpectations(t)

	// The record stays for the completion consumer.
	_, err := store.Peek(context.Background(), "resp_1")
	assert.NoError(t, err)
}

func TestHandler_Inference_FailedAndCancelled(t *testing.T) {
	v := newVerifier(t)
	for typ, want := range map[string]resolution.NotificationType{
		"response.failed":    resolution.NotificationFailed,
		"response.cancelled": resolution.NotificationCancelled,
	} {
		t.Run(typ, func(t *testing.T) {
			c := new(MockCorrelations)
			c.On("Peek", mock.Anything, "resp_1").Return(correlation.Projection{ResumeHandle: "h1"}, nil)
			pub := new(MockPublisher)
			pub.On("Publish", config.TopicIngredientCompletion, mock.MatchedBy(func(body []byte) bool {
				var n resolution.Notification
				return json.Unmarshal(body, &n) == nil && n.Type == want
			})).Return(nil)

			w := httptest.NewRecorder()
			NewHandler(v, c, pub).Inference(w, signedRequest(v, typ, "resp_1"))
			assert.Equal(t, http.StatusOK, w.Code)
			pub.AssertExpectations(t)
		})
	}
}

func TestHandler_Inference_UnknownJobIsAcknowledged(t *testing.T) {
	v := newVerifier(t)
	pub := new(MockPublisher)

	w := httptest.NewRecorder()
	NewHandler(v, correlation.NewMemoryStore(), pub).Inference(w, signedRequest(v, "response.completed", "resp_gone"))

	assert.Equal(t, http.StatusOK, w.Code)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestHandler_Inference_Rejections(t *testing.T) {
	v := newVerifier(t)

	t.Run("bad signature", func(t *testing.T) {
		req := signedRequest(v, "response.completed", "resp_1")
		req.Header.Set("webhook-signature", "v1,"+base64.StdEncoding.EncodeToString([]byte("nope")))
		w := httptest.NewRecorder()
		NewHandler(v, new(MockCorrelations), new(MockPublisher)).Inference(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported type", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHandler(v, new(MockCorrelations), new(MockPublisher)).Inference(w, signedRequest(v, "batch.completed", "batch_1"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_Inference_PublishFailure(t *testing.T) {
	v := newVerifier(t)
	c := new(MockCorrelations)
	c.On("Peek", mock.Anything, "resp_1").Return(correlation.Projection{}, nil)
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nsqd down"))

	w := httptest.NewRecorder()
	NewHandler(v, c, pub).Inference(w, signedRequest(v, "response.completed", "resp_1"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandler_Inference_LookupFailure(t *testing.T) {
	v := newVerifier(t)
	c := new(MockCorrelations)
	c.On("Peek", mock.Anything, "resp_1").Return(correlation.Projection{}, errors.New("redis down"))

	w := httptest.NewRecorder()
	NewHandler(v, c, new(MockPublisher)).Inference(w, signedRequest(v, "response.completed", "resp_1"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
