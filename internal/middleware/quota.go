package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const UserIDHeader = "X-User-ID"

type userKey struct{}

// UserQuota gates requests per caller identity. The identity is resolved upstream
// (API gateway) and forwarded in X-User-ID.
type UserQuota struct {
	limit rate.Limit
	burst int
	users sync.Map // user id -> *rate.Limiter
}

func NewUserQuota(perMinute, burst int) *UserQuota {
	return &UserQuota{
		limit: rate.Every(time.Minute / time.Duration(max(perMinute, 1))),
		burst: max(burst, 1),
	}
}

func (q *UserQuota) limiter(userID string) *rate.Limiter {
	if l, ok := q.users.Load(userID); ok {
		return l.(*rate.Limiter)
	}
	l, _ := q.users.LoadOrStore(userID, rate.NewLimiter(q.limit, q.burst))
	return l.(*rate.Limiter)
}

func (q *UserQuota) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			writeQuotaError(r.Context(), w, "UNAUTHORIZED", "missing caller identity", http.StatusUnauthorized)
			return
		}
		if !q.limiter(userID).Allow() {
			w.Header().Set("Retry-After", "60")
			writeQuotaError(r.Context(), w, "TOO_MANY_REQUESTS", "request quota exhausted", http.StatusTooManyRequests)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	}
}

func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

func writeQuotaError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":         map[string]string{"code": code, "message": message},
		"correlationId": GetCorrelationID(ctx),
	})
}
