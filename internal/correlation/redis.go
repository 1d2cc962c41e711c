package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldHandle    = "resume_handle"
	fieldAttempts  = "attempt_count"
	fieldWorkItem  = "work_item"
	fieldExpiresAt = "expires_at"
)

// putScript writes a record only when no live one exists, setting every
// field and the expiry in one step so a record never outlives its TTL.
var putScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6], ARGV[7], ARGV[8])
if ARGV[9] ~= '0' then
	redis.call('PEXPIREAT', KEYS[1], ARGV[9])
end
return 1
`)

type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func recordKey(jobID string) string {
	return fmt.Sprintf("correlation:%s", jobID)
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	if rec.JobID == "" {
		return fmt.Errorf("put correlation: empty job id")
	}
	item, err := json.Marshal(rec.WorkItem)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	var expireAt int64
	if !rec.ExpiresAt.IsZero() {
		expireAt = rec.ExpiresAt.UnixMilli()
	}
	created, err := putScript.Run(ctx, s.rdb, []string{recordKey(rec.JobID)},
		fieldHandle, rec.ResumeHandle,
		fieldAttempts, rec.AttemptCount,
		fieldWorkItem, item,
		fieldExpiresAt, rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
		expireAt,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to store correlation record: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", ErrExists, rec.JobID)
	}
	return nil
}

func (s *RedisStore) Peek(ctx context.Context, jobID string) (Projection, error) {
	vals, err := s.rdb.HMGet(ctx, recordKey(jobID), fieldHandle, fieldAttempts).Result()
	if err != nil {
		return Projection{}, fmt.Errorf("hmget failed: %w", err)
	}
	handle, ok := vals[0].(string)
	if !ok || handle == "" {
		return Projection{}, ErrNotFound
	}
	p := Projection{ResumeHandle: handle}
	if raw, ok := vals[1].(string); ok {
		p.AttemptCount, _ = strconv.Atoi(raw)
	}
	return p, nil
}

func (s *RedisStore) Take(ctx context.Context, jobID string) (Record, error) {
	key := recordKey(jobID)
	var get *redis.MapStringStringCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		get = p.HGetAll(ctx, key)
		p.Del(ctx, key)
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("take correlation: %w", err)
	}

	fields := get.Val()
	if len(fields) == 0 || fields[fieldHandle] == "" {
		return Record{}, ErrNotFound
	}
	return decodeRecord(jobID, fields)
}

func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	return s.rdb.Del(ctx, recordKey(jobID)).Err()
}

func decodeRecord(jobID string, fields map[string]string) (Record, error) {
	rec := Record{JobID: jobID, ResumeHandle: fields[fieldHandle]}
	if raw := fields[fieldAttempts]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Record{}, fmt.Errorf("invalid attempt count %q: %w", raw, err)
		}
		rec.AttemptCount = n
	}
	if raw := fields[fieldWorkItem]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.WorkItem); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal work item: %w", err)
		}
	}
	if raw := fields[fieldExpiresAt]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err == nil && !t.Equal(time.Time{}) {
			rec.ExpiresAt = t
		}
	}
	return rec, nil
}
