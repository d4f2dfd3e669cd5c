package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

const defaultPrefix = "pq"

// promoteBatch bounds how many delayed jobs one Promote call moves.
const promoteBatch = 500

// dequeueScript pops the oldest ready id, leases it and returns its payload.
// KEYS: ready, leases. ARGV: deadline, job key prefix.
var dequeueScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
while id do
  local payload = redis.call('GET', ARGV[2] .. id)
  if payload then
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    return payload
  end
  id = redis.call('RPOP', KEYS[1])
end
return false
`)

// promoteScript moves due delayed ids onto the ready list.
// KEYS: delayed, ready. ARGV: now, limit.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

// reapScript removes and returns ids whose lease deadline has passed.
// KEYS: leases. ARGV: now.
var reapScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
end
return ids
`)

// pendingScript reports 1 when an id is leased, delayed or ready.
// KEYS: leases, delayed, ready. ARGV: id.
var pendingScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 1 end
if redis.call('ZSCORE', KEYS[2], ARGV[1]) then return 1 end
if redis.call('LPOS', KEYS[3], ARGV[1]) then return 1 end
return 0
`)

// RedisQueue is a Queue backed by a ready LIST, a delayed ZSET, a leases
// ZSET and one STRING per job payload.
type RedisQueue struct {
	client  *redis.Client
	prefix  string
	now     Clock
	payload time.Duration
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithPrefix namespaces every key under prefix.
func WithPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) { q.prefix = prefix }
}

// WithClock overrides the time source used for delays and leases.
func WithClock(now Clock) RedisOption {
	return func(q *RedisQueue) { q.now = now }
}

// WithPayloadTTL bounds how long an orphaned payload key survives.
func WithPayloadTTL(ttl time.Duration) RedisOption {
	return func(q *RedisQueue) { q.payload = ttl }
}

// NewRedisQueue returns a RedisQueue using client.
func NewRedisQueue(client *redis.Client, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		client:  client,
		prefix:  defaultPrefix,
		now:     time.Now,
		payload: 7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) readyKey() string   { return q.prefix + ":ready" }
func (q *RedisQueue) delayedKey() string { return q.prefix + ":delayed" }
func (q *RedisQueue) leasesKey() string  { return q.prefix + ":leases" }
func (q *RedisQueue) jobPrefix() string  { return q.prefix + ":job:" }
func (q *RedisQueue) jobKey(id uuid.UUID) string {
	return q.jobPrefix() + id.String()
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (q *RedisQueue) Enqueue(ctx context.Context, job models.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	id := job.ID.String()
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), payload, q.payload)
	pipe.ZRem(ctx, q.leasesKey(), id)
	pipe.ZRem(ctx, q.delayedKey(), id)
	pipe.LRem(ctx, q.readyKey(), 0, id)
	pipe.LPush(ctx, q.readyKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) EnqueueAfter(ctx context.Context, job models.Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	id := job.ID.String()
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), payload, q.payload)
	pipe.ZRem(ctx, q.leasesKey(), id)
	pipe.LRem(ctx, q.readyKey(), 0, id)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: score(q.now().Add(delay)), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, ttl time.Duration) (models.Job, error) {
	deadline := strconv.FormatFloat(score(q.now().Add(ttl)), 'f', 0, 64)
	raw, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey(), q.leasesKey()}, deadline, q.jobPrefix()).Text()
	if errors.Is(err, redis.Nil) {
		return models.Job{}, ErrEmpty
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("dequeue job: %w", err)
	}
	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return models.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (q *RedisQueue) Heartbeat(ctx context.Context, jobID uuid.UUID, ttl time.Duration) error {
	changed, err := q.client.ZAddArgs(ctx, q.leasesKey(), redis.ZAddArgs{
		XX:      true,
		Ch:      true,
		Members: []redis.Z{{Score: score(q.now().Add(ttl)), Member: jobID.String()}},
	}).Result()
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	if changed == 0 {
		// XX+CH reports 0 both for a missing member and an unchanged score.
		if _, err := q.client.ZScore(ctx, q.leasesKey(), jobID.String()).Result(); errors.Is(err, redis.Nil) {
			return ErrLeaseNotFound
		}
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, jobID uuid.UUID) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.leasesKey(), jobID.String())
	pipe.Del(ctx, q.jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Reap(ctx context.Context) ([]models.Job, error) {
	now := strconv.FormatFloat(score(q.now()), 'f', 0, 64)
	ids, err := reapScript.Run(ctx, q.client, []string{q.leasesKey()}, now).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reap leases: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.jobPrefix() + id
	}
	vals, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load reaped jobs: %w", err)
	}

	jobs := make([]models.Job, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var job models.Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *RedisQueue) Promote(ctx context.Context) (int, error) {
	now := strconv.FormatFloat(score(q.now()), 'f', 0, 64)
	n, err := promoteScript.Run(ctx, q.client, []string{q.delayedKey(), q.readyKey()}, now, promoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Pending(ctx context.Context, jobID uuid.UUID) (bool, error) {
	keys := []string{q.leasesKey(), q.delayedKey(), q.readyKey()}
	n, err := pendingScript.Run(ctx, q.client, keys, jobID.String()).Int()
	if err != nil {
		return false, fmt.Errorf("check pending job: %w", err)
	}
	return n == 1, nil
}

func (q *RedisQueue) Len(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	leased := pipe.ZCard(ctx, q.leasesKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue length: %w", err)
	}
	return Stats{Ready: ready.Val(), Delayed: delayed.Val(), Leased: leased.Val()}, nil
}
