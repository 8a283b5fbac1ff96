package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/markersplit/internal/splitter"
)

// Job is one queued split request. Inputs and output are S3 object keys.
type Job struct {
	ID             string           `json:"job_id"`
	DocumentKey    string           `json:"document_key"`
	StartMarkerKey string           `json:"start_marker_key"`
	EndMarkerKey   string           `json:"end_marker_key"`
	ResultKey      string           `json:"result_key"`
	Password       string           `json:"password,omitempty"`
	Options        splitter.Options `json:"options"`
	Attempt        int              `json:"attempt"`
	EnqueuedAt     time.Time        `json:"enqueued_at"`
}

// Encode serializes the job as a stream payload.
func (j Job) Encode() ([]byte, error) { return json.Marshal(j) }

// DecodeJob parses a stream payload.
func DecodeJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.ID == "" {
		return Job{}, errors.New("decode job: missing job_id")
	}
	return j, nil
}

// RedisQueue implements Redis Streams + consumer groups with a delayed ZSET mover.
type RedisQueue struct {
	client *redis.Client
	// streams / groups
	Stream string
	Group  string
	// keys
	CancelKey   string
	DelayedKey  string
	DLQStream   string
	IdemDoneKey string
	// mover control
	pollInterval time.Duration
	stop         chan struct{}
}

// NewRedisQueue connects to Redis, ensures stream & group, and starts delayed mover.
func NewRedisQueue(redisURL, stream, group string, poll time.Duration) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	q, err := NewWithClient(ctx, c, stream, group, poll)
	if err != nil {
		return nil, err
	}
	go q.mover()
	return q, nil
}

// NewWithClient wraps an existing client and ensures the consumer group.
// The delayed mover is not started; call MoveDue or use NewRedisQueue.
func NewWithClient(ctx context.Context, c *redis.Client, stream, group string, poll time.Duration) (*RedisQueue, error) {
	q := &RedisQueue{
		client:       c,
		Stream:       stream,
		Group:        group,
		CancelKey:    stream + ":cancelled",
		DelayedKey:   stream + ":delayed",
		DLQStream:    stream + ":dlq",
		IdemDoneKey:  stream + ":done:",
		pollInterval: poll,
		stop:         make(chan struct{}),
	}
	// MKSTREAM creates the stream if missing
	if err := c.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	return q, nil
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	// go-redis returns the raw Redis error string
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Close() error {
	close(q.stop)
	return q.client.Close()
}

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Client returns the underlying Redis client.
func (q *RedisQueue) Client() *redis.Client { return q.client }

// Enqueue adds a job to the stream as a single-field entry {data: <json>}.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(payload)},
	}).Err()
}

// EnqueueDelayed schedules a job for later execution via ZSET.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, job Job, executeAt time.Time) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{Score: float64(executeAt.Unix()), Member: string(payload)}).Err()
}

// Dequeue reads one message from the consumer group. It returns a nil job
// when nothing arrived within timeout. The message stays pending until Ack.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, *Job, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, nil
		}
		return "", nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", nil, nil
	}
	msg := res[0].Messages[0]
	var raw []byte
	switch t := msg.Values["data"].(type) {
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	}
	job, err := DecodeJob(raw)
	if err != nil {
		// Unparseable entries can never succeed; park them and move on.
		_ = q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.DLQStream, Values: map[string]any{"data": string(raw), "reason": err.Error()}}).Err()
		_ = q.Ack(ctx, msg.ID)
		return msg.ID, nil, err
	}
	return msg.ID, &job, nil
}

// Ack marks a message as processed.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// CancelJob marks a job as cancelled. Workers check this before processing.
func (q *RedisQueue) CancelJob(ctx context.Context, jobID string) error {
	return q.client.SAdd(ctx, q.CancelKey, jobID).Err()
}

// IsCancelled returns true if job is cancelled.
func (q *RedisQueue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return q.client.SIsMember(ctx, q.CancelKey, jobID).Result()
}

// AddDLQ pushes a failed job to DLQ stream with reason.
func (q *RedisQueue) AddDLQ(ctx context.Context, job Job, reason string) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.DLQStream, Values: map[string]any{"data": string(payload), "reason": reason}}).Err()
}

// IsDone returns true if the job already completed; redelivered messages are skipped.
func (q *RedisQueue) IsDone(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, nil
	}
	exists, err := q.client.Exists(ctx, q.IdemDoneKey+jobID).Result()
	return exists == 1, err
}

// MarkDone records job completion with TTL.
func (q *RedisQueue) MarkDone(ctx context.Context, jobID string, ttl time.Duration) error {
	if jobID == "" {
		return nil
	}
	return q.client.Set(ctx, q.IdemDoneKey+jobID, 1, ttl).Err()
}

// mover periodically moves due delayed jobs from ZSET into the stream.
func (q *RedisQueue) mover() {
	if q.pollInterval <= 0 {
		q.pollInterval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, _ = q.MoveDue(ctx, time.Now())
			cancel()
		}
	}
}

// MoveDue moves up to 100 delayed jobs due at now into the stream and
// returns how many were moved.
func (q *RedisQueue) MoveDue(ctx context.Context, now time.Time) (int, error) {
	vals, err := q.client.ZRangeByScore(ctx, q.DelayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()), Offset: 0, Count: 100,
	}).Result()
	if err != nil || len(vals) == 0 {
		return 0, err
	}
	pipe := q.client.TxPipeline()
	for _, s := range vals {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"data": s}})
		pipe.ZRem(ctx, q.DelayedKey, s)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(vals), nil
}

// Depths returns approximate stream/deferred/dlq lengths for metrics.
func (q *RedisQueue) Depths(ctx context.Context) (int64, int64, int64, error) {
	pipe := q.client.Pipeline()
	xlen := pipe.XLen(ctx, q.Stream)
	zcard := pipe.ZCard(ctx, q.DelayedKey)
	dxlen := pipe.XLen(ctx, q.DLQStream)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return xlen.Val(), zcard.Val(), dxlen.Val(), nil
}
