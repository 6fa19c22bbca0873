package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingAck is a command distribution record (§3): the deterministic key
// K, the set of peers that have not yet acknowledged, and bookkeeping for
// retry.
type PendingAck struct {
	CommandKey      int64   `json:"commandKey"`
	RemainingPeers  []int32 `json:"remainingPeers"`
	RetryCount      int     `json:"retryCount"`
	LastAttemptUnix int64   `json:"lastAttemptAt"`
}

// AckStore persists pending-ack records so an originator can resume
// tracking after a restart (§4.4: "on restart, unacknowledged records are
// replayed").
type AckStore interface {
	Save(ctx context.Context, p PendingAck) error
	Delete(ctx context.Context, commandKey int64) error
	Get(ctx context.Context, commandKey int64) (PendingAck, bool, error)
	ListPending(ctx context.Context) ([]PendingAck, error)
}

// RedisAckStore implements AckStore on Redis (or a Redis-protocol
// compatible store such as DragonflyDB), grounded on the teacher's
// db/repository/redis.go cache-repository pattern.
type RedisAckStore struct {
	client *redis.Client
}

const ackKeyPrefix = "partition:pending-ack:"

// NewRedisAckStore connects to the Redis instance at url.
func NewRedisAckStore(url string) (*RedisAckStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("distribution: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("distribution: connect to redis: %w", err)
	}

	return &RedisAckStore{client: client}, nil
}

func ackKey(commandKey int64) string {
	return fmt.Sprintf("%s%d", ackKeyPrefix, commandKey)
}

// Save persists p, surviving a restart until Delete is called.
func (s *RedisAckStore) Save(ctx context.Context, p PendingAck) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("distribution: marshal pending ack: %w", err)
	}
	return s.client.Set(ctx, ackKey(p.CommandKey), data, 0).Err()
}

// Delete discards the pending-ack record for commandKey once every peer
// has acknowledged.
func (s *RedisAckStore) Delete(ctx context.Context, commandKey int64) error {
	return s.client.Del(ctx, ackKey(commandKey)).Err()
}

// Get returns the pending-ack record for commandKey, if any.
func (s *RedisAckStore) Get(ctx context.Context, commandKey int64) (PendingAck, bool, error) {
	data, err := s.client.Get(ctx, ackKey(commandKey)).Bytes()
	if err == redis.Nil {
		return PendingAck{}, false, nil
	}
	if err != nil {
		return PendingAck{}, false, fmt.Errorf("distribution: get pending ack: %w", err)
	}
	var p PendingAck
	if err := json.Unmarshal(data, &p); err != nil {
		return PendingAck{}, false, fmt.Errorf("distribution: unmarshal pending ack: %w", err)
	}
	return p, true, nil
}

// ListPending scans every pending-ack record currently stored, used on
// partition startup to resume retrying unacknowledged commands.
func (s *RedisAckStore) ListPending(ctx context.Context) ([]PendingAck, error) {
	var pending []PendingAck
	iter := s.client.Scan(ctx, 0, ackKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var p PendingAck
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		pending = append(pending, p)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("distribution: scan pending acks: %w", err)
	}
	return pending, nil
}

// Close closes the underlying Redis client.
func (s *RedisAckStore) Close() error {
	return s.client.Close()
}
