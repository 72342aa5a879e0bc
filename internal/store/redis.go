package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
)

// RedisConfig selects the server and key namespace
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // defaults to "phantomtrail"
}

// RedisStore keeps events in a sorted set scored by Unix milliseconds.
// Members are "<seq>|<json>" so equal timestamps keep append order.
type RedisStore struct {
	client *redis.Client
	prefix string
	mu     sync.Mutex
	closed bool
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: redis ping %s: %w", cfg.Addr, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "phantomtrail"
	}
	log.Printf("store: redis ready at %s (prefix %s)", cfg.Addr, prefix)
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) eventsKey() string { return s.prefix + ":events" }
func (s *RedisStore) seqKey() string    { return s.prefix + ":seq" }

func (s *RedisStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *RedisStore) Append(ctx context.Context, events ...event.TrackingEvent) error {
	if s.isClosed() {
		return ErrClosed
	}
	if len(events) == 0 {
		return nil
	}
	last, err := s.client.IncrBy(ctx, s.seqKey(), int64(len(events))).Result()
	if err != nil {
		return fmt.Errorf("store: redis seq: %w", err)
	}
	first := last - int64(len(events)) + 1

	members := make([]*redis.Z, 0, len(events))
	for i, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("store: marshal %s: %w", e.ID, err)
		}
		members = append(members, &redis.Z{
			Score:  float64(e.Timestamp.UnixMilli()),
			Member: encodeMember(first+int64(i), data),
		})
	}
	if err := s.client.ZAdd(ctx, s.eventsKey(), members...).Err(); err != nil {
		return fmt.Errorf("store: redis zadd: %w", err)
	}
	return nil
}

func (s *RedisStore) Query(ctx context.Context, q Query) (Result, error) {
	if s.isClosed() {
		return Result{}, ErrClosed
	}
	members, err := s.client.ZRangeByScore(ctx, s.eventsKey(), scoreRange(q.Since, q.Until)).Result()
	if err != nil {
		return Result{}, fmt.Errorf("store: redis zrange: %w", err)
	}

	var (
		recs      []record
		corrupted int
	)
	for _, m := range members {
		seq, e, ok := decodeMember(m)
		if !ok {
			corrupted++
			continue
		}
		if q.Match(e) {
			recs = append(recs, record{seq: seq, ev: e})
		}
	}
	if corrupted > 0 {
		log.Printf("store: redis skipped %d undecodable members", corrupted)
	}
	return resultOf(recs, corrupted, q.Limit), nil
}

func (s *RedisStore) Prune(ctx context.Context, before time.Time) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	n, err := s.client.ZRemRangeByScore(ctx, s.eventsKey(), "-inf",
		"("+strconv.FormatInt(before.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: redis prune: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Reset(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.client.Del(ctx, s.eventsKey()).Err(); err != nil {
		return fmt.Errorf("store: redis reset: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.client.Close()
}

// scoreRange maps [since, until) onto a ZRANGEBYSCORE range that covers
// at least that interval
func scoreRange(since, until time.Time) *redis.ZRangeBy {
	r := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !since.IsZero() {
		r.Min = strconv.FormatInt(since.UnixMilli(), 10)
	}
	if !until.IsZero() {
		// scores are truncated to the millisecond, so round the exclusive
		// bound up and leave the exact cut to Query.Match
		ms := until.UnixMilli()
		if time.UnixMilli(ms).Before(until) {
			ms++
		}
		r.Max = "(" + strconv.FormatInt(ms, 10)
	}
	return r
}

func encodeMember(seq int64, data []byte) string {
	return fmt.Sprintf("%020d|%s", seq, data)
}

func decodeMember(m string) (int64, event.TrackingEvent, bool) {
	var e event.TrackingEvent
	head, body, ok := strings.Cut(m, "|")
	if !ok {
		return 0, e, false
	}
	seq, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, e, false
	}
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return 0, e, false
	}
	return seq, e, true
}
