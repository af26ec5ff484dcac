package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	logx "hotlabel/pkg/logx"

	"github.com/redis/go-redis/v9"
)

// Redis layout:
//   - <prefix>:completions  sorted set, member = record JSON, score = completed_at (unix ms)
//   - <prefix>:session      hash of session-scoped identifiers
const defaultRedisPrefix = "hotlabel"

type redisStore struct {
	rdb *redis.Client
	log logx.Logger

	completionsKey string
	sessionKey     string
}

// openRedis treats Config.Path as an optional key prefix.
func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	prefix := strings.TrimSpace(cfg.Path)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &redisStore{
		rdb:            rdb,
		log:            log,
		completionsKey: prefix + ":completions",
		sessionKey:     prefix + ":session",
	}, nil
}

func (s *redisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *redisStore) AppendCompletion(ctx context.Context, r CompletionRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, s.completionsKey, redis.Z{
		Score:  float64(r.CompletedAt.UnixMilli()),
		Member: data,
	}).Err()
}

func (s *redisStore) ListCompletions(ctx context.Context) ([]CompletionRecord, error) {
	raw, err := s.rdb.ZRange(ctx, s.completionsKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]CompletionRecord, 0, len(raw))
	for _, item := range raw {
		var r CompletionRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			s.log.Warn("skipping malformed completion", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *redisStore) PruneCompletions(ctx context.Context, before time.Time) (int, error) {
	// Exclusive upper bound: records completed exactly at the cutoff are kept.
	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	n, err := s.rdb.ZRemRangeByScore(ctx, s.completionsKey, "-inf", max).Result()
	return int(n), err
}

func (s *redisStore) PutSession(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return s.rdb.HSet(ctx, s.sessionKey, key, value).Err()
}

func (s *redisStore) GetSession(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, s.sessionKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *redisStore) Purge(ctx context.Context) error {
	return s.rdb.Del(ctx, s.sessionKey).Err()
}
