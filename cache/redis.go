// Package cache keeps short-lived snapshots of the global leaderboard in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/padraicbc/gridpicks/scoring"
)

const defaultPrefix = "gridpicks:leaderboard:global"

// Redis stores one key per generation and limit. Invalidate bumps the
// generation counter, so snapshots taken before it are never read again and
// age out on their own TTL. Failures are logged and read as a miss.
type Redis struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

var _ scoring.Cache = (*Redis)(nil)

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr string, ttl time.Duration, log *zap.Logger) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedis(rdb, ttl, log), nil
}

func newRedis(rdb *goredis.Client, ttl time.Duration, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{rdb: rdb, prefix: defaultPrefix, ttl: ttl, log: log.Named("cache")}
}

func (r *Redis) genKey() string { return r.prefix + ":gen" }

func (r *Redis) snapshotKey(gen int64, limit int) string {
	return fmt.Sprintf("%s:%d:%d", r.prefix, gen, limit)
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// generation reads the counter through g; a missing key is generation 0.
func (r *Redis) generation(ctx context.Context, g getter) (int64, error) {
	gen, err := g.Get(ctx, r.genKey()).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return gen, err
}

// GlobalLeaderboard returns the current generation even on a miss; the
// caller hands it back to StoreGlobalLeaderboard.
func (r *Redis) GlobalLeaderboard(ctx context.Context, limit int) ([]scoring.Standing, int64, bool) {
	gen, err := r.generation(ctx, r.rdb)
	if err != nil {
		r.log.Warn("leaderboard cache generation read failed", zap.Error(err))
		return nil, -1, false
	}
	raw, err := r.rdb.Get(ctx, r.snapshotKey(gen, limit)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			r.log.Warn("leaderboard cache read failed", zap.Error(err))
		}
		return nil, gen, false
	}
	var rows []scoring.Standing
	if err := json.Unmarshal(raw, &rows); err != nil {
		r.log.Warn("leaderboard cache entry unreadable", zap.Error(err))
		return nil, gen, false
	}
	return rows, gen, true
}

var errStaleGeneration = errors.New("leaderboard generation moved")

// StoreGlobalLeaderboard writes rows only while the generation is still gen.
// A write racing an Invalidate is dropped.
func (r *Redis) StoreGlobalLeaderboard(ctx context.Context, limit int, gen int64, rows []scoring.Standing) {
	if gen < 0 {
		return
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return
	}
	err = r.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := r.generation(ctx, tx)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, r.snapshotKey(gen, limit), raw, r.ttl)
			return nil
		})
		return err
	}, r.genKey())
	switch {
	case err == nil:
	case errors.Is(err, errStaleGeneration), errors.Is(err, goredis.TxFailedErr):
		r.log.Debug("leaderboard snapshot dropped", zap.Int64("generation", gen), zap.Int("limit", limit))
	default:
		r.log.Warn("leaderboard cache write failed", zap.Error(err))
	}
}

func (r *Redis) Invalidate(ctx context.Context) {
	if err := r.rdb.Incr(ctx, r.genKey()).Err(); err != nil {
		r.log.Warn("leaderboard cache invalidate failed", zap.Error(err))
	}
}

func (r *Redis) Close() error { return r.rdb.Close() }
