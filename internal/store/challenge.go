package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/authgate/apiserver/types"
	"github.com/redis/go-redis/v9"
)

// ChallengeLedger records redeemed challenge nonces in PostgreSQL.
// Expired rows are pruned by the same statement that records a nonce.
type ChallengeLedger struct {
	db *sql.DB
}

func NewChallengeLedger(db *sql.DB) *ChallengeLedger {
	return &ChallengeLedger{db: db}
}

func (l *ChallengeLedger) Consume(ctx context.Context, nonce string, expiresAt types.Instant) (bool, error) {
	const query = `
		WITH pruned AS (DELETE FROM used_challenges WHERE expires_at <= $3)
		INSERT INTO used_challenges (nonce, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (nonce) DO NOTHING`
	result, err := l.db.ExecContext(ctx, query, nonce, expiresAt, types.Now())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// RedisChallengeLedger records redeemed challenge nonces as
// <prefix>:challenge:<nonce> keys that expire with the challenge.
type RedisChallengeLedger struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisChallengeLedger(client redis.UniversalClient, prefix string) *RedisChallengeLedger {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisChallengeLedger{client: client, prefix: prefix}
}

func (l *RedisChallengeLedger) Consume(ctx context.Context, nonce string, expiresAt types.Instant) (bool, error) {
	ttl := expiresAt.Sub(types.Now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return l.client.SetNX(ctx, l.prefix+":challenge:"+nonce, 1, ttl).Result()
}
