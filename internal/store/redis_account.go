package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/authgate/apiserver/types"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisAccountRepository.
const DefaultRedisPrefix = "authgate"

const (
	fieldID             = "id"
	fieldEmail          = "email"
	fieldUsername       = "username"
	fieldPasswordHash   = "password_hash"
	fieldRole           = "role"
	fieldFailedAttempts = "failed_attempts"
	fieldLockedUntil    = "locked_until"
	fieldCreatedAt      = "created_at"
	fieldUpdatedAt      = "updated_at"
)

// RedisAccountRepository persists accounts as Redis hashes.
//
// Keys:
//
//	<prefix>:account:<id>       hash of account fields
//	<prefix>:identity:<email>   account id, claimed with SETNX
//	<prefix>:accounts           sorted set of ids scored by creation time
type RedisAccountRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisAccountRepository(client redis.UniversalClient, prefix string) *RedisAccountRepository {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisAccountRepository{client: client, prefix: prefix}
}

func (r *RedisAccountRepository) accountKey(id string) string {
	return r.prefix + ":account:" + id
}

func (r *RedisAccountRepository) identityKey(email string) string {
	return r.prefix + ":identity:" + email
}

func (r *RedisAccountRepository) indexKey() string {
	return r.prefix + ":accounts"
}

func (r *RedisAccountRepository) FindByIdentity(ctx context.Context, email string) (types.Account, error) {
	id, err := r.client.Get(ctx, r.identityKey(NormalizeIdentity(email))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return r.FindByID(ctx, id)
}

func (r *RedisAccountRepository) FindByID(ctx context.Context, id string) (types.Account, error) {
	fields, err := r.client.HGetAll(ctx, r.accountKey(id)).Result()
	if err != nil {
		return types.Account{}, err
	}
	if len(fields) == 0 {
		return types.Account{}, ErrNotFound
	}
	return decodeAccount(fields)
}

// Insert claims the identity key first so two concurrent registrations for
// the same email cannot both succeed.
func (r *RedisAccountRepository) Insert(ctx context.Context, account types.Account) (types.Account, error) {
	account = prepareInsert(account)

	claimed, err := r.client.SetNX(ctx, r.identityKey(account.Email), account.ID, 0).Result()
	if err != nil {
		return types.Account{}, err
	}
	if !claimed {
		return types.Account{}, ErrDuplicate
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.accountKey(account.ID), encodeAccount(account))
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(account.CreatedAt.Time().UnixNano()),
			Member: account.ID,
		})
		return nil
	})
	if err != nil {
		_ = r.client.Del(ctx, r.identityKey(account.Email)).Err()
		return types.Account{}, err
	}
	return account, nil
}

// UpdateFields applies update inside one MULTI/EXEC block.
func (r *RedisAccountRepository) UpdateFields(ctx context.Context, id string, update types.AccountUpdate) error {
	if update.Empty() {
		return nil
	}

	key := r.accountKey(id)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	values := map[string]any{fieldUpdatedAt: types.Now().String()}
	if update.FailedAttempts != nil {
		values[fieldFailedAttempts] = *update.FailedAttempts
	}
	if !update.ClearLock && update.LockedUntil != nil {
		values[fieldLockedUntil] = update.LockedUntil.String()
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		if update.ClearLock {
			pipe.HDel(ctx, key, fieldLockedUntil)
		}
		return nil
	})
	return err
}

func (r *RedisAccountRepository) List(ctx context.Context) ([]types.Account, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.accountKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	accounts := make([]types.Account, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		account, err := decodeAccount(fields)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func encodeAccount(a types.Account) map[string]any {
	fields := map[string]any{
		fieldID:             a.ID,
		fieldEmail:          a.Email,
		fieldUsername:       a.Username,
		fieldPasswordHash:   a.PasswordHash,
		fieldRole:           string(a.Role),
		fieldFailedAttempts: a.FailedAttempts,
		fieldCreatedAt:      a.CreatedAt.String(),
		fieldUpdatedAt:      a.UpdatedAt.String(),
	}
	if a.LockedUntil != nil && !a.LockedUntil.IsZero() {
		fields[fieldLockedUntil] = a.LockedUntil.String()
	}
	return fields
}

func decodeAccount(fields map[string]string) (types.Account, error) {
	account := types.Account{
		ID:           fields[fieldID],
		Email:        fields[fieldEmail],
		Username:     fields[fieldUsername],
		PasswordHash: fields[fieldPasswordHash],
	}

	var err error
	if account.Role, err = types.ParseRole(fields[fieldRole]); err != nil {
		return types.Account{}, err
	}
	if raw := fields[fieldFailedAttempts]; raw != "" {
		if account.FailedAttempts, err = strconv.Atoi(raw); err != nil {
			return types.Account{}, fmt.Errorf("decode failed_attempts: %w", err)
		}
	}
	if raw := fields[fieldLockedUntil]; raw != "" {
		until, err := types.ParseInstant(raw)
		if err != nil {
			return types.Account{}, fmt.Errorf("decode locked_until: %w", err)
		}
		account.LockedUntil = &until
	}
	if account.CreatedAt, err = parseOptionalInstant(fields[fieldCreatedAt]); err != nil {
		return types.Account{}, fmt.Errorf("decode created_at: %w", err)
	}
	if account.UpdatedAt, err = parseOptionalInstant(fields[fieldUpdatedAt]); err != nil {
		return types.Account{}, fmt.Errorf("decode updated_at: %w", err)
	}
	return account, nil
}

func parseOptionalInstant(raw string) (types.Instant, error) {
	if raw == "" {
		return types.Instant{}, nil
	}
	return types.ParseInstant(raw)
}
