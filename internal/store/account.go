package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/authgate/apiserver/types"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const accountColumns = `id, email, username, password_hash, role, failed_attempts, locked_until, created_at, updated_at`

// AccountRepository persists accounts in PostgreSQL.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByIdentity looks an account up by its normalised email.
func (r *AccountRepository) FindByIdentity(ctx context.Context, email string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, NormalizeIdentity(email)))
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (types.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Account{}, ErrNotFound
	}
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// Insert stores a new account. ID and timestamps are assigned here.
func (r *AccountRepository) Insert(ctx context.Context, account types.Account) (types.Account, error) {
	account = prepareInsert(account)

	const query = `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.Email,
		account.Username,
		account.PasswordHash,
		string(account.Role),
		account.FailedAttempts,
		nullableInstant(account.LockedUntil),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return types.Account{}, ErrDuplicate
		}
		return types.Account{}, err
	}
	return account, nil
}

// UpdateFields writes the set fields of update in a single statement.
func (r *AccountRepository) UpdateFields(ctx context.Context, id string, update types.AccountUpdate) error {
	if update.Empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.FailedAttempts != nil {
		add("failed_attempts", *update.FailedAttempts)
	}
	if update.ClearLock {
		sets = append(sets, "locked_until = NULL")
	} else if update.LockedUntil != nil {
		add("locked_until", *update.LockedUntil)
	}
	add("updated_at", types.Now())
	args = append(args, id)

	query := fmt.Sprintf("UPDATE accounts SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every account, oldest first.
func (r *AccountRepository) List(ctx context.Context) ([]types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, email`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []types.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (types.Account, error) {
	var (
		account     types.Account
		role        string
		lockedUntil sql.NullTime
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Username,
		&account.PasswordHash,
		&role,
		&account.FailedAttempts,
		&lockedUntil,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}

	account.Role, err = types.ParseRole(role)
	if err != nil {
		return types.Account{}, err
	}
	if lockedUntil.Valid {
		until := types.At(lockedUntil.Time)
		account.LockedUntil = &until
	}
	return account, nil
}

func nullableInstant(i *types.Instant) any {
	if i == nil || i.IsZero() {
		return nil
	}
	return *i
}

// NormalizeIdentity lower-cases and trims an email so lookups are
// case-insensitive.
func NormalizeIdentity(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func prepareInsert(account types.Account) types.Account {
	now := types.Now()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.Email = NormalizeIdentity(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now
	return account
}
