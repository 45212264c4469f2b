package authkitpg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/storelink/internal/authkit"
)

// rowQuerier is the subset of pgxpool.Pool the store uses.
type rowQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// PostgresCredentialStore persists users and linked accounts in PostgreSQL through pgx.
type PostgresCredentialStore struct {
	pool rowQuerier
}

// NewPostgresCredentialStore constructs a Postgres store.
func NewPostgresCredentialStore(pool *pgxpool.Pool) *PostgresCredentialStore {
	return &PostgresCredentialStore{pool: pool}
}

const selectUserColumns = `SELECT id, email, hash, first_name, last_name, created_at, updated_at FROM users`

const selectLinkedAccountColumns = `SELECT id, email, user_id, access_token, created_at, updated_at FROM tiendanube_users`

// CreateUser inserts a local user.
func (store *PostgresCredentialStore) CreateUser(ctx context.Context, email string, passwordHash string) (authkit.LocalUser, error) {
	now := time.Now().UTC()
	user := authkit.LocalUser{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := store.pool.Exec(ctx, `
INSERT INTO users (id, email, hash, first_name, last_name, created_at, updated_at)
VALUES ($1, $2, $3, '', '', $4, $5)
`, user.ID, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return authkit.LocalUser{}, wrapError("create_user", err)
	}
	return user, nil
}

// FindUserByEmail returns the user with the exact email.
func (store *PostgresCredentialStore) FindUserByEmail(ctx context.Context, email string) (authkit.LocalUser, error) {
	return store.scanUser("find_user", store.pool.QueryRow(ctx, selectUserColumns+` WHERE email = $1`, email))
}

// FindUserByID returns the user with the given id.
func (store *PostgresCredentialStore) FindUserByID(ctx context.Context, userID string) (authkit.LocalUser, error) {
	return store.scanUser("find_user", store.pool.QueryRow(ctx, selectUserColumns+` WHERE id = $1`, userID))
}

// UpdateUser applies the non-nil fields of edit in one statement.
func (store *PostgresCredentialStore) UpdateUser(ctx context.Context, userID string, edit authkit.UserEdit) (authkit.LocalUser, error) {
	assignments := []string{"updated_at = $1"}
	arguments := []any{time.Now().UTC()}
	appendAssignment := func(column string, value *string) {
		if value == nil {
			return
		}
		arguments = append(arguments, *value)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(arguments)))
	}
	appendAssignment("email", edit.Email)
	appendAssignment("first_name", edit.FirstName)
	appendAssignment("last_name", edit.LastName)
	arguments = append(arguments, userID)

	statement := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d
RETURNING id, email, hash, first_name, last_name, created_at, updated_at`, strings.Join(assignments, ", "), len(arguments))
	return store.scanUser("update_user", store.pool.QueryRow(ctx, statement, arguments...))
}

// FindLinkedAccount returns the account correlated with the external user id.
func (store *PostgresCredentialStore) FindLinkedAccount(ctx context.Context, externalUserID int64) (authkit.LinkedAccount, error) {
	return store.scanLinkedAccount("find_linked_account", store.pool.QueryRow(ctx, selectLinkedAccountColumns+` WHERE user_id = $1`, externalUserID))
}

// FindLinkedAccountByID returns the account with the given id.
func (store *PostgresCredentialStore) FindLinkedAccountByID(ctx context.Context, accountID string) (authkit.LinkedAccount, error) {
	return store.scanLinkedAccount("find_linked_account", store.pool.QueryRow(ctx, selectLinkedAccountColumns+` WHERE id = $1`, accountID))
}

// CreateLinkedAccount inserts an account; the user_id unique constraint arbitrates concurrent installs.
func (store *PostgresCredentialStore) CreateLinkedAccount(ctx context.Context, email string, externalUserID int64, accessToken string) (authkit.LinkedAccount, error) {
	now := time.Now().UTC()
	account := authkit.LinkedAccount{
		ID:             uuid.NewString(),
		Email:          email,
		ExternalUserID: externalUserID,
		AccessToken:    accessToken,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := store.pool.Exec(ctx, `
INSERT INTO tiendanube_users (id, email, user_id, access_token, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, account.ID, account.Email, account.ExternalUserID, account.AccessToken, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return authkit.LinkedAccount{}, wrapError("create_linked_account", err)
	}
	return account, nil
}

// UpdateLinkedAccountToken replaces the stored provider access token.
func (store *PostgresCredentialStore) UpdateLinkedAccountToken(ctx context.Context, accountID string, accessToken string) error {
	tag, err := store.pool.Exec(ctx, `
UPDATE tiendanube_users
SET access_token = $1, updated_at = $2
WHERE id = $3
`, accessToken, time.Now().UTC(), accountID)
	if err != nil {
		return wrapError("update_linked_account", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapError("update_linked_account", authkit.ErrLinkedAccountNotFound)
	}
	return nil
}

func (store *PostgresCredentialStore) scanUser(operation string, row pgx.Row) (authkit.LocalUser, error) {
	var user authkit.LocalUser
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authkit.LocalUser{}, wrapError(operation, authkit.ErrUserNotFound)
		}
		return authkit.LocalUser{}, wrapError(operation, err)
	}
	return user, nil
}

func (store *PostgresCredentialStore) scanLinkedAccount(operation string, row pgx.Row) (authkit.LinkedAccount, error) {
	var account authkit.LinkedAccount
	err := row.Scan(&account.ID, &account.Email, &account.ExternalUserID, &account.AccessToken, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authkit.LinkedAccount{}, wrapError(operation, authkit.ErrLinkedAccountNotFound)
		}
		return authkit.LinkedAccount{}, wrapError(operation, err)
	}
	return account, nil
}

func wrapError(operation string, err error) error {
	if !errors.Is(err, authkit.ErrUniqueViolation) && authkit.IsUniqueViolation(err) {
		return fmt.Errorf("credential_store.%s.pgx: %w: %w", operation, authkit.ErrUniqueViolation, err)
	}
	return fmt.Errorf("credential_store.%s.pgx: %w", operation, err)
}
