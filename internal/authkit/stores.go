package authkit

import "context"

// UserStore persists local email/password users.
type UserStore interface {
	CreateUser(ctx context.Context, email string, passwordHash string) (LocalUser, error)
	FindUserByEmail(ctx context.Context, email string) (LocalUser, error)
	FindUserByID(ctx context.Context, userID string) (LocalUser, error)
	UpdateUser(ctx context.Context, userID string, edit UserEdit) (LocalUser, error)
}

// LinkedAccountStore persists Tiendanube accounts keyed by their external user id.
type LinkedAccountStore interface {
	FindLinkedAccount(ctx context.Context, externalUserID int64) (LinkedAccount, error)
	FindLinkedAccountByID(ctx context.Context, accountID string) (LinkedAccount, error)
	CreateLinkedAccount(ctx context.Context, email string, externalUserID int64, accessToken string) (LinkedAccount, error)
	UpdateLinkedAccountToken(ctx context.Context, accountID string, accessToken string) error
}

// CredentialStore combines both stores; every backend implements it.
type CredentialStore interface {
	UserStore
	LinkedAccountStore
}
