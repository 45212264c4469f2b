package authkit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryCredentialStore is an in-memory store intended for tests and dev.
type MemoryCredentialStore struct {
	mutex              sync.Mutex
	usersByID          map[string]*LocalUser
	userIDsByEmail     map[string]string
	accountsByID       map[string]*LinkedAccount
	accountIDsByExtern map[int64]string
}

// NewMemoryCredentialStore creates an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		usersByID:          make(map[string]*LocalUser),
		userIDsByEmail:     make(map[string]string),
		accountsByID:       make(map[string]*LinkedAccount),
		accountIDsByExtern: make(map[int64]string),
	}
}

// CreateUser inserts a user, enforcing email uniqueness.
func (store *MemoryCredentialStore) CreateUser(ctx context.Context, email string, passwordHash string) (LocalUser, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, taken := store.userIDsByEmail[email]; taken {
		return LocalUser{}, fmt.Errorf("credential_store.create_user.memory: %w", ErrUniqueViolation)
	}
	now := time.Now().UTC()
	user := &LocalUser{
		ID:           newRecordID(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	store.usersByID[user.ID] = user
	store.userIDsByEmail[email] = user.ID
	return *user, nil
}

// FindUserByEmail returns a copy of the user with the exact email.
func (store *MemoryCredentialStore) FindUserByEmail(ctx context.Context, email string) (LocalUser, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	userID, ok := store.userIDsByEmail[email]
	if !ok {
		return LocalUser{}, fmt.Errorf("credential_store.find_user.memory: %w", ErrUserNotFound)
	}
	return *store.usersByID[userID], nil
}

// FindUserByID returns a copy of the user with the given id.
func (store *MemoryCredentialStore) FindUserByID(ctx context.Context, userID string) (LocalUser, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	user, ok := store.usersByID[userID]
	if !ok {
		return LocalUser{}, fmt.Errorf("credential_store.find_user.memory: %w", ErrUserNotFound)
	}
	return *user, nil
}

// UpdateUser applies the non-nil fields of edit.
func (store *MemoryCredentialStore) UpdateUser(ctx context.Context, userID string, edit UserEdit) (LocalUser, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	user, ok := store.usersByID[userID]
	if !ok {
		return LocalUser{}, fmt.Errorf("credential_store.update_user.memory: %w", ErrUserNotFound)
	}
	if edit.Email != nil && *edit.Email != user.Email {
		if _, taken := store.userIDsByEmail[*edit.Email]; taken {
			return LocalUser{}, fmt.Errorf("credential_store.update_user.memory: %w", ErrUniqueViolation)
		}
		delete(store.userIDsByEmail, user.Email)
		store.userIDsByEmail[*edit.Email] = user.ID
		user.Email = *edit.Email
	}
	if edit.FirstName != nil {
		user.FirstName = *edit.FirstName
	}
	if edit.LastName != nil {
		user.LastName = *edit.LastName
	}
	user.UpdatedAt = time.Now().UTC()
	return *user, nil
}

// FindLinkedAccount returns a copy of the account for the external user id.
func (store *MemoryCredentialStore) FindLinkedAccount(ctx context.Context, externalUserID int64) (LinkedAccount, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	accountID, ok := store.accountIDsByExtern[externalUserID]
	if !ok {
		return LinkedAccount{}, fmt.Errorf("credential_store.find_linked_account.memory: %w", ErrLinkedAccountNotFound)
	}
	return *store.accountsByID[accountID], nil
}

// FindLinkedAccountByID returns a copy of the account with the given id.
func (store *MemoryCredentialStore) FindLinkedAccountByID(ctx context.Context, accountID string) (LinkedAccount, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	account, ok := store.accountsByID[accountID]
	if !ok {
		return LinkedAccount{}, fmt.Errorf("credential_store.find_linked_account.memory: %w", ErrLinkedAccountNotFound)
	}
	return *account, nil
}

// CreateLinkedAccount inserts an account, enforcing external user id uniqueness.
func (store *MemoryCredentialStore) CreateLinkedAccount(ctx context.Context, email string, externalUserID int64, accessToken string) (LinkedAccount, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, taken := store.accountIDsByExtern[externalUserID]; taken {
		return LinkedAccount{}, fmt.Errorf("credential_store.create_linked_account.memory: %w", ErrUniqueViolation)
	}
	now := time.Now().UTC()
	account := &LinkedAccount{
		ID:             newRecordID(),
		Email:          email,
		ExternalUserID: externalUserID,
		AccessToken:    accessToken,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	store.accountsByID[account.ID] = account
	store.accountIDsByExtern[externalUserID] = account.ID
	return *account, nil
}

// UpdateLinkedAccountToken replaces the stored provider access token.
func (store *MemoryCredentialStore) UpdateLinkedAccountToken(ctx context.Context, accountID string, accessToken string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	account, ok := store.accountsByID[accountID]
	if !ok {
		return fmt.Errorf("credential_store.update_linked_account.memory: %w", ErrLinkedAccountNotFound)
	}
	account.AccessToken = accessToken
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// Counts reports how many users and linked accounts are stored.
func (store *MemoryCredentialStore) Counts() (users int, linkedAccounts int) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.usersByID), len(store.accountsByID)
}
