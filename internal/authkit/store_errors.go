package authkit

import "errors"

var (
	// ErrUserNotFound indicates no local user matched the lookup.
	ErrUserNotFound = errors.New("credential_store.user_not_found")
	// ErrLinkedAccountNotFound indicates no linked account matched the lookup.
	ErrLinkedAccountNotFound = errors.New("credential_store.linked_account_not_found")
	// ErrUniqueViolation indicates the store rejected a write that would duplicate a unique value.
	ErrUniqueViolation = errors.New("credential_store.unique_violation")
)
