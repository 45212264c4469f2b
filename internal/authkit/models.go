package authkit

import "time"

// LocalUser is a persisted email/password account.
type LocalUser struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LinkedAccount is a persisted Tiendanube store linked through the install flow.
type LinkedAccount struct {
	ID             string
	Email          string
	ExternalUserID int64
	AccessToken    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserEdit carries optional profile changes; nil fields are left untouched.
type UserEdit struct {
	Email     *string
	FirstName *string
	LastName  *string
}

// IsEmpty reports whether the edit changes nothing.
func (edit UserEdit) IsEmpty() bool {
	return edit.Email == nil && edit.FirstName == nil && edit.LastName == nil
}

// PublicUser is the client-safe view of a LocalUser.
type PublicUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PublicLinkedAccount is the client-safe view of a LinkedAccount.
type PublicLinkedAccount struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	ExternalUserID int64     `json:"userId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Public projects the user without its password hash.
func (user LocalUser) Public() PublicUser {
	return PublicUser{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

// Public projects the account without its provider access token.
func (account LinkedAccount) Public() PublicLinkedAccount {
	return PublicLinkedAccount{
		ID:             account.ID,
		Email:          account.Email,
		ExternalUserID: account.ExternalUserID,
		CreatedAt:      account.CreatedAt,
		UpdatedAt:      account.UpdatedAt,
	}
}
