package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("credential_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("credential_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("credential_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("credential_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("credential_store.unsupported_no_scheme")
)

// DatabaseCredentialStore persists users and linked accounts using GORM.
type DatabaseCredentialStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseCredentialStore) Driver() string {
	return store.driverLabel
}

type userRecord struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Email     string    `gorm:"column:email;uniqueIndex;not null"`
	Hash      string    `gorm:"column:hash;not null"`
	FirstName string    `gorm:"column:first_name;not null;default:''"`
	LastName  string    `gorm:"column:last_name;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (userRecord) TableName() string {
	return "users"
}

func (record userRecord) toDomain() LocalUser {
	return LocalUser{
		ID:           record.ID,
		Email:        record.Email,
		PasswordHash: record.Hash,
		FirstName:    record.FirstName,
		LastName:     record.LastName,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

type linkedAccountRecord struct {
	ID             string    `gorm:"column:id;primaryKey"`
	Email          string    `gorm:"column:email;not null;default:''"`
	ExternalUserID int64     `gorm:"column:user_id;uniqueIndex;not null"`
	AccessToken    string    `gorm:"column:access_token;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

func (linkedAccountRecord) TableName() string {
	return "tiendanube_users"
}

func (record linkedAccountRecord) toDomain() LinkedAccount {
	return LinkedAccount{
		ID:             record.ID,
		Email:          record.Email,
		ExternalUserID: record.ExternalUserID,
		AccessToken:    record.AccessToken,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

// NewDatabaseCredentialStore opens the database behind databaseURL and migrates the schema.
func NewDatabaseCredentialStore(ctx context.Context, databaseURL string) (*DatabaseCredentialStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("credential_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if openErr != nil {
		return nil, fmt.Errorf("credential_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}, &linkedAccountRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("credential_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseCredentialStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Close releases the underlying connection pool.
func (store *DatabaseCredentialStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a local user; a taken email yields ErrUniqueViolation.
func (store *DatabaseCredentialStore) CreateUser(ctx context.Context, email string, passwordHash string) (LocalUser, error) {
	now := time.Now().UTC()
	record := userRecord{
		ID:        newRecordID(),
		Email:     email,
		Hash:      passwordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return LocalUser{}, store.wrap("create_user", err)
	}
	return record.toDomain(), nil
}

// FindUserByEmail returns the user with the exact email.
func (store *DatabaseCredentialStore) FindUserByEmail(ctx context.Context, email string) (LocalUser, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("email = ?", email).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LocalUser{}, store.wrap("find_user", ErrUserNotFound)
		}
		return LocalUser{}, store.wrap("find_user", err)
	}
	return record.toDomain(), nil
}

// FindUserByID returns the user with the given id.
func (store *DatabaseCredentialStore) FindUserByID(ctx context.Context, userID string) (LocalUser, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LocalUser{}, store.wrap("find_user", ErrUserNotFound)
		}
		return LocalUser{}, store.wrap("find_user", err)
	}
	return record.toDomain(), nil
}

// UpdateUser applies the non-nil fields of edit and returns the stored user.
func (store *DatabaseCredentialStore) UpdateUser(ctx context.Context, userID string, edit UserEdit) (LocalUser, error) {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if edit.Email != nil {
		updates["email"] = *edit.Email
	}
	if edit.FirstName != nil {
		updates["first_name"] = *edit.FirstName
	}
	if edit.LastName != nil {
		updates["last_name"] = *edit.LastName
	}
	result := store.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return LocalUser{}, store.wrap("update_user", result.Error)
	}
	if result.RowsAffected == 0 {
		return LocalUser{}, store.wrap("update_user", ErrUserNotFound)
	}
	return store.FindUserByID(ctx, userID)
}

// FindLinkedAccount returns the account correlated with the external user id.
func (store *DatabaseCredentialStore) FindLinkedAccount(ctx context.Context, externalUserID int64) (LinkedAccount, error) {
	var record linkedAccountRecord
	err := store.db.WithContext(ctx).Where("user_id = ?", externalUserID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LinkedAccount{}, store.wrap("find_linked_account", ErrLinkedAccountNotFound)
		}
		return LinkedAccount{}, store.wrap("find_linked_account", err)
	}
	return record.toDomain(), nil
}

// FindLinkedAccountByID returns the account with the given id.
func (store *DatabaseCredentialStore) FindLinkedAccountByID(ctx context.Context, accountID string) (LinkedAccount, error) {
	var record linkedAccountRecord
	err := store.db.WithContext(ctx).Where("id = ?", accountID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LinkedAccount{}, store.wrap("find_linked_account", ErrLinkedAccountNotFound)
		}
		return LinkedAccount{}, store.wrap("find_linked_account", err)
	}
	return record.toDomain(), nil
}

// CreateLinkedAccount inserts an account; a known external user id yields ErrUniqueViolation.
func (store *DatabaseCredentialStore) CreateLinkedAccount(ctx context.Context, email string, externalUserID int64, accessToken string) (LinkedAccount, error) {
	now := time.Now().UTC()
	record := linkedAccountRecord{
		ID:             newRecordID(),
		Email:          email,
		ExternalUserID: externalUserID,
		AccessToken:    accessToken,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return LinkedAccount{}, store.wrap("create_linked_account", err)
	}
	return record.toDomain(), nil
}

// UpdateLinkedAccountToken replaces the stored provider access token.
func (store *DatabaseCredentialStore) UpdateLinkedAccountToken(ctx context.Context, accountID string, accessToken string) error {
	result := store.db.WithContext(ctx).Model(&linkedAccountRecord{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"access_token": accessToken,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return store.wrap("update_linked_account", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.wrap("update_linked_account", ErrLinkedAccountNotFound)
	}
	return nil
}

func (store *DatabaseCredentialStore) wrap(operation string, err error) error {
	if !errors.Is(err, ErrUniqueViolation) && IsUniqueViolation(err) {
		return fmt.Errorf("credential_store.%s.%s: %w: %w", operation, store.driverLabel, ErrUniqueViolation, err)
	}
	return fmt.Errorf("credential_store.%s.%s: %w", operation, store.driverLabel, err)
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("credential_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("credential_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("credential_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("credential_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
