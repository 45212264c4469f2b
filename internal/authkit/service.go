package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	messageCredentialsTaken     = "Credentials taken"
	messageCredentialsIncorrect = "Credentials incorrect"
	messageCodeNotFound         = "Code not found"
	messageUpdateFailed         = "Failed to update user access token"
)

var errMissingDependency = errors.New("auth.service: missing dependency")

// ServiceDependencies are the collaborators injected into Service.
type ServiceDependencies struct {
	Users    UserStore
	Accounts LinkedAccountStore
	Hasher   PasswordHasher
	Tokens   TokenSigner
	Provider IdentityProvider
	Logger   *zap.Logger
	Metrics  MetricsRecorder
}

// Service implements local signup/signin and the Tiendanube install flow.
type Service struct {
	users    UserStore
	accounts LinkedAccountStore
	hasher   PasswordHasher
	tokens   TokenSigner
	provider IdentityProvider
	logger   *zap.Logger
	metrics  MetricsRecorder
}

// NewService wires a Service. Logger and Metrics are optional.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	switch {
	case dependencies.Users == nil:
		return nil, fmt.Errorf("%w: user store", errMissingDependency)
	case dependencies.Accounts == nil:
		return nil, fmt.Errorf("%w: linked account store", errMissingDependency)
	case dependencies.Hasher == nil:
		return nil, fmt.Errorf("%w: password hasher", errMissingDependency)
	case dependencies.Tokens == nil:
		return nil, fmt.Errorf("%w: token signer", errMissingDependency)
	case dependencies.Provider == nil:
		return nil, fmt.Errorf("%w: identity provider", errMissingDependency)
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics MetricsRecorder = noopMetrics{}
	if dependencies.Metrics != nil {
		metrics = dependencies.Metrics
	}
	return &Service{
		users:    dependencies.Users,
		accounts: dependencies.Accounts,
		hasher:   dependencies.Hasher,
		tokens:   dependencies.Tokens,
		provider: dependencies.Provider,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Signup creates a local user and returns a bearer token for it.
func (service *Service) Signup(ctx context.Context, email string, password string) (AccessToken, error) {
	if err := validateCredentials(email, password); err != nil {
		service.metrics.Increment(metricSignupFailure)
		return AccessToken{}, err
	}
	hash, hashErr := service.hasher.Hash(password)
	if hashErr != nil {
		service.metrics.Increment(metricSignupFailure)
		if errors.Is(hashErr, bcrypt.ErrPasswordTooLong) {
			return AccessToken{}, newError(ErrValidationFailed, "password is too long", hashErr)
		}
		return AccessToken{}, fmt.Errorf("auth.signup.hash: %w", hashErr)
	}
	user, createErr := service.users.CreateUser(ctx, email, hash)
	if createErr != nil {
		service.metrics.Increment(metricSignupFailure)
		if IsUniqueViolation(createErr) {
			service.logger.Info("signup rejected", zap.String("code", "auth.signup.duplicate"))
			return AccessToken{}, newError(ErrDuplicateCredentials, messageCredentialsTaken, createErr)
		}
		service.logger.Error("signup store failure", zap.String("code", "auth.signup.store_error"), zap.Error(createErr))
		return AccessToken{}, fmt.Errorf("auth.signup.create: %w", createErr)
	}
	public := user.Public()
	token, signErr := service.tokens.SignToken(public.ID, public.Email, nil)
	if signErr != nil {
		return AccessToken{}, fmt.Errorf("auth.signup.sign: %w", signErr)
	}
	service.metrics.Increment(metricSignupSuccess)
	return token, nil
}

// Signin verifies local credentials. Unknown email and wrong password fail identically.
func (service *Service) Signin(ctx context.Context, email string, password string) (AccessToken, error) {
	if err := validateCredentials(email, password); err != nil {
		service.metrics.Increment(metricSigninFailure)
		return AccessToken{}, err
	}
	user, findErr := service.users.FindUserByEmail(ctx, email)
	if findErr != nil {
		service.metrics.Increment(metricSigninFailure)
		if errors.Is(findErr, ErrUserNotFound) {
			return AccessToken{}, newError(ErrInvalidCredentials, messageCredentialsIncorrect, nil)
		}
		service.logger.Error("signin store failure", zap.String("code", "auth.signin.store_error"), zap.Error(findErr))
		return AccessToken{}, fmt.Errorf("auth.signin.find: %w", findErr)
	}
	matches, verifyErr := service.hasher.Verify(user.PasswordHash, password)
	if verifyErr != nil {
		service.metrics.Increment(metricSigninFailure)
		service.logger.Error("stored password hash unusable",
			zap.String("code", "auth.signin.hash_error"),
			zap.String("user_id", user.ID),
			zap.Error(verifyErr))
		return AccessToken{}, fmt.Errorf("auth.signin.verify: %w", verifyErr)
	}
	if !matches {
		service.metrics.Increment(metricSigninFailure)
		return AccessToken{}, newError(ErrInvalidCredentials, messageCredentialsIncorrect, nil)
	}
	public := user.Public()
	token, signErr := service.tokens.SignToken(public.ID, public.Email, nil)
	if signErr != nil {
		return AccessToken{}, fmt.Errorf("auth.signin.sign: %w", signErr)
	}
	service.metrics.Increment(metricSigninSuccess)
	return token, nil
}

// Install exchanges a Tiendanube authorization code and returns a bearer token for the
// linked account, creating it on first install and refreshing its access token afterwards.
func (service *Service) Install(ctx context.Context, code string) (AccessToken, error) {
	if strings.TrimSpace(code) == "" {
		service.metrics.Increment(metricInstallFailure)
		return AccessToken{}, newError(ErrInvalidRequest, messageCodeNotFound, nil)
	}
	exchange, exchangeErr := service.provider.ExchangeCode(ctx, code)
	if exchangeErr != nil {
		service.metrics.Increment(metricInstallFailure)
		service.logger.Warn("code exchange failed", zap.String("code", "auth.install.exchange_failed"), zap.Error(exchangeErr))
		return AccessToken{}, exchangeErr
	}
	if validateErr := exchange.validate(); validateErr != nil {
		service.metrics.Increment(metricInstallFailure)
		service.logger.Warn("code exchange returned no store identity", zap.String("code", "auth.install.invalid_exchange"), zap.Error(validateErr))
		return AccessToken{}, validateErr
	}

	account, findErr := service.accounts.FindLinkedAccount(ctx, exchange.UserID)
	switch {
	case findErr == nil:
		return service.refreshLinkedAccount(ctx, account, exchange)
	case errors.Is(findErr, ErrLinkedAccountNotFound):
		return service.createLinkedAccount(ctx, exchange)
	default:
		service.metrics.Increment(metricInstallFailure)
		service.logger.Error("linked account lookup failed",
			zap.String("code", "auth.install.store_error"),
			zap.Int64("external_user_id", exchange.UserID),
			zap.Error(findErr))
		return AccessToken{}, fmt.Errorf("auth.install.find: %w", findErr)
	}
}

func (service *Service) refreshLinkedAccount(ctx context.Context, account LinkedAccount, exchange CodeExchange) (AccessToken, error) {
	if err := service.accounts.UpdateLinkedAccountToken(ctx, account.ID, exchange.AccessToken); err != nil {
		service.metrics.Increment(metricInstallFailure)
		service.logger.Error("linked account token refresh failed",
			zap.String("code", "auth.install.update_failed"),
			zap.String("account_id", account.ID),
			zap.Error(err))
		return AccessToken{}, newError(ErrUpdateFailed, messageUpdateFailed, err)
	}
	token, signErr := service.signLinkedAccount(account.Public())
	if signErr != nil {
		return AccessToken{}, newError(ErrUpdateFailed, messageUpdateFailed, signErr)
	}
	service.metrics.Increment(metricInstallRefreshed)
	service.logger.Info("linked account refreshed",
		zap.String("code", "auth.install.refreshed"),
		zap.String("account_id", account.ID))
	return token, nil
}

func (service *Service) createLinkedAccount(ctx context.Context, exchange CodeExchange) (AccessToken, error) {
	profile, profileErr := service.provider.FetchProfile(ctx, exchange.UserID, exchange.AccessToken, exchange.TokenType)
	if profileErr != nil {
		service.metrics.Increment(metricInstallFailure)
		service.logger.Warn("store profile fetch failed", zap.String("code", "auth.install.profile_failed"), zap.Error(profileErr))
		return AccessToken{}, profileErr
	}
	account, createErr := service.accounts.CreateLinkedAccount(ctx, profile.Email, exchange.UserID, exchange.AccessToken)
	if createErr != nil {
		service.metrics.Increment(metricInstallFailure)
		if IsUniqueViolation(createErr) {
			service.logger.Info("concurrent install lost the race",
				zap.String("code", "auth.install.duplicate"),
				zap.Int64("external_user_id", exchange.UserID))
			return AccessToken{}, newError(ErrDuplicateCredentials, messageCredentialsTaken, createErr)
		}
		service.logger.Error("linked account create failed", zap.String("code", "auth.install.store_error"), zap.Error(createErr))
		return AccessToken{}, fmt.Errorf("auth.install.create: %w", createErr)
	}
	token, signErr := service.signLinkedAccount(account.Public())
	if signErr != nil {
		return AccessToken{}, fmt.Errorf("auth.install.sign: %w", signErr)
	}
	service.metrics.Increment(metricInstallCreated)
	service.logger.Info("linked account created",
		zap.String("code", "auth.install.created"),
		zap.String("account_id", account.ID))
	return token, nil
}

func (service *Service) signLinkedAccount(account PublicLinkedAccount) (AccessToken, error) {
	return service.tokens.SignToken(account.ID, account.Email, map[string]any{
		ClaimExternalUserID: account.ExternalUserID,
	})
}

// Profile returns the public view behind a token subject. Linked-account tokens carry a
// non-zero externalUserID.
func (service *Service) Profile(ctx context.Context, subjectID string, externalUserID int64) (any, error) {
	if externalUserID != 0 {
		account, err := service.accounts.FindLinkedAccountByID(ctx, subjectID)
		if err != nil {
			if errors.Is(err, ErrLinkedAccountNotFound) {
				return nil, newError(ErrInvalidCredentials, messageCredentialsIncorrect, err)
			}
			return nil, fmt.Errorf("users.profile.linked: %w", err)
		}
		return account.Public(), nil
	}
	user, err := service.users.FindUserByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, newError(ErrInvalidCredentials, messageCredentialsIncorrect, err)
		}
		return nil, fmt.Errorf("users.profile.local: %w", err)
	}
	return user.Public(), nil
}

// EditUser updates a local user's profile. Linked accounts are read-only.
func (service *Service) EditUser(ctx context.Context, subjectID string, externalUserID int64, edit UserEdit) (PublicUser, error) {
	if externalUserID != 0 {
		return PublicUser{}, newError(ErrInvalidRequest, "linked accounts cannot be edited", nil)
	}
	if edit.Email != nil && strings.TrimSpace(*edit.Email) == "" {
		return PublicUser{}, newError(ErrValidationFailed, "email must not be empty", nil)
	}
	if edit.IsEmpty() {
		user, err := service.users.FindUserByID(ctx, subjectID)
		if err != nil {
			return PublicUser{}, service.editFailure(err)
		}
		return user.Public(), nil
	}
	user, err := service.users.UpdateUser(ctx, subjectID, edit)
	if err != nil {
		return PublicUser{}, service.editFailure(err)
	}
	return user.Public(), nil
}

func (service *Service) editFailure(err error) error {
	service.metrics.Increment(metricProfileEditFailed)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return newError(ErrInvalidCredentials, messageCredentialsIncorrect, err)
	case IsUniqueViolation(err):
		return newError(ErrDuplicateCredentials, messageCredentialsTaken, err)
	default:
		service.logger.Error("user edit failed", zap.String("code", "users.edit.store_error"), zap.Error(err))
		return fmt.Errorf("users.edit: %w", err)
	}
}

func validateCredentials(email string, password string) error {
	if strings.TrimSpace(email) == "" {
		return newError(ErrValidationFailed, "email must not be empty", nil)
	}
	if password == "" {
		return newError(ErrValidationFailed, "password must not be empty", nil)
	}
	return nil
}
