package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/storelink/internal/authkit"
	"github.com/tyemirov/storelink/internal/authkitpg"
	"github.com/tyemirov/storelink/internal/web"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildCredentialStore = func(ctx context.Context, logger *zap.Logger, storeDriver string, databaseURL string) (authkit.CredentialStore, func(), error) {
	if databaseURL == "" {
		logger.Info("using in-memory credential store")
		return authkit.NewMemoryCredentialStore(), func() {}, nil
	}
	switch storeDriver {
	case storeDriverPGX:
		pool, poolErr := authkitpg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, nil, poolErr
		}
		if schemaErr := authkitpg.EnsureSchema(ctx, pool); schemaErr != nil {
			pool.Close()
			return nil, nil, schemaErr
		}
		logger.Info("using pgx credential store")
		return authkitpg.NewPostgresCredentialStore(pool), pool.Close, nil
	default:
		databaseStore, storeErr := authkit.NewDatabaseCredentialStore(ctx, databaseURL)
		if storeErr != nil {
			return nil, nil, storeErr
		}
		logger.Info("using persistent credential store", zap.String("driver", databaseStore.Driver()))
		return databaseStore, func() { _ = databaseStore.Close() }, nil
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "storelink",
		Short:   "Auth service with local credentials, JWT bearer tokens, and Tiendanube store linking",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for access JWT")
	rootCmd.Flags().String("jwt_issuer", "storelink", "Issuer claim for access JWT; empty to omit")
	rootCmd.Flags().Duration("token_ttl", 24*time.Hour, "Access token TTL")
	rootCmd.Flags().String("database_url", "", "Database URL (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().String("store_driver", storeDriverGORM, "Persistence driver for database_url: gorm or pgx")
	rootCmd.Flags().String("client_id", "", "Tiendanube application client id")
	rootCmd.Flags().String("client_secret", "", "Tiendanube application client secret")
	rootCmd.Flags().String("tiendanube_auth_url", "https://www.tiendanube.com/apps/authorize/token", "Tiendanube code exchange endpoint")
	rootCmd.Flags().String("tiendanube_api_url", "https://api.tiendanube.com/v1", "Tiendanube REST API base URL")
	rootCmd.Flags().String("user_agent", "", "User-Agent sent to Tiendanube (required by their API)")
	rootCmd.Flags().Duration("provider_timeout", 10*time.Second, "Timeout for outbound Tiendanube calls")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().String("log_level", "info", "Log level (debug, info, warn, error)")

	for _, flagName := range []string{
		"listen_addr", "jwt_signing_key", "jwt_issuer", "token_ttl", "database_url", "store_driver",
		"client_id", "client_secret", "tiendanube_auth_url", "tiendanube_api_url", "user_agent",
		"provider_timeout", "enable_cors", "cors_allowed_origins", "log_level",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	shutdownGracePeriod = 10 * time.Second

	storeDriverGORM = "gorm"
	storeDriverPGX  = "pgx"

	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidTokenTTL         = "config.invalid_token_ttl"
	configCodeMissingClientID         = "config.missing_client_id"
	configCodeMissingClientSecret     = "config.missing_client_secret"
	configCodeMissingAuthURL          = "config.missing_auth_url"
	configCodeMissingAPIURL           = "config.missing_api_url"
	configCodeMissingUserAgent        = "config.missing_user_agent"
	configCodeInvalidProviderTimeout  = "config.invalid_provider_timeout"
	configCodeInvalidStoreDriver      = "config.invalid_store_driver"
	configCodeInvalidLogLevel         = "config.invalid_log_level"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeStoreInit               = "config.store_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig validates viper settings into an authkit.ServerConfig.
func LoadServerConfig() (authkit.ServerConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	tokenTTL := viper.GetDuration("token_ttl")
	if tokenTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidTokenTTL, "token_ttl must be greater than zero")
	}

	required := []struct {
		key  string
		code string
	}{
		{key: "client_id", code: configCodeMissingClientID},
		{key: "client_secret", code: configCodeMissingClientSecret},
		{key: "tiendanube_auth_url", code: configCodeMissingAuthURL},
		{key: "tiendanube_api_url", code: configCodeMissingAPIURL},
		{key: "user_agent", code: configCodeMissingUserAgent},
	}
	for _, setting := range required {
		if strings.TrimSpace(viper.GetString(setting.key)) == "" {
			return authkit.ServerConfig{}, configError(setting.code, setting.key+" must be provided")
		}
	}

	providerTimeout := viper.GetDuration("provider_timeout")
	if providerTimeout <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidProviderTimeout, "provider_timeout must be greater than zero")
	}

	return authkit.ServerConfig{
		JWTSigningKey: []byte(jwtSigningKey),
		JWTIssuer:     viper.GetString("jwt_issuer"),
		TokenTTL:      tokenTTL,
		Provider: authkit.ProviderConfig{
			ClientID:     viper.GetString("client_id"),
			ClientSecret: viper.GetString("client_secret"),
			AuthURL:      strings.TrimSpace(viper.GetString("tiendanube_auth_url")),
			APIURL:       strings.TrimRight(strings.TrimSpace(viper.GetString("tiendanube_api_url")), "/"),
			UserAgent:    viper.GetString("user_agent"),
			Timeout:      providerTimeout,
		},
	}, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	parsedLevel, parseErr := zapcore.ParseLevel(level)
	if parseErr != nil {
		return nil, configError(configCodeInvalidLogLevel, parseErr.Error())
	}
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(parsedLevel)
	return loggerConfig.Build()
}

func runServer(command *cobra.Command, arguments []string) error {
	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	logger, loggerErr := buildLogger(viper.GetString("log_level"))
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	storeDriver := strings.ToLower(strings.TrimSpace(viper.GetString("store_driver")))
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	if storeDriver == "" {
		storeDriver = storeDriverGORM
	}
	if storeDriver != storeDriverGORM && storeDriver != storeDriverPGX {
		return configError(configCodeInvalidStoreDriver, fmt.Sprintf("store_driver %q must be gorm or pgx", storeDriver))
	}

	credentialStore, closeStore, storeErr := buildCredentialStore(commandContext, logger, storeDriver, databaseURL)
	if storeErr != nil {
		return fmt.Errorf("%s: %w", configCodeStoreInit, storeErr)
	}
	defer closeStore()

	tokenIssuer, issuerErr := authkit.NewTokenIssuer(serverConfig, authkit.NewSystemClock())
	if issuerErr != nil {
		return issuerErr
	}

	metricsRecorder := authkit.NewCounterMetrics()
	service, serviceErr := authkit.NewService(authkit.ServiceDependencies{
		Users:    credentialStore,
		Accounts: credentialStore,
		Hasher:   authkit.NewBcryptHasher(authkit.DefaultBcryptCost),
		Tokens:   tokenIssuer,
		Provider: authkit.NewTiendanubeClient(serverConfig.Provider, nil),
		Logger:   logger,
		Metrics:  metricsRecorder,
	})
	if serviceErr != nil {
		return serviceErr
	}

	sessionMiddleware, sessionErr := authkit.RequireSession(serverConfig)
	if sessionErr != nil {
		return sessionErr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authkit.MountAuthRoutes(router, service)

	protected := router.Group("/users")
	protected.Use(sessionMiddleware)
	protected.GET("/me", web.HandleWhoAmI(logger, service))
	protected.PATCH("", web.HandleEditUser(logger, service))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stopSignals)

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveUntilStopped(logger, server, stopSignals, shutdownGracePeriod); err != nil {
		return err
	}
	logger.Info("server stopped", zap.Any("metrics", metricsRecorder.Snapshot()))
	return nil
}

// serveUntilStopped serves until serveHTTP returns. A value on stop triggers a graceful
// shutdown, and the call returns only after in-flight requests drain or gracePeriod expires.
func serveUntilStopped(logger *zap.Logger, server *http.Server, stop <-chan os.Signal, gracePeriod time.Duration) error {
	serveReturned := make(chan struct{})
	shutdownComplete := make(chan struct{})

	go func() {
		defer close(shutdownComplete)
		select {
		case <-stop:
		case <-serveReturned:
			return
		}
		graceCtx, graceCancel := context.WithTimeout(context.Background(), gracePeriod)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	serveErr := serveHTTP(server)
	close(serveReturned)
	<-shutdownComplete

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", serveErr)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
