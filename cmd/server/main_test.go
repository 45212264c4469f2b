package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/storelink/internal/authkit"
	"go.uber.org/zap"
)

func TestZapLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, err := zap.NewProduction()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	router := gin.New()
	router.Use(zapLoggerMiddleware(logger))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestRunServerMissingConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	err := runServer(&cobra.Command{}, nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}

	expectedMessage := "config.uninitialized_server_config: server configuration not prepared; PreRunE must execute before RunE"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
}

func TestLoadServerConfigValidation(t *testing.T) {
	testCases := []struct {
		name            string
		override        map[string]any
		expectedMessage string
	}{
		{
			name:            "missing signing key",
			override:        map[string]any{"jwt_signing_key": ""},
			expectedMessage: "config.missing_jwt_signing_key: jwt_signing_key must be provided",
		},
		{
			name:            "non-positive token ttl",
			override:        map[string]any{"token_ttl": 0},
			expectedMessage: "config.invalid_token_ttl: token_ttl must be greater than zero",
		},
		{
			name:            "missing client id",
			override:        map[string]any{"client_id": ""},
			expectedMessage: "config.missing_client_id: client_id must be provided",
		},
		{
			name:            "missing client secret",
			override:        map[string]any{"client_secret": ""},
			expectedMessage: "config.missing_client_secret: client_secret must be provided",
		},
		{
			name:            "missing auth url",
			override:        map[string]any{"tiendanube_auth_url": " "},
			expectedMessage: "config.missing_auth_url: tiendanube_auth_url must be provided",
		},
		{
			name:            "missing api url",
			override:        map[string]any{"tiendanube_api_url": ""},
			expectedMessage: "config.missing_api_url: tiendanube_api_url must be provided",
		},
		{
			name:            "missing user agent",
			override:        map[string]any{"user_agent": ""},
			expectedMessage: "config.missing_user_agent: user_agent must be provided",
		},
		{
			name:            "non-positive provider timeout",
			override:        map[string]any{"provider_timeout": -time.Second},
			expectedMessage: "config.invalid_provider_timeout: provider_timeout must be greater than zero",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			setValidConfig()
			for key, value := range testCase.override {
				viper.Set(key, value)
			}

			_, err := LoadServerConfig()
			if err == nil {
				t.Fatalf("expected configuration error")
			}
			if err.Error() != testCase.expectedMessage {
				t.Fatalf("expected error %q, got %q", testCase.expectedMessage, err.Error())
			}
		})
	}
}

func TestLoadServerConfigBuildsProviderConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	setValidConfig()
	viper.Set("tiendanube_api_url", "https://api.example.test/v1/")

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	if string(config.JWTSigningKey) != "signing-secret" || config.TokenTTL != time.Hour {
		t.Fatalf("unexpected token configuration: %+v", config)
	}
	if config.Provider.APIURL != "https://api.example.test/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", config.Provider.APIURL)
	}
	if config.Provider.ClientID != "client" || config.Provider.UserAgent != "storelink-test (ops@example.test)" {
		t.Fatalf("unexpected provider configuration: %+v", config.Provider)
	}
}

func TestRunServerSuccessWithSQLite(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	var servedHandler http.Handler
	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		if server.Handler == nil {
			t.Fatalf("expected handler to be configured")
		}
		servedHandler = server.Handler
		return http.ErrServerClosed
	})
	defer restoreServe()

	setValidConfig()
	viper.Set("listen_addr", ":0")
	viper.Set("database_url", "sqlite://"+filepath.Join(t.TempDir(), "server.db"))
	viper.Set("enable_cors", true)
	viper.Set("cors_allowed_origins", []string{"http://localhost:3000"})

	if err := runServer(preparedCommand(t), nil); err != nil {
		t.Fatalf("expected runServer to succeed, got %v", err)
	}

	recorder := httptest.NewRecorder()
	servedHandler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"ok"`) {
		t.Fatalf("expected healthz ok, got %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = httptest.NewRecorder()
	servedHandler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/users/me", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", recorder.Code)
	}
}

func TestRunServerInMemoryStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return http.ErrServerClosed
	})
	defer restoreServe()

	setValidConfig()
	viper.Set("listen_addr", ":0")

	if err := runServer(preparedCommand(t), nil); err != nil {
		t.Fatalf("expected runServer to succeed with in-memory store, got %v", err)
	}
}

func TestRunServerRejectsUnknownStoreDriver(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setValidConfig()
	viper.Set("database_url", "postgres://localhost/storelink")
	viper.Set("store_driver", "mongo")

	err := runServer(preparedCommand(t), nil)
	if err == nil || !strings.HasPrefix(err.Error(), "config.invalid_store_driver") {
		t.Fatalf("expected invalid store driver error, got %v", err)
	}
}

func TestRunServerStoreInitFailure(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	restoreStore := withCredentialStoreBuilderStub(func(ctx context.Context, logger *zap.Logger, storeDriver string, databaseURL string) (authkit.CredentialStore, func(), error) {
		if storeDriver != storeDriverPGX {
			t.Fatalf("expected pgx driver, got %q", storeDriver)
		}
		return nil, nil, errors.New("dial refused")
	})
	defer restoreStore()

	setValidConfig()
	viper.Set("database_url", "postgres://localhost/storelink")
	viper.Set("store_driver", "PGX")

	err := runServer(preparedCommand(t), nil)
	if err == nil || err.Error() != "config.store_init: dial refused" {
		t.Fatalf("expected store init error, got %v", err)
	}
}

func TestRunServerRejectsInvalidLogLevel(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setValidConfig()
	viper.Set("log_level", "chatty")

	err := runServer(preparedCommand(t), nil)
	if err == nil || !strings.HasPrefix(err.Error(), "config.invalid_log_level") {
		t.Fatalf("expected invalid log level error, got %v", err)
	}
}

func TestServeUntilStoppedDrainsInFlightRequests(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}

	requestStarted := make(chan struct{})
	var handlerFinished atomic.Bool
	server := &http.Server{Handler: http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		close(requestStarted)
		time.Sleep(200 * time.Millisecond)
		handlerFinished.Store(true)
		_, _ = writer.Write([]byte("done"))
	})}

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return server.Serve(listener)
	})
	defer restoreServe()

	type clientResult struct {
		body string
		err  error
	}
	clientDone := make(chan clientResult, 1)
	go func() {
		response, requestErr := http.Get("http://" + listener.Addr().String() + "/slow")
		if requestErr != nil {
			clientDone <- clientResult{err: requestErr}
			return
		}
		defer func() { _ = response.Body.Close() }()
		body, readErr := io.ReadAll(response.Body)
		clientDone <- clientResult{body: string(body), err: readErr}
	}()

	stop := make(chan os.Signal, 1)
	go func() {
		<-requestStarted
		stop <- syscall.SIGTERM
	}()

	if err := serveUntilStopped(zap.NewNop(), server, stop, 5*time.Second); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if !handlerFinished.Load() {
		t.Fatalf("expected the in-flight request to finish before shutdown returned")
	}
	result := <-clientDone
	if result.err != nil || result.body != "done" {
		t.Fatalf("expected in-flight response, got %q (%v)", result.body, result.err)
	}
}

func TestServeUntilStoppedReportsListenError(t *testing.T) {
	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return errors.New("address already in use")
	})
	defer restoreServe()

	err := serveUntilStopped(zap.NewNop(), &http.Server{}, make(chan os.Signal), time.Second)
	if err == nil || err.Error() != "listen error: address already in use" {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestNewRootCommandHelp(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected help execution to succeed: %v", err)
	}
}

func setValidConfig() {
	viper.Set("jwt_signing_key", "signing-secret")
	viper.Set("token_ttl", time.Hour)
	viper.Set("client_id", "client")
	viper.Set("client_secret", "secret")
	viper.Set("tiendanube_auth_url", "https://auth.example.test/token")
	viper.Set("tiendanube_api_url", "https://api.example.test/v1")
	viper.Set("user_agent", "storelink-test (ops@example.test)")
	viper.Set("provider_timeout", 5*time.Second)
}

func preparedCommand(t *testing.T) *cobra.Command {
	t.Helper()
	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, config))
	return command
}

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	previous := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = previous
	}
}

func withCredentialStoreBuilderStub(stub func(ctx context.Context, logger *zap.Logger, storeDriver string, databaseURL string) (authkit.CredentialStore, func(), error)) func() {
	previous := buildCredentialStore
	buildCredentialStore = stub
	return func() {
		buildCredentialStore = previous
	}
}
