package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/storelink/pkg/sessionvalidator"
)

type stubAuthenticator struct {
	signup  func(ctx context.Context, email string, password string) (AccessToken, error)
	signin  func(ctx context.Context, email string, password string) (AccessToken, error)
	install func(ctx context.Context, code string) (AccessToken, error)
}

func (stub stubAuthenticator) Signup(ctx context.Context, email string, password string) (AccessToken, error) {
	return stub.signup(ctx, email, password)
}

func (stub stubAuthenticator) Signin(ctx context.Context, email string, password string) (AccessToken, error) {
	return stub.signin(ctx, email, password)
}

func (stub stubAuthenticator) Install(ctx context.Context, code string) (AccessToken, error) {
	return stub.install(ctx, code)
}

func newRoutesRouter(authenticator Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	MountAuthRoutes(router, authenticator)
	return router
}

func performJSON(router http.Handler, method string, target string, body string) *httptest.ResponseRecorder {
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, nil)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	payload := map[string]any{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestSignupRouteStatuses(t *testing.T) {
	testCases := []struct {
		name           string
		body           string
		result         error
		expectedStatus int
		expectedCode   string
	}{
		{name: "created", body: `{"email":"a@x.com","password":"123"}`, expectedStatus: http.StatusCreated},
		{name: "missing body", body: "", expectedStatus: http.StatusBadRequest, expectedCode: "auth.validation_failed"},
		{name: "invalid email", body: `{"email":"not-an-email","password":"123"}`, expectedStatus: http.StatusBadRequest, expectedCode: "auth.validation_failed"},
		{name: "missing password", body: `{"email":"a@x.com"}`, expectedStatus: http.StatusBadRequest, expectedCode: "auth.validation_failed"},
		{
			name:           "duplicate",
			body:           `{"email":"a@x.com","password":"123"}`,
			result:         newError(ErrDuplicateCredentials, messageCredentialsTaken, ErrUniqueViolation),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "auth.duplicate_credentials",
		},
		{
			name:           "store failure",
			body:           `{"email":"a@x.com","password":"123"}`,
			result:         errors.New("auth.signup.create: database is locked"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "auth.internal",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			called := false
			router := newRoutesRouter(stubAuthenticator{
				signup: func(ctx context.Context, email string, password string) (AccessToken, error) {
					called = true
					if testCase.result != nil {
						return AccessToken{}, testCase.result
					}
					return AccessToken{AccessToken: "signed"}, nil
				},
			})

			recorder := performJSON(router, http.MethodPost, "/auth/signup", testCase.body)
			if recorder.Code != testCase.expectedStatus {
				t.Fatalf("expected %d, got %d (%s)", testCase.expectedStatus, recorder.Code, recorder.Body.String())
			}
			payload := decodeBody(t, recorder)
			if testCase.expectedCode == "" {
				if payload["access_token"] != "signed" {
					t.Fatalf("expected access_token, got %v", payload)
				}
				return
			}
			if payload["error"] != testCase.expectedCode {
				t.Fatalf("expected error code %q, got %v", testCase.expectedCode, payload)
			}
			if testCase.expectedStatus == http.StatusBadRequest && testCase.result == nil && called {
				t.Fatalf("expected validation to reject before the service")
			}
			if message, _ := payload["message"].(string); strings.Contains(message, "database is locked") {
				t.Fatalf("internal error leaked to client: %q", message)
			}
		})
	}
}

func TestSigninRouteMapsInvalidCredentialsToForbidden(t *testing.T) {
	router := newRoutesRouter(stubAuthenticator{
		signin: func(ctx context.Context, email string, password string) (AccessToken, error) {
			if password == "123" {
				return AccessToken{AccessToken: "signed"}, nil
			}
			return AccessToken{}, newError(ErrInvalidCredentials, messageCredentialsIncorrect, nil)
		},
	})

	recorder := performJSON(router, http.MethodPost, "/auth/signin", `{"email":"a@x.com","password":"123"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	recorder = performJSON(router, http.MethodPost, "/auth/signin", `{"email":"a@x.com","password":"wrong"}`)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["error"] != "auth.invalid_credentials" || payload["message"] != "Credentials incorrect" {
		t.Fatalf("unexpected body %v", payload)
	}
}

func TestInstallRouteCodeSources(t *testing.T) {
	testCases := []struct {
		name         string
		method       string
		target       string
		body         string
		expectedCode string
	}{
		{name: "query on get", method: http.MethodGet, target: "/auth/tiendanube/install?code=from-query"},
		{name: "query on post", method: http.MethodPost, target: "/auth/tiendanube/install?code=from-query"},
		{name: "json body", method: http.MethodPost, target: "/auth/tiendanube/install", body: `{"code":"from-body"}`, expectedCode: "from-body"},
		{name: "query wins", method: http.MethodPost, target: "/auth/tiendanube/install?code=from-query", body: `{"code":"from-body"}`},
		{name: "absent", method: http.MethodPost, target: "/auth/tiendanube/install", expectedCode: ""},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			expected := testCase.expectedCode
			if strings.Contains(testCase.target, "code=") {
				expected = "from-query"
			}
			var received string
			router := newRoutesRouter(stubAuthenticator{
				install: func(ctx context.Context, code string) (AccessToken, error) {
					received = code
					if code == "" {
						return AccessToken{}, newError(ErrInvalidRequest, messageCodeNotFound, nil)
					}
					return AccessToken{AccessToken: "signed"}, nil
				},
			})

			recorder := performJSON(router, testCase.method, testCase.target, testCase.body)
			if received != expected {
				t.Fatalf("expected code %q, got %q", expected, received)
			}
			if expected == "" {
				if recorder.Code != http.StatusBadRequest || decodeBody(t, recorder)["message"] != "Code not found" {
					t.Fatalf("expected 400 Code not found, got %d %s", recorder.Code, recorder.Body.String())
				}
				return
			}
			if recorder.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", recorder.Code)
			}
		})
	}
}

func TestInstallRouteRejectsMalformedBody(t *testing.T) {
	router := newRoutesRouter(stubAuthenticator{
		install: func(ctx context.Context, code string) (AccessToken, error) {
			t.Fatalf("install must not run for a malformed body")
			return AccessToken{}, nil
		},
	})

	recorder := performJSON(router, http.MethodPost, "/auth/tiendanube/install", `{"code":`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if decodeBody(t, recorder)["error"] != "auth.invalid_request" {
		t.Fatalf("expected invalid request code, got %s", recorder.Body.String())
	}
}

func TestRequireSessionInjectsClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	configuration := ServerConfig{
		JWTSigningKey: []byte("signing-key"),
		JWTIssuer:     "storelink-test",
		TokenTTL:      time.Hour,
	}
	issuer, err := NewTokenIssuer(configuration, nil)
	if err != nil {
		t.Fatalf("issuer error: %v", err)
	}
	middleware, err := RequireSession(configuration)
	if err != nil {
		t.Fatalf("middleware error: %v", err)
	}

	router := gin.New()
	router.GET("/whoami", middleware, func(contextGin *gin.Context) {
		claims, ok := SessionClaims(contextGin)
		if !ok {
			contextGin.Status(http.StatusTeapot)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"sub": claims.SubjectID(), "userId": claims.ExternalUserID})
	})

	token, err := issuer.SignToken("account-1", "store@x.com", map[string]any{ClaimExternalUserID: int64(31)})
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	request.Header.Set("Authorization", "Bearer "+token.AccessToken)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["sub"] != "account-1" || payload["userId"] != float64(31) {
		t.Fatalf("unexpected claims payload %v", payload)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
}

func TestSessionClaimsRejectsForeignValues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	contextGin, _ := gin.CreateTestContext(httptest.NewRecorder())

	if _, ok := SessionClaims(contextGin); ok {
		t.Fatalf("expected no claims on empty context")
	}
	contextGin.Set(ClaimsContextKey, "not-claims")
	if _, ok := SessionClaims(contextGin); ok {
		t.Fatalf("expected foreign value to be rejected")
	}
	contextGin.Set(ClaimsContextKey, &sessionvalidator.Claims{})
	if _, ok := SessionClaims(contextGin); ok {
		t.Fatalf("expected claims without subject to be rejected")
	}
}
