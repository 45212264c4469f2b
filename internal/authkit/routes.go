package authkit

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Authenticator is the behaviour MountAuthRoutes exposes over HTTP.
type Authenticator interface {
	Signup(ctx context.Context, email string, password string) (AccessToken, error)
	Signin(ctx context.Context, email string, password string) (AccessToken, error)
	Install(ctx context.Context, code string) (AccessToken, error)
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type installRequest struct {
	Code string `json:"code"`
}

// MountAuthRoutes registers /auth/signup, /auth/signin, and /auth/tiendanube/install.
func MountAuthRoutes(router gin.IRouter, authenticator Authenticator) {
	router.POST("/auth/signup", func(contextGin *gin.Context) {
		var inbound credentialsRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			WriteError(contextGin, newError(ErrValidationFailed, validationMessage(err), err))
			return
		}
		token, err := authenticator.Signup(contextGin.Request.Context(), inbound.Email, inbound.Password)
		if err != nil {
			WriteError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusCreated, token)
	})

	router.POST("/auth/signin", func(contextGin *gin.Context) {
		var inbound credentialsRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			WriteError(contextGin, newError(ErrValidationFailed, validationMessage(err), err))
			return
		}
		token, err := authenticator.Signin(contextGin.Request.Context(), inbound.Email, inbound.Password)
		if err != nil {
			WriteError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, token)
	})

	install := func(contextGin *gin.Context) {
		code := strings.TrimSpace(contextGin.Query("code"))
		if code == "" && contextGin.Request.Method == http.MethodPost && contextGin.Request.ContentLength != 0 {
			var inbound installRequest
			if err := contextGin.ShouldBindJSON(&inbound); err != nil {
				WriteError(contextGin, newError(ErrInvalidRequest, "invalid request body", err))
				return
			}
			code = strings.TrimSpace(inbound.Code)
		}
		token, err := authenticator.Install(contextGin.Request.Context(), code)
		if err != nil {
			WriteError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, token)
	}
	router.POST("/auth/tiendanube/install", install)
	router.GET("/auth/tiendanube/install", install)
}

// StatusFor maps an auth error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusForbidden
	case errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrDuplicateCredentials),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrUpdateFailed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError aborts the request with the status, code, and public message for err.
func WriteError(contextGin *gin.Context, err error) {
	contextGin.AbortWithStatusJSON(StatusFor(err), gin.H{
		"error":   ErrorCode(err),
		"message": PublicMessage(err),
	})
}

func validationMessage(err error) string {
	message := err.Error()
	if message == "EOF" {
		return "request body is required"
	}
	return message
}
