package web

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/storelink/internal/authkit"
	"go.uber.org/zap"
)

// ProfileService reads and edits the profile behind a bearer token subject.
type ProfileService interface {
	Profile(ctx context.Context, subjectID string, externalUserID int64) (any, error)
	EditUser(ctx context.Context, subjectID string, externalUserID int64, edit authkit.UserEdit) (authkit.PublicUser, error)
}

type editUserRequest struct {
	Email     *string `json:"email" binding:"omitempty,email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

// HandleWhoAmI resolves the authenticated subject's public profile.
func HandleWhoAmI(logger *zap.Logger, profiles ProfileService) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profiles == nil {
		panic("profile service is required")
	}

	return func(contextGin *gin.Context) {
		claims, ok := authkit.SessionClaims(contextGin)
		if !ok {
			logger.Warn("missing auth claims on context",
				zap.String("code", "users.me.missing_claims"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		profile, err := profiles.Profile(contextGin.Request.Context(), claims.SubjectID(), claims.ExternalUserID)
		if err != nil {
			if authkit.StatusFor(err) == http.StatusForbidden {
				logger.Warn("token subject missing",
					zap.String("code", "users.me.subject_missing"),
					zap.String("subject", claims.SubjectID()))
				contextGin.AbortWithStatus(http.StatusUnauthorized)
				return
			}
			logger.Error("profile lookup error",
				zap.String("code", "users.me.profile_error"),
				zap.String("subject", claims.SubjectID()),
				zap.Error(err))
			authkit.WriteError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, profile)
	}
}

// HandleEditUser applies a partial profile edit for a local user.
func HandleEditUser(logger *zap.Logger, profiles ProfileService) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profiles == nil {
		panic("profile service is required")
	}

	return func(contextGin *gin.Context) {
		claims, ok := authkit.SessionClaims(contextGin)
		if !ok {
			logger.Warn("missing auth claims on context",
				zap.String("code", "users.edit.missing_claims"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		var inbound editUserRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   authkit.ErrValidationFailed.Error(),
				"message": err.Error(),
			})
			return
		}

		updated, err := profiles.EditUser(contextGin.Request.Context(), claims.SubjectID(), claims.ExternalUserID, authkit.UserEdit{
			Email:     inbound.Email,
			FirstName: inbound.FirstName,
			LastName:  inbound.LastName,
		})
		if err != nil {
			logger.Warn("user edit rejected",
				zap.String("code", "users.edit.rejected"),
				zap.String("subject", claims.SubjectID()),
				zap.Error(err))
			authkit.WriteError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, updated)
	}
}
