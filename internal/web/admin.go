package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tkaratal/joinkit/internal/joinkit"
	"github.com/tkaratal/joinkit/pkg/operatorauth"
)

// AdminDeps wires the operator-facing admin endpoints.
type AdminDeps struct {
	Tracker   *joinkit.RunTracker
	Store     joinkit.CredentialStore
	Portal    *joinkit.PortalStore
	Validator *operatorauth.Validator
	Logger    *zap.Logger
}

// MountAdminRoutes registers the /admin group behind operator authentication:
// bulk-run start/status/cancel, credential-store reset, and portal updates.
func MountAdminRoutes(router gin.IRouter, deps AdminDeps) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	adminGroup := router.Group("/admin")
	adminGroup.Use(deps.Validator.GinMiddleware(operatorauth.DefaultContextKey))

	adminGroup.POST("/runs", func(contextGin *gin.Context) {
		var inbound struct {
			CommunityID string   `json:"community_id"`
			UserIDs     []string `json:"user_ids"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || inbound.CommunityID == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}

		userIDs := inbound.UserIDs
		if len(userIDs) == 0 {
			records, listErr := deps.Store.List(contextGin)
			if listErr != nil {
				logger.Error("credential list failed",
					zap.String("code", "admin.runs.list_failed"),
					zap.Error(listErr))
				contextGin.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			for _, record := range records {
				userIDs = append(userIDs, record.UserID)
			}
		}
		if len(userIDs) == 0 {
			contextGin.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "no_verified_users"})
			return
		}

		runID, startErr := deps.Tracker.Start(inbound.CommunityID, userIDs)
		if startErr != nil {
			if errors.Is(startErr, joinkit.ErrRunInProgress) {
				contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "run_in_progress"})
				return
			}
			logger.Error("bulk run start failed",
				zap.String("code", "admin.runs.start_failed"),
				zap.Error(startErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		logger.Info("bulk run started",
			zap.String("code", "admin.runs.started"),
			zap.String("run_id", runID),
			zap.String("community_id", inbound.CommunityID),
			zap.Int("user_count", len(userIDs)),
			zap.String("operator_id", operatorID(contextGin)))
		contextGin.JSON(http.StatusAccepted, gin.H{"run_id": runID})
	})

	adminGroup.GET("/runs/latest", func(contextGin *gin.Context) {
		status, found := deps.Tracker.Latest()
		if !found {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no_runs"})
			return
		}
		contextGin.JSON(http.StatusOK, status)
	})

	adminGroup.DELETE("/runs/latest", func(contextGin *gin.Context) {
		if !deps.Tracker.Cancel() {
			contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no_active_run"})
			return
		}
		logger.Info("bulk run cancellation requested",
			zap.String("code", "admin.runs.cancel"),
			zap.String("operator_id", operatorID(contextGin)))
		contextGin.Status(http.StatusNoContent)
	})

	adminGroup.DELETE("/credentials", func(contextGin *gin.Context) {
		if clearErr := deps.Store.Clear(contextGin); clearErr != nil {
			logger.Error("credential store reset failed",
				zap.String("code", "admin.credentials.reset_failed"),
				zap.Error(clearErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		logger.Info("credential store reset",
			zap.String("code", "admin.credentials.reset"),
			zap.String("operator_id", operatorID(contextGin)))
		contextGin.Status(http.StatusNoContent)
	})

	adminGroup.PUT("/portal", func(contextGin *gin.Context) {
		var inbound joinkit.PortalConfig
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		if updateErr := deps.Portal.Update(inbound); updateErr != nil {
			if errors.Is(updateErr, joinkit.ErrPortalEmptyDescription) {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "empty_description"})
				return
			}
			logger.Error("portal update failed",
				zap.String("code", "admin.portal.update_failed"),
				zap.Error(updateErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.Status(http.StatusNoContent)
	})
}

func operatorID(contextGin *gin.Context) string {
	claimsValue, found := contextGin.Get(operatorauth.DefaultContextKey)
	if !found {
		return ""
	}
	claims, ok := claimsValue.(*operatorauth.Claims)
	if !ok {
		return ""
	}
	return claims.GetOperatorID()
}
