package web

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tkaratal/joinkit/internal/joinkit"
	webassets "github.com/tkaratal/joinkit/web"
)

// AuthorizeURLBuilder builds the authorization URL users follow to verify.
type AuthorizeURLBuilder interface {
	AuthCodeURL(state string) string
}

// CallbackDeps wires the verification callback and portal endpoints.
type CallbackDeps struct {
	Refresher       *joinkit.TokenRefresher
	Members         joinkit.MembershipClient
	Authorize       AuthorizeURLBuilder
	Portal          *joinkit.PortalStore
	HomeCommunityID string
	VerifiedRoleID  string
	ReturnURL       string
	Logger          *zap.Logger
	Metrics         joinkit.MetricsRecorder
}

type resultPageData struct {
	Title       string
	Message     string
	Icon        string
	AccentColor string
	ReturnURL   template.URL
}

var resultPage = template.Must(template.ParseFS(webassets.FS, "result.html"))

// MountCallbackRoutes registers GET /callback and GET /portal.
func MountCallbackRoutes(router gin.IRouter, deps CallbackDeps) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = joinkit.NewCounterMetrics()
	}

	router.GET("/callback", func(contextGin *gin.Context) {
		code := contextGin.Query("code")
		if code == "" {
			logger.Warn("callback without authorization code",
				zap.String("code", "callback.missing_code"))
			metrics.Increment("callback.missing_code")
			renderResultPage(contextGin, deps, http.StatusBadRequest, false,
				"The authorization code is missing. Start the verification again from the portal.")
			return
		}

		record, exchangeErr := deps.Refresher.ExchangeAuthorizationCode(contextGin, code)
		if exchangeErr != nil {
			logCode := "callback.exchange_failed"
			if errors.Is(exchangeErr, joinkit.ErrIdentityFetchFailed) {
				logCode = "callback.identity_fetch_failed"
			}
			logger.Warn("verification exchange failed",
				zap.String("code", logCode),
				zap.Error(exchangeErr))
			metrics.Increment("callback.exchange_failed")
			renderResultPage(contextGin, deps, http.StatusBadGateway, false,
				"Something went wrong while verifying your account. Try again.")
			return
		}

		onboardVerifiedUser(contextGin, deps, logger, record)

		metrics.Increment("callback.verified")
		logger.Info("user verified",
			zap.String("code", "callback.verified"),
			zap.String("user_id", record.UserID))
		renderResultPage(contextGin, deps, http.StatusOK, true,
			"You are verified and your role is on its way. You can close this window now.")
	})

	router.GET("/portal", func(contextGin *gin.Context) {
		portalConfig := deps.Portal.Get()
		contextGin.JSON(http.StatusOK, gin.H{
			"authorize_url": deps.Authorize.AuthCodeURL(""),
			"description":   portalConfig.Description,
			"image_url":     portalConfig.ImageURL,
		})
	})
}

// onboardVerifiedUser joins the freshly verified user to the home community
// and grants the verified role. Both steps are best effort: a failure is
// logged but never blocks the success page the user is waiting on.
func onboardVerifiedUser(contextGin *gin.Context, deps CallbackDeps, logger *zap.Logger, record joinkit.CredentialRecord) {
	if deps.HomeCommunityID == "" {
		return
	}
	if joinErr := deps.Members.AddMember(contextGin, deps.HomeCommunityID, record.UserID, record.AccessToken); joinErr != nil {
		logger.Warn("home community join failed",
			zap.String("code", "callback.home_join_failed"),
			zap.String("user_id", record.UserID),
			zap.Error(joinErr))
	}
	if deps.VerifiedRoleID == "" {
		return
	}
	if _, fetchErr := deps.Members.FetchMember(contextGin, deps.HomeCommunityID, record.UserID); fetchErr != nil {
		logger.Warn("member lookup after join failed",
			zap.String("code", "callback.member_fetch_failed"),
			zap.String("user_id", record.UserID),
			zap.Error(fetchErr))
		return
	}
	if roleErr := deps.Members.AddRole(contextGin, deps.HomeCommunityID, record.UserID, deps.VerifiedRoleID); roleErr != nil {
		logger.Warn("verified role grant failed",
			zap.String("code", "callback.role_grant_failed"),
			zap.String("user_id", record.UserID),
			zap.Error(roleErr))
	}
}

func renderResultPage(contextGin *gin.Context, deps CallbackDeps, statusCode int, success bool, message string) {
	data := resultPageData{
		Title:       "Verification failed",
		Message:     message,
		Icon:        "✖",
		AccentColor: "#ff0000",
		ReturnURL:   template.URL(deps.ReturnURL),
	}
	if success {
		data.Title = "Verified successfully"
		data.Icon = "✔"
		data.AccentColor = "#00ff00"
	}
	contextGin.Status(statusCode)
	contextGin.Header("Content-Type", "text/html; charset=utf-8")
	if executeErr := resultPage.Execute(contextGin.Writer, data); executeErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
	}
}
