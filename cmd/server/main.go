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
	"go.uber.org/zap"

	"github.com/tkaratal/joinkit/internal/joinkit"
	"github.com/tkaratal/joinkit/internal/joinkitpg"
	"github.com/tkaratal/joinkit/internal/web"
	"github.com/tkaratal/joinkit/pkg/operatorauth"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "joinkit",
		Short:   "Verification service that exchanges authorization codes for reusable credentials and replays them for paced bulk community joins",
		PreRunE: prepareServiceConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("client_id", "", "OAuth client id at the identity broker")
	rootCmd.Flags().String("client_secret", "", "OAuth client secret at the identity broker")
	rootCmd.Flags().String("redirect_uri", "", "OAuth redirect URI pointing back at /callback")
	rootCmd.Flags().String("authorize_url", "", "Identity broker authorization endpoint")
	rootCmd.Flags().String("token_url", "", "Identity broker token endpoint")
	rootCmd.Flags().String("identity_url", "", "Identity broker identity lookup endpoint")
	rootCmd.Flags().StringSlice("scopes", []string{"identify", "communities.join"}, "OAuth scopes requested on exchange")
	rootCmd.Flags().String("api_base_url", "", "Membership API base URL")
	rootCmd.Flags().String("service_token", "", "Membership API service token")
	rootCmd.Flags().String("home_community_id", "", "Community joined right after verification; empty disables onboarding")
	rootCmd.Flags().String("verified_role_id", "", "Role granted after the home community join; empty disables it")
	rootCmd.Flags().String("database_url", "", "Credential store database URL (postgres:// or sqlite://; empty falls back to credential_file or memory)")
	rootCmd.Flags().Bool("postgres_native", false, "Use the native pgx pool store for postgres database URLs instead of GORM")
	rootCmd.Flags().String("credential_file", "", "Credential store JSON snapshot path (used when database_url is empty)")
	rootCmd.Flags().String("portal_file", "", "Portal config JSON snapshot path; empty keeps it in memory")
	rootCmd.Flags().Duration("refresh_margin", joinkit.DefaultRefreshMargin, "How long before expiry access tokens are refreshed")
	rootCmd.Flags().Duration("pacing_interval", joinkit.DefaultPacingInterval, "Mandatory wait after every remote write during a bulk run")
	rootCmd.Flags().String("operator_signing_key", "", "HS256 signing secret for operator tokens")
	rootCmd.Flags().String("operator_issuer", "joinkit", "Issuer claim on operator tokens")
	rootCmd.Flags().String("return_url", "", "Link offered on the verification result page")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")

	for _, flagName := range []string{
		"listen_addr", "client_id", "client_secret", "redirect_uri",
		"authorize_url", "token_url", "identity_url", "scopes",
		"api_base_url", "service_token", "home_community_id", "verified_role_id",
		"database_url", "postgres_native", "credential_file", "portal_file",
		"refresh_margin", "pacing_interval", "operator_signing_key", "operator_issuer",
		"return_url", "enable_cors", "cors_allowed_origins",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newOperatorTokenCommand())

	return rootCmd
}

const (
	configCodeMissingClientID       = "config.missing_client_id"
	configCodeMissingClientSecret   = "config.missing_client_secret"
	configCodeMissingRedirectURI    = "config.missing_redirect_uri"
	configCodeMissingTokenURL       = "config.missing_token_url"
	configCodeMissingIdentityURL    = "config.missing_identity_url"
	configCodeMissingAPIBaseURL     = "config.missing_api_base_url"
	configCodeMissingServiceToken   = "config.missing_service_token"
	configCodeMissingOperatorKey    = "config.missing_operator_signing_key"
	configCodeInvalidRefreshMargin  = "config.invalid_refresh_margin"
	configCodeInvalidPacingInterval = "config.invalid_pacing_interval"
	configCodeUninitializedConf     = "config.uninitialized_service_config"
)

type contextKey string

const serviceConfigContextKey contextKey = "serviceConfig"

func prepareServiceConfig(command *cobra.Command, arguments []string) error {
	serviceConfig, loadErr := LoadServiceConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serviceConfigContextKey, serviceConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServiceConfig reads and validates the broker, membership, and policy
// configuration from viper.
func LoadServiceConfig() (joinkit.ServiceConfig, error) {
	clientID := viper.GetString("client_id")
	if clientID == "" {
		return joinkit.ServiceConfig{}, configError(configCodeMissingClientID, "client_id must be provided")
	}
	clientSecret := viper.GetString("client_secret")
	if clientSecret == "" {
		return joinkit.ServiceConfig{}, configError(configCodeMissingClientSecret, "client_secret must be provided")
	}
	redirectURI := viper.GetString("redirect_uri")
	if redirectURI == "" {
		return joinkit.ServiceConfig{}, configError(configCodeMissingRedirectURI, "redirect_uri must be provided")
	}
	tokenURL := viper.GetString("token_url")
	if tokenURL == "" {
		return joinkit.ServiceConfig{}, configError(configCodeMissingTokenURL, "token_url must be provided")
	}
	identityURL := viper.GetString("identity_url")
	if identityURL == "" {
		return joinkit.ServiceConfig{}, configError(configCodeMissingIdentityURL, "identity_url must be provided")
	}
	apiBaseURL := viper.GetString("api_base_url")
	if apiBaseURL == "" {
		return joinkit.ServiceConfig{}, configError(configCodeMissingAPIBaseURL, "api_base_url must be provided")
	}
	serviceToken := viper.GetString("service_token")
	if serviceToken == "" {
		return joinkit.ServiceConfig{}, configError(configCodeMissingServiceToken, "service_token must be provided")
	}
	operatorSigningKey := viper.GetString("operator_signing_key")
	if operatorSigningKey == "" {
		return joinkit.ServiceConfig{}, configError(configCodeMissingOperatorKey, "operator_signing_key must be provided")
	}

	refreshMargin := joinkit.DefaultRefreshMargin
	if viper.IsSet("refresh_margin") {
		refreshMargin = viper.GetDuration("refresh_margin")
		if refreshMargin <= 0 {
			return joinkit.ServiceConfig{}, configError(configCodeInvalidRefreshMargin, "refresh_margin must be greater than zero")
		}
	}
	pacingInterval := joinkit.DefaultPacingInterval
	if viper.IsSet("pacing_interval") {
		pacingInterval = viper.GetDuration("pacing_interval")
		if pacingInterval <= 0 {
			return joinkit.ServiceConfig{}, configError(configCodeInvalidPacingInterval, "pacing_interval must be greater than zero")
		}
	}

	operatorIssuer := viper.GetString("operator_issuer")
	if operatorIssuer == "" {
		operatorIssuer = "joinkit"
	}

	return joinkit.ServiceConfig{
		ClientID:           clientID,
		ClientSecret:       clientSecret,
		RedirectURL:        redirectURI,
		AuthorizeURL:       viper.GetString("authorize_url"),
		TokenURL:           tokenURL,
		IdentityURL:        identityURL,
		Scopes:             viper.GetStringSlice("scopes"),
		APIBaseURL:         apiBaseURL,
		ServiceToken:       serviceToken,
		HomeCommunityID:    viper.GetString("home_community_id"),
		VerifiedRoleID:     viper.GetString("verified_role_id"),
		RefreshMargin:      refreshMargin,
		PacingInterval:     pacingInterval,
		OperatorSigningKey: []byte(operatorSigningKey),
		OperatorIssuer:     operatorIssuer,
	}, nil
}

func buildCredentialStore(ctx context.Context, logger *zap.Logger) (joinkit.CredentialStore, error) {
	databaseURL := viper.GetString("database_url")
	if databaseURL != "" {
		if viper.GetBool("postgres_native") && strings.HasPrefix(databaseURL, "postgres") {
			pool, poolErr := joinkitpg.BuildPool(ctx, databaseURL)
			if poolErr != nil {
				return nil, poolErr
			}
			if schemaErr := joinkitpg.EnsureSchema(ctx, pool); schemaErr != nil {
				return nil, schemaErr
			}
			logger.Info("using native postgres credential store")
			return joinkitpg.NewPostgresCredentialStore(pool), nil
		}
		persistentStore, storeErr := joinkit.NewDatabaseCredentialStore(ctx, databaseURL)
		if storeErr != nil {
			return nil, storeErr
		}
		logger.Info("using database credential store", zap.String("driver", persistentStore.Driver()))
		return persistentStore, nil
	}
	if credentialFile := viper.GetString("credential_file"); credentialFile != "" {
		fileStore, storeErr := joinkit.NewFileCredentialStore(credentialFile)
		if storeErr != nil {
			return nil, storeErr
		}
		logger.Info("using file credential store", zap.String("path", credentialFile))
		return fileStore, nil
	}
	logger.Info("using in-memory credential store")
	return joinkit.NewMemoryCredentialStore(), nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serviceConfigContextKey)
	}
	serviceConfig, ok := contextValue.(joinkit.ServiceConfig)
	if !ok {
		return configError(configCodeUninitializedConf, "service configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.PermissiveCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	credentialStore, storeErr := buildCredentialStore(context.Background(), logger)
	if storeErr != nil {
		return storeErr
	}

	portalStore, portalErr := joinkit.NewPortalStore(viper.GetString("portal_file"))
	if portalErr != nil {
		return portalErr
	}

	broker := joinkit.NewOAuthTokenBroker(joinkit.BrokerConfig{
		ClientID:     serviceConfig.ClientID,
		ClientSecret: serviceConfig.ClientSecret,
		AuthorizeURL: serviceConfig.AuthorizeURL,
		TokenURL:     serviceConfig.TokenURL,
		IdentityURL:  serviceConfig.IdentityURL,
		RedirectURL:  serviceConfig.RedirectURL,
		Scopes:       serviceConfig.Scopes,
	})

	membershipClient := joinkit.NewHTTPMembershipClient(joinkit.MembershipClientConfig{
		BaseURL:      serviceConfig.APIBaseURL,
		ServiceToken: serviceConfig.ServiceToken,
		Logger:       logger,
	})

	clock := joinkit.NewSystemClock()
	metricsRecorder := joinkit.NewCounterMetrics()
	refresher := joinkit.NewTokenRefresher(credentialStore, broker, clock, logger, serviceConfig.RefreshMargin)
	pacer := joinkit.NewFixedIntervalPacer(serviceConfig.PacingInterval)
	joiner := joinkit.NewBulkJoiner(refresher, membershipClient, pacer, logger, metricsRecorder)
	tracker := joinkit.NewRunTracker(joiner, clock, logger)

	operatorValidator, validatorErr := operatorauth.New(operatorauth.Config{
		SigningKey: serviceConfig.OperatorSigningKey,
		Issuer:     serviceConfig.OperatorIssuer,
	})
	if validatorErr != nil {
		return validatorErr
	}

	web.MountCallbackRoutes(router, web.CallbackDeps{
		Refresher:       refresher,
		Members:         membershipClient,
		Authorize:       broker,
		Portal:          portalStore,
		HomeCommunityID: serviceConfig.HomeCommunityID,
		VerifiedRoleID:  serviceConfig.VerifiedRoleID,
		ReturnURL:       viper.GetString("return_url"),
		Logger:          logger,
		Metrics:         metricsRecorder,
	})
	web.MountAdminRoutes(router, web.AdminDeps{
		Tracker:   tracker,
		Store:     credentialStore,
		Portal:    portalStore,
		Validator: operatorValidator,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func newOperatorTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "operator-token",
		Short: "Mint an operator bearer token for the admin API",
		RunE:  runOperatorToken,
	}
	tokenCmd.Flags().String("operator_id", "", "Operator identifier embedded in the token")
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	_ = viper.BindPFlag("operator_id", tokenCmd.Flags().Lookup("operator_id"))
	_ = viper.BindPFlag("operator_token_ttl", tokenCmd.Flags().Lookup("ttl"))
	return tokenCmd
}

func runOperatorToken(command *cobra.Command, arguments []string) error {
	signingKey := viper.GetString("operator_signing_key")
	if signingKey == "" {
		return configError(configCodeMissingOperatorKey, "operator_signing_key must be provided")
	}
	operatorID := viper.GetString("operator_id")
	if operatorID == "" {
		return configError("config.missing_operator_id", "operator_id must be provided")
	}
	issuer := viper.GetString("operator_issuer")
	if issuer == "" {
		issuer = "joinkit"
	}
	ttl := viper.GetDuration("operator_token_ttl")
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	token, expiresAt, mintErr := operatorauth.Mint(operatorID, issuer, []byte(signingKey), ttl, nil)
	if mintErr != nil {
		return mintErr
	}
	command.Printf("%s\n", token)
	command.Printf("expires: %s\n", expiresAt.Format(time.RFC3339))
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
