package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/credstack/credstack/internal/cache"
	"github.com/credstack/credstack/internal/config"
	"github.com/credstack/credstack/internal/handlers"
	"github.com/credstack/credstack/internal/middleware"
	"github.com/credstack/credstack/internal/repository"
	"github.com/credstack/credstack/internal/security"
	"github.com/credstack/credstack/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	dynamoClient, err := initDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cacheLayer := cache.New(redisClient, logger)

	// Initialize repositories
	userRepo := repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	verificationRepo := repository.NewVerificationTokenRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	resetRepo := repository.NewResetTokenRepository(dynamoClient, cfg.DynamoDB.TableName, logger)

	// Initialize services
	signer, err := security.NewSigner([]byte(cfg.JWT.SecretKey))
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token signer")
	}
	codec := security.NewCodec(signer)

	notifier := service.NewLogNotifier(logger)
	tokenService := service.NewTokenService(codec, cacheLayer, userRepo, &cfg.JWT, logger)
	otpService := service.NewOTPService(verificationRepo, userRepo, cacheLayer, notifier, &cfg.OTP, logger)
	resetService := service.NewResetService(resetRepo, userRepo, cacheLayer, notifier, &cfg.Reset, logger)

	authHandlers := handlers.NewAuthHandlers(
		otpService,
		tokenService,
		resetService,
		userRepo,
		logger,
	)

	authMiddleware := middleware.NewAuthMiddleware(tokenService, logger)
	router := setupRouter(authHandlers, authMiddleware, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	purgeCtx, stopPurge := context.WithCancel(context.Background())
	go runPurgeSweep(purgeCtx, cfg.Purge.Interval, otpService, resetService, logger)

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopPurge()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// runPurgeSweep periodically removes expired verification and reset token
// rows; DynamoDB TTL is the backstop but lags by hours.
func runPurgeSweep(ctx context.Context, interval time.Duration, otpService *service.OTPService, resetService *service.ResetService, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			codes, err := otpService.PurgeExpired(ctx)
			if err != nil {
				logger.WithError(err).Warn("Failed to purge expired verification tokens")
			}
			resets, err := resetService.PurgeExpired(ctx)
			if err != nil {
				logger.WithError(err).Warn("Failed to purge expired reset tokens")
			}
			logger.WithFields(logrus.Fields{
				"verification_tokens": codes,
				"reset_tokens":        resets,
			}).Info("Purged expired token rows")
		}
	}
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO())
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}

func setupRouter(
	authHandlers *handlers.AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/otp/send", authHandlers.SendCode).Methods("POST", "OPTIONS")
	auth.HandleFunc("/otp/resend", authHandlers.ResendCode).Methods("POST", "OPTIONS")
	auth.HandleFunc("/otp/verify", authHandlers.VerifyCode).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", authHandlers.RefreshToken).Methods("POST", "OPTIONS")
	auth.HandleFunc("/password/forgot", authHandlers.ForgotPassword).Methods("POST", "OPTIONS")
	auth.HandleFunc("/password/reset", authHandlers.ResetPassword).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/auth/logout", authHandlers.Logout).Methods("POST")
	protected.HandleFunc("/me", authHandlers.Me).Methods("GET")

	return router
}
