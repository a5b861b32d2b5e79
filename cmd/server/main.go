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
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tourspot/authcore/internal/config"
	"github.com/tourspot/authcore/internal/handlers"
	"github.com/tourspot/authcore/internal/middleware"
	"github.com/tourspot/authcore/internal/repository"
	"github.com/tourspot/authcore/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Log.Level).Warn("Unknown LOG_LEVEL, keeping info")
	}

	dynamoClient, err := initDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	tokenStore, closeStore, err := initTokenStore(cfg, dynamoClient, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token store")
	}
	defer closeStore()

	userRepo := repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)

	codec, err := service.NewClaimsCodec(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize claims codec")
	}

	tokenManager := service.NewTokenManager(codec, tokenStore, &cfg.JWT, logger)

	extractor := middleware.TokenExtractor{CookieName: cfg.Server.CookieName}
	authHandlers := handlers.NewAuthHandlers(tokenManager, userRepo, userRepo, extractor, logger)
	authMiddleware := middleware.NewAuthMiddleware(tokenManager, extractor, logger)
	router := handlers.NewRouter(authHandlers, authMiddleware, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":        cfg.Server.Port,
			"token_store": cfg.TokenStore.Backend,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
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
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}

func initTokenStore(cfg *config.Config, dynamoClient *dynamodb.Client, logger *logrus.Logger) (repository.TokenStore, func(), error) {
	switch cfg.TokenStore.Backend {
	case config.StoreDynamoDB:
		return repository.NewDynamoDBTokenStore(dynamoClient, cfg.DynamoDB.TableName, logger), func() {}, nil
	case config.StoreMemory:
		logger.Warn("Using in-memory token store, state is lost on restart and not shared between instances")
		return repository.NewMemoryTokenStore(), func() {}, nil
	default:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Endpoint,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.JWT.StoreTimeout,
			ReadTimeout:  cfg.JWT.StoreTimeout,
			WriteTimeout: cfg.JWT.StoreTimeout,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
		return repository.NewRedisTokenStore(client, cfg.Redis.KeyPrefix, logger), func() { client.Close() }, nil
	}
}
