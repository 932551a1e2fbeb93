package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/IsSlashy/Protocol-01-sub006/adapters/chain"
	"github.com/IsSlashy/Protocol-01-sub006/adapters/events"
	"github.com/IsSlashy/Protocol-01-sub006/adapters/store"
	"github.com/IsSlashy/Protocol-01-sub006/adapters/tokenizer"
	"github.com/IsSlashy/Protocol-01-sub006/internal/config"
	"github.com/IsSlashy/Protocol-01-sub006/internal/logging"
	"github.com/IsSlashy/Protocol-01-sub006/internal/monitoring"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
	"github.com/IsSlashy/Protocol-01-sub006/service"
	transporthttp "github.com/IsSlashy/Protocol-01-sub006/transport/http"
)

const (
	serviceName   = "p01auth"
	sweepInterval = time.Minute
)

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)
	logger.SetLevel(config.GetLogLevel())

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Service stopped with error")
	}
}

func run(ctx context.Context, cfg config.Config, logger logging.Logger) error {
	metrics := monitoring.NewMetrics(serviceName)

	sessions, publisher, closeBackends, err := setupBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackends()

	solana, err := chain.NewSolanaClient(ctx, chain.Config{
		Endpoint:   cfg.SolanaRPCURL,
		MaxRetries: 3,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	defer solana.Close()

	verifier, err := service.NewVerifier(service.VerifierConfig{
		ServiceID:        cfg.ServiceID,
		SubscriptionMint: cfg.SubscriptionMint,
		MaxTimestampAge:  cfg.MaxTimestampAge,
	},
		service.WithSessionLookup(sessions),
		service.WithBalanceFetcher(solana),
		service.WithVerifierLogger(logger),
		service.WithVerifierMetrics(metrics),
	)
	if err != nil {
		return err
	}

	client, err := service.NewClient(service.ClientConfig{
		ServiceID:        cfg.ServiceID,
		ServiceName:      cfg.ServiceName,
		ServiceLogo:      cfg.ServiceLogo,
		CallbackURL:      cfg.CallbackURL,
		SubscriptionMint: cfg.SubscriptionMint,
		SessionTTL:       cfg.SessionTTL,
		QRSize:           cfg.QRSize,
	}, sessions,
		service.WithSubscriptionChecker(verifier),
		service.WithEventPublisher(publisher),
		service.WithLogger(logger),
		service.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	signKey, err := loadSigningKey(cfg.JWTKeyFile, logger)
	if err != nil {
		return err
	}

	router := transporthttp.SetupRouter(transporthttp.Dependencies{
		Client:    client,
		Verifier:  verifier,
		Tokenizer: tokenizer.NewJWTTokenizer(signKey, tokenizer.WithAccessTTL(cfg.AccessTokenTTL)),
		Metrics:   metrics,
		Logger:    logger,
	})

	return transporthttp.Serve(ctx, transporthttp.ServerConfig{
		Port:        cfg.Port,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}, router, logger)
}

// setupBackends uses Redis for sessions and events when P01_REDIS_URL is set,
// and an in-process store without event forwarding otherwise.
func setupBackends(ctx context.Context, cfg config.Config, logger logging.Logger) (ports.SessionStore, ports.EventPublisher, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("P01_REDIS_URL not set; sessions are kept in memory and events are not forwarded")
		sessions := store.NewMemoryStore()
		go sweep(ctx, sessions, logger)
		return sessions, nil, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		logging.NewWatermillLogger(logger),
	)
	if err != nil {
		redisClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	closeAll := func() {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close event publisher")
		}
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	forwarder := events.NewWatermillPublisher(publisher, cfg.EventTopic)
	logger.WithField("topic", forwarder.Topic()).Info("Forwarding session events to Redis stream")
	return store.NewRedisStore(redisClient), forwarder, closeAll, nil
}

// sweep drops finished in-memory sessions once their retention has passed
func sweep(ctx context.Context, sessions *store.MemoryStore, logger logging.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := sessions.Sweep(now, store.DefaultRetention); n > 0 {
				logger.WithField("removed", n).Debug("Swept sessions")
			}
		}
	}
}

// loadSigningKey reads a PEM encoded EC key, or generates an ephemeral one
// when no file is configured.
func loadSigningKey(path string, logger logging.Logger) (*ecdsa.PrivateKey, error) {
	if path == "" {
		logger.Warn("P01_JWT_KEY_FILE not set; access tokens will not survive a restart")
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return key, nil
}
