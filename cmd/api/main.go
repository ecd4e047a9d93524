package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/bankcards/internal/broker"
	"github.com/Dan9191/bankcards/internal/config"
	"github.com/Dan9191/bankcards/internal/handler"
	"github.com/Dan9191/bankcards/internal/lock"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/Dan9191/bankcards/internal/repository"
	"github.com/Dan9191/bankcards/internal/repository/memory"
	"github.com/Dan9191/bankcards/internal/service"
	"github.com/Dan9191/bankcards/internal/utils"
	"github.com/Dan9191/bankcards/internal/utils/email"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// redisLockTTL bounds how long a crashed instance can hold a card lock.
const redisLockTTL = 30 * time.Second

type store interface {
	service.UserStore
	service.CardStore
	service.LedgerStore
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var repo store
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage; data is lost on restart")
		repo = memory.New()
	default:
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}
		pg := repository.NewRepository(db)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
		repo = pg
	}

	cipher, err := utils.NewCipher(cfg.EncryptionKey, cfg.HMACSecret)
	if err != nil {
		logger.Fatalf("Failed to initialize card number cipher: %v", err)
	}

	var locker lock.Locker
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		rl, err := lock.NewRedis(ctx, cfg.RedisAddr, redisLockTTL)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rl.Close()
		logger.Infof("Redis card locks at %s", cfg.RedisAddr)
		locker = rl
	default:
		locker = lock.NewMemory()
	}

	// Transfer observers
	var observers []service.TransferObserver
	if cfg.NATSURL != "" {
		nc, err := broker.Connect(cfg.NATSURL, cfg.NATSToken)
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer nc.Drain()
		logger.Infof("NATS connected at %s", cfg.NATSURL)
		observers = append(observers, broker.NewPublisher(nc, logger))
	}

	scheduler := cron.New()
	if cfg.MailEnabled() {
		sender := email.NewSender(cfg, logger)
		observers = append(observers, service.NewReceiptObserver(repo, repo, cipher, sender, logger))

		reminder := service.NewExpiryReminder(repo, repo, cipher, sender, logger)
		if _, err := reminder.Schedule(scheduler, cfg.ExpiryReminderSpec); err != nil {
			logger.Fatalf("Failed to schedule expiry reminders: %v", err)
		}
	}

	// Initialize layers
	guard := service.NewGuard(logger)
	issuer := service.NewIssuer(repo, cipher, cfg.CardPrefix, cfg.IssueMaxAttempts, logger)
	authSvc := service.NewAuthService(repo, logger, cfg.JWTSecret, cfg.JWTTTL)
	cardSvc := service.NewCardService(repo, repo, issuer, guard, cipher, locker, cfg.LockTimeout, logger)
	transferSvc := service.NewTransferService(repo, repo, guard, locker, cfg.LockTimeout, logger, observers...)

	if err := seedAdmin(ctx, authSvc, cfg); err != nil {
		logger.Fatalf("Failed to create admin user: %v", err)
	}

	// Setup router
	h := handler.NewHandler(authSvc, cardSvc, transferSvc, logger)
	r := h.Router(cfg.JWTSecret)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	scheduler.Start()
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
}

// seedAdmin creates the configured admin account on first start.
func seedAdmin(ctx context.Context, auth *service.AuthService, cfg *config.Config) error {
	if cfg.AdminUsername == "" {
		return nil
	}
	_, err := auth.Register(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword, models.RoleAdmin)
	if errors.Is(err, models.ErrUserExists) {
		return nil
	}
	return err
}
