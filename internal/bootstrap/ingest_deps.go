// Package bootstrap wires configuration, stores, providers and services
// into runnable API and worker processes.
package bootstrap

import (
	"context"
	"os"
	"strings"
	"time"

	"ingest_server/adapter/in/worker"
	"ingest_server/adapter/out/mongodb"
	"ingest_server/adapter/out/notify"
	"ingest_server/adapter/out/persistence"
	"ingest_server/adapter/out/provider/google"
	"ingest_server/adapter/out/provider/microsoft"
	"ingest_server/config"
	"ingest_server/core/agent/llm"
	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/core/service/classify"
	"ingest_server/core/service/credentials"
	"ingest_server/core/service/ingest"
	"ingest_server/core/service/rules"
	"ingest_server/core/service/subscription"
	"ingest_server/infra/database"
	"ingest_server/pkg/crypto"
	"ingest_server/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
)

// bodyArchiveTTL is how long raw bodies stay in the archive.
const bodyArchiveTTL = 90 * 24 * time.Hour

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	AccountRepo  out.SocialAPIRepository
	SenderRepo   out.SenderRepository
	EmailRepo    out.EmailRepository
	RuleRepo     out.RuleRepository
	CategoryRepo out.CategoryRepository
	SubRepo      out.SubscriptionRepository
	ContactRepo  out.ContactRepository
	BodyArchive  out.BodyArchive

	// Providers
	Google    *google.Provider
	Microsoft *microsoft.Provider
	Providers map[domain.Provider]out.MailProvider

	// Services
	Vault         *crypto.Vault
	Credentials   *credentials.Store
	Rules         *rules.Engine
	Classifier    *classify.Classifier
	Ingest        *ingest.Service
	Subscriptions *subscription.Manager
	Notifier      out.AlertNotifier

	// Background processing
	Handler *worker.Handler
	Pool    *worker.Pool
	Sweeper *worker.SweepScheduler
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Database (pgxpool, for health checks and direct pool access)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the persistence adapters)
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis; webhook idempotency and OAuth states degrade without it
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn("Redis connection failed: %v", err)
	} else {
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { redisClient.Close() })
	}

	// MongoDB body archive; the pipeline runs without it
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				_ = mongoClient.Disconnect(context.Background())
			})

			archive := mongodb.NewBodyArchiveAdapter(mongoClient.Database(cfg.MongoDBName), bodyArchiveTTL)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := archive.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("body archive index creation failed")
			}
			cancel()
			deps.BodyArchive = archive
		}
	}

	// Vault; tokens never touch the database in the clear
	vault, err := crypto.NewVault(map[string][]byte{
		crypto.PurposeEmailTokens: []byte(cfg.EmailEncryptionKey),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Vault = vault

	// Repositories
	deps.AccountRepo = persistence.NewSocialAPIAdapter(sqlDB)
	deps.SenderRepo = persistence.NewSenderAdapter(sqlDB)
	deps.EmailRepo = persistence.NewEmailAdapter(sqlDB)
	deps.RuleRepo = persistence.NewRuleAdapter(sqlDB)
	deps.CategoryRepo = persistence.NewCategoryAdapter(sqlDB)
	deps.SubRepo = persistence.NewSubscriptionAdapter(sqlDB)
	deps.ContactRepo = persistence.NewContactAdapter(sqlDB)

	// Providers
	deps.Google = google.NewProvider(google.Config{
		ClientID:           cfg.GoogleClientID,
		ClientSecret:       cfg.GoogleClientSecret,
		RedirectURL:        cfg.GoogleRedirectURL,
		PubSubSubscription: cfg.GooglePubSubSubscription,
	})
	deps.Microsoft = microsoft.NewProvider(microsoft.Config{
		ClientID:     cfg.MicrosoftClientID,
		ClientSecret: cfg.MicrosoftClientSecret,
		RedirectURL:  cfg.MicrosoftRedirectURL,
		Authority:    cfg.MicrosoftAuthority,
		GraphBaseURL: cfg.GraphBaseURL,
		ClientState:  cfg.MicrosoftClientState,
		BaseURL:      cfg.BaseURL,
	})
	deps.Providers = map[domain.Provider]out.MailProvider{
		domain.ProviderGoogle:    deps.Google,
		domain.ProviderMicrosoft: deps.Microsoft,
	}

	// Services
	deps.Credentials = credentials.NewStore(deps.AccountRepo, vault, deps.Providers)
	deps.Rules = rules.NewEngine(deps.RuleRepo)

	llmClient := llm.NewClient(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	})
	deps.Classifier = classify.NewClassifier(llmClient, cfg.DefaultCategory)

	deps.Ingest = ingest.NewService(ingest.Deps{
		Credentials:     deps.Credentials,
		Google:          deps.Google,
		Microsoft:       deps.Microsoft,
		Rules:           deps.Rules,
		Classifier:      deps.Classifier,
		Emails:          deps.EmailRepo,
		Senders:         deps.SenderRepo,
		Categories:      deps.CategoryRepo,
		Subs:            deps.SubRepo,
		Contacts:        deps.ContactRepo,
		Archive:         deps.BodyArchive,
		BacklogPoolSize: cfg.BacklogPoolSize,
	})

	deps.Subscriptions = subscription.NewManager(
		deps.Credentials, deps.Google, deps.Microsoft, deps.SubRepo, deps.Ingest, cfg.GooglePubSubTopic)

	// Admin alerting over SES
	if cfg.AlertFromEmail != "" && len(cfg.AdminEmailList) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		notifier, err := notify.NewSESNotifier(ctx, notify.Config{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKey,
			SecretAccessKey: cfg.AWSSecretKey,
			FromAddress:     cfg.AlertFromEmail,
			AdminEmails:     cfg.AdminEmailList,
		})
		cancel()
		if err != nil {
			logger.WithError(err).Warn("SES notifier setup failed, alerts disabled")
		} else {
			deps.Notifier = notifier
		}
	} else {
		logger.Warn("Admin alerting not configured (ALERT_FROM_EMAIL / ADMIN_EMAIL_LIST)")
	}
	if deps.Notifier != nil {
		deps.Subscriptions.SetNotifier(deps.Notifier)
	}

	// Background processing
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("service", "ingest").Logger()

	deps.Handler = worker.NewHandler(deps.Ingest, deps.Subscriptions, deps.Credentials)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerCount > 0 {
		poolConfig.MaxWorkers = cfg.WorkerCount
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}
	if cfg.MaxRetries > 0 {
		poolConfig.MaxRetries = cfg.MaxRetries
	}
	deps.Pool = worker.NewPool(deps.Handler, poolConfig, deps.Notifier, zlog)

	deps.Sweeper = worker.NewSweepScheduler(deps.Subscriptions, cfg.SweepInterval)

	return deps, cleanup, nil
}
