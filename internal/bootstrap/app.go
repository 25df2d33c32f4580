package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"finrag/internal/ai"
	"finrag/internal/app"
	"finrag/internal/cache"
	"finrag/internal/config"
	"finrag/internal/model"
	mysqlClient "finrag/internal/platform/mysql"
	rabbitmqClient "finrag/internal/platform/rabbitmq"
	redisClient "finrag/internal/platform/redis"
	"finrag/internal/repository"
	"finrag/internal/worker"
)

// App aggregates platform clients, services and background workers.
type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	SessionService *app.SessionService
	ChatService    *app.ChatService

	IngestWorker *worker.IngestWorker
	ChatWorker   *worker.ChatPersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.Session{}, &model.Message{}, &model.Chunk{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	sessionRepo := repository.NewSessionRepository(mysqlDB)
	chunkRepo := repository.NewChunkRepository(mysqlDB)
	messageRepo := repository.NewMessageRepository(mysqlDB)

	statusCache := cache.NewStatusCache(redisCli, time.Duration(cfg.Ingest.SessionTTLHours)*time.Hour)
	historyCache := cache.NewHistoryCache(redisCli, time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second)

	ingestPublisher := rabbitmqClient.NewPublisher(mqConn, cfg.RabbitMQ.IngestQueue)
	messagePublisher := rabbitmqClient.NewPublisher(mqConn, cfg.RabbitMQ.MessagePersistQueue)

	llmClient := ai.NewClient(ai.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})

	sessionService := app.NewSessionService(
		sessionRepo, chunkRepo, messageRepo, statusCache, historyCache,
		ingestPublisher, cfg.Ingest.WorkDir,
	)
	chatService := app.NewChatService(
		sessionRepo, chunkRepo, messageRepo, historyCache,
		messagePublisher, llmClient, llmClient,
	)
	ingestService := app.NewIngestService(
		sessionRepo, chunkRepo, statusCache, llmClient,
		cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap, cfg.Ingest.MinChunkChars,
	)

	ingestWorker := worker.NewIngestWorker(mqConn, ingestService, cfg.RabbitMQ.IngestQueue, cfg.Ingest.Workers)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	chatWorker := worker.NewChatPersistWorker(mqConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue)
	if err := chatWorker.Start(ctx); err != nil {
		ingestWorker.Close()
		return nil, fmt.Errorf("start chat persist worker failed: %w", err)
	}

	return &App{
		Config:         cfg,
		MySQL:          mysqlDB,
		Redis:          redisCli,
		MQConn:         mqConn,
		SessionService: sessionService,
		ChatService:    chatService,
		IngestWorker:   ingestWorker,
		ChatWorker:     chatWorker,
		StartedAt:      time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.ChatWorker != nil {
		a.ChatWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
