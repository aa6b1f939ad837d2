package configuration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"RoastMedia/internal/auth"
	"RoastMedia/internal/db"
	"RoastMedia/internal/handler"
	"RoastMedia/internal/hub"
	"RoastMedia/internal/model"
	"RoastMedia/internal/queue"
	"RoastMedia/internal/repo"
	"RoastMedia/internal/service"
)

type Container struct {
	ChatHandler    handler.ChatHandler
	MonitorHandler handler.MonitorHandler
	Hub            *hub.Hub
	Registry       *hub.Registry
	Authenticator  *auth.Authenticator
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
	queueClient queue.Client
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	secret := JWTSecret()
	if secret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	// One conversation document per unordered participant pair, enforced at
	// the store so concurrent first-contacts cannot both create.
	indexCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.EnsureUniqueIndex(indexCtx, con, config.ChatDatabase.ConversationsCollection, "participant_key"); err != nil {
		return nil, fmt.Errorf("failed to ensure conversation index: %w", err)
	}

	logger, _ := zap.NewProduction()

	messageRepo := repo.NewMessageRepository(con, db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection), logger)
	convoRepo := repo.NewConversationRepository(con, db.NewRepository[model.Conversation](con, config.ChatDatabase.ConversationsCollection), logger)
	userRepo := repo.NewUserRepository(con, db.NewRepository[model.User](con, config.ChatDatabase.UsersCollection))

	var queueClient queue.Client
	if config.Queue.RedisUri != "" {
		queueClient, err = queue.NewAsynqClient(config.Queue.RedisUri)
		if err != nil {
			return nil, err
		}
	} else {
		log.Println("offline push queue disabled: no redis uri configured")
	}

	authenticator := auth.NewAuthenticator(secret, config.Auth.Issuer, config.Auth.TokenTTL())

	registry := hub.NewRegistry()
	dispatcher := hub.NewDispatcher(registry, queueClient)
	chatEvents := hub.NewChatHandler(registry, dispatcher, messageRepo, convoRepo)
	relayHub := hub.NewHub(registry, chatEvents, authenticator, userRepo, config.Server.AllowedOrigins)

	chatService := service.NewChatService(messageRepo, convoRepo, registry, dispatcher, logger)
	chatHandler := handler.NewChatHandler(chatService)
	monitorHandler := handler.NewMonitorHandler(hub.NewMonitorService(registry))

	return &Container{
		ChatHandler:    chatHandler,
		MonitorHandler: monitorHandler,
		Hub:            relayHub,
		Registry:       registry,
		Authenticator:  authenticator,
		Config:         *config,
		Logger:         logger,
		mongoClient:    con,
		queueClient:    queueClient,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.queueClient != nil {
		if err := c.queueClient.Close(); err != nil {
			log.Printf("error closing queue client: %v", err)
		}
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
