package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/amankumarsingh77/crawlindex/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var ErrPageNotFound = errors.New("page not found")

type MongoClient struct {
	Client *mongo.Client
	DB     *mongo.Database
	cfg    *config.MongoConfig
	logger *zap.Logger
}

func NewMongoClient(ctx context.Context, cfg *config.MongoConfig, logger *zap.Logger) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger = common.OrNop(logger).Named("mongo")
	logger.Info("connected to MongoDB", zap.String("db", cfg.DBName))
	m := &MongoClient{
		Client: client,
		DB:     client.Database(cfg.DBName),
		cfg:    cfg,
		logger: logger,
	}

	_, err = m.pages().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "url", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		logger.Warn("failed to create pages index", zap.Error(err))
	}
	return m, nil
}

func (m *MongoClient) pages() *mongo.Collection {
	return m.DB.Collection(m.cfg.PagesColl)
}

// SavePage inserts page. Every crawl of a URL is kept as its own record, like
// the index keeps every crawl as its own document.
func (m *MongoClient) SavePage(ctx context.Context, page *models.WebPage) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := primitive.NewDateTimeFromTime(time.Now())
	if page.ID.IsZero() {
		page.CreatedAt = now
	}
	page.UpdatedAt = now

	res, err := m.pages().InsertOne(ctx, page)
	if err != nil {
		return fmt.Errorf("failed to insert webpage: %w", err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("failed to cast InsertedID to ObjectID: got type %T", res.InsertedID)
	}
	page.ID = oid
	return nil
}

// GetPage returns the most recent record for url.
func (m *MongoClient) GetPage(ctx context.Context, url string) (*models.WebPage, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var page models.WebPage
	err := m.pages().FindOne(ctx, bson.M{"url": url}, opts).Decode(&page)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find webpage: %w", err)
	}
	return &page, nil
}

func (m *MongoClient) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	m.logger.Info("MongoDB connection closed")
	return nil
}
