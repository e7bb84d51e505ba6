package adapters

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/gioleppe/Word-Quizzle/internal/bootstrap"
)

// AdapterMongo owns the MongoDB client used by MongoUserStore when the
// session server is configured with STORE_BACKEND=mongo.
type AdapterMongo struct {
	Client   *mongo.Client
	Database *mongo.Database
	cfg      *bootstrap.Config
}

func NewAdapterMongo(cfg *bootstrap.Config) *AdapterMongo {
	return &AdapterMongo{cfg: cfg}
}

func (a *AdapterMongo) Init(ctx context.Context, log *zap.SugaredLogger) error {
	clientOpts := options.Client().ApplyURI(a.cfg.MongoURI)

	ctxConnect, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctxConnect, clientOpts)
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctxConnect, nil); err != nil {
		return fmt.Errorf("ping mongodb: %w", err)
	}

	a.Client = client
	a.Database = client.Database("wordquizzle")

	log.Info("connected to mongodb")
	return nil
}

func (a *AdapterMongo) Close(ctx context.Context) error {
	if a.Client != nil {
		return a.Client.Disconnect(ctx)
	}
	return nil
}
