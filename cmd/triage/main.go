// Command triage runs the autonomous mail triage engine: it polls the
// consolidation bin mailbox, classifies, routes, autoresponds, and logs
// every message, until interrupted.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/ignite/apex-triage/internal/autoresponder"
	"github.com/ignite/apex-triage/internal/batch"
	"github.com/ignite/apex-triage/internal/classifier"
	"github.com/ignite/apex-triage/internal/config"
	"github.com/ignite/apex-triage/internal/domain"
	"github.com/ignite/apex-triage/internal/mailgateway"
	"github.com/ignite/apex-triage/internal/pkg/distlock"
	"github.com/ignite/apex-triage/internal/pkg/logger"
	"github.com/ignite/apex-triage/internal/repository/postgres"
	"github.com/ignite/apex-triage/internal/templatestore"
	"github.com/ignite/apex-triage/internal/triageengine"
)

func main() {
	logger.Info("starting triage engine")

	configPath := os.Getenv("TRIAGE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	logger.Info("connected to database")

	logs := postgres.NewLogRepo(db)

	gateway := mailgateway.New(cfg.Graph)

	var blobClient *templatestore.AzureBlobClient
	if err := templatestore.ValidateConfig(cfg.Blob); err == nil {
		blobClient, err = templatestore.NewAzureBlobClient(cfg.Blob.ConnectionString)
		if err != nil {
			logger.Warn("blob client init failed, autoresponses will fail to resolve templates", "error", err.Error())
		}
	} else {
		logger.Warn("blob storage not configured, autoresponses will fail to resolve templates", "error", err.Error())
	}
	templates := templatestore.New(cfg.Blob, blobClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline := classifier.New(ctx, cfg.LLM)

	autorespond := func(ctx context.Context, msg domain.Message) autoresponder.Result {
		return autoresponder.Respond(ctx, *cfg, gateway, templates, msg)
	}

	var retries batch.RetrySet
	if cfg.Batch.DynamoTableName != "" {
		dynamoSet, err := batch.NewDynamoRetrySet(ctx, cfg.Batch.DynamoTableName, cfg.LLM.AWSRegion)
		if err != nil {
			logger.Warn("dynamo retry set init failed, falling back to in-memory", "error", err.Error())
			retries = batch.NewMemoryRetrySet()
		} else {
			retries = dynamoSet
		}
	} else {
		retries = batch.NewMemoryRetrySet()
	}

	engine := triageengine.New(*cfg, gateway, pipeline, autorespond, logs, retries)

	var lock distlock.DistLock
	if cfg.Batch.LeaderLockKey != "" {
		var redisClient *redis.Client
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			if opts, err := redis.ParseURL(redisURL); err == nil {
				redisClient = redis.NewClient(opts)
			}
		}
		lock = distlock.NewLock(redisClient, db, cfg.Batch.LeaderLockKey, 2*cfg.Batch.FetchInterval())
	}

	loop := batch.New(cfg.Batch, cfg.Mail, gateway, gateway, engine, logs, retries, lock)
	if err := loop.Start(ctx); err != nil {
		log.Fatalf("start batch loop: %v", err)
	}

	logger.Info("triage engine running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down triage engine")
	loop.Stop()
	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("triage engine stopped")
}
