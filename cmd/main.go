package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"lotpix/internal/cache"
	"lotpix/internal/feed"
	"lotpix/internal/jobs"
	"lotpix/internal/logger"
	"lotpix/internal/models"
	"lotpix/internal/optimizer"
	"lotpix/internal/server"
	"lotpix/internal/storage"
	"lotpix/internal/worker"
)

func main() {
	log := logger.L
	defer log.Sync()

	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to init storage", zap.Error(err))
	}
	defer db.Close()

	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rc.Close()
	feedCache := cache.NewCache("lotpix:feed", rc)

	producer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{cfg.KafkaBroker},
		Topic:   cfg.KafkaTopic,
	})
	defer producer.Close()

	manager := jobs.NewManager(db)
	tr, err := optimizer.NewLocalTransformer(cfg.StoragePath, "/files", cfg.WatermarkText)
	if err != nil {
		log.Fatal("failed to init transformer", zap.Error(err))
	}
	opt := optimizer.New(db, tr)
	generator := feed.NewGenerator(db)

	for i := 0; i < cfg.Workers; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{cfg.KafkaBroker},
			Topic:   cfg.KafkaTopic,
			GroupID: "lotpix-optimizer-group",
		})
		w := worker.New(reader, manager, opt, feedCache)
		go func(r *kafka.Reader) {
			defer r.Close()
			w.Run(ctx)
		}(reader)
	}

	srv := server.NewServer(cfg, db, producer, manager, generator, feedCache)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
}
