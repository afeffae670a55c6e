package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/session-service/internal/api"
	"github.com/fathima-sithara/session-service/internal/auth"
	"github.com/fathima-sithara/session-service/internal/booking"
	"github.com/fathima-sithara/session-service/internal/cache"
	"github.com/fathima-sithara/session-service/internal/config"
	"github.com/fathima-sithara/session-service/internal/events"
	applog "github.com/fathima-sithara/session-service/internal/logger"
	"github.com/fathima-sithara/session-service/internal/repository"
	"github.com/fathima-sithara/session-service/internal/service"
	"github.com/fathima-sithara/session-service/internal/sweeper"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := applog.New(applog.Config{Development: cfg.App.Env != "production"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	mc, err := repository.NewMongoClient(cfg.Mongo.URI)
	if err != nil {
		log.Fatalf("mongo init: %v", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	db := mc.Database(cfg.Mongo.DB)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	undo := cache.NewUndoCache(rdb, cfg.Session.UndoTTL())
	presence := cache.NewPresence(rdb)

	pub := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zlog)
	defer func() { _ = pub.Close() }()

	bookings := booking.NewClient(cfg.Booking.BaseURL, time.Duration(cfg.Booking.TimeoutSeconds)*time.Second)

	clock := service.SystemClock()
	lifecycle := service.NewLifecycleEngine(convRepo, bookings, pub, clock, cfg.Session, zlog)
	messaging := service.NewMessagingEngine(convRepo, msgRepo, undo, pub, clock, cfg.Session)

	sw := sweeper.New(lifecycle, cfg.Session.SweepInterval(), zlog)
	if err := sw.Start(context.Background()); err != nil {
		log.Fatalf("sweeper start: %v", err)
	}
	defer sw.Stop()

	jv, err := auth.NewJWTValidator(cfg.JWT)
	if err != nil {
		log.Fatalf("jwt init: %v", err)
	}

	app := api.NewServer(lifecycle, messaging, presence, jv, zlog.Named("api"))

	go func() {
		if err := app.Listen(":" + cfg.App.PortString()); err != nil {
			log.Fatalf("server listen: %v", err)
		}
	}()
	zlog.Infow("session-service started", "port", cfg.App.PortString())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = app.ShutdownWithContext(ctx)
	zlog.Infow("session-service stopped")
}
