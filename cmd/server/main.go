package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/munivet/doseledger/internal/adapter/handler"
	"github.com/munivet/doseledger/internal/adapter/messaging"
	"github.com/munivet/doseledger/internal/adapter/storage"
	"github.com/munivet/doseledger/internal/config"
	"github.com/munivet/doseledger/internal/core/domain"
	"github.com/munivet/doseledger/internal/core/service"
	"github.com/munivet/doseledger/internal/port"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// MySQL
	db, err := sqlx.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	log.Println("connected to mysql")

	store := storage.NewMySQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	log.Println("connected to redis")
	cache := storage.NewRedisAdapter(rdb)

	// Kafka
	publisher := messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)

	// Services
	events := service.NewEventQueue(cfg.EventQueueSize)
	campaigns := service.NewCampaignService(store, cache, events)
	consumption := service.NewConsumptionService(store, cache, events)
	warehouse := service.NewWarehouseService(store, cache, events)
	reports := service.NewReportService(store)

	// Publisher worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.PublisherWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			publisherLoop(id, events.Events(), publisher)
		}(i)
	}
	log.Printf("started %d publisher workers", cfg.PublisherWorkers)

	// HTTP server
	httpHandler := handler.NewHTTPHandler(campaigns, consumption, warehouse, reports)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpHandler.Router(),
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Println("HTTP server stopped")

	// Drain remaining events before closing the publisher.
	events.Close()
	wg.Wait()
	log.Println("publisher workers stopped")

	publisher.Close()
	rdb.Close()
	db.Close()
	log.Println("connections closed")
}

func publisherLoop(id int, queue <-chan domain.StockEvent, publisher port.EventPublisher) {
	for event := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := publisher.PublishStockEvent(ctx, event); err != nil {
			// The ledger is already committed; losing the event loses an
			// audit signal, not stock.
			log.Printf("worker %d: failed to publish event %s (%s): %v", id, event.ID, event.Type, err)
		}
		cancel()
	}
}
