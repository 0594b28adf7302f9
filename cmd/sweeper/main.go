package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/hpratama/go-fieldsales-orders/internal/config"
	kafkax "github.com/hpratama/go-fieldsales-orders/internal/kafka"
	"github.com/hpratama/go-fieldsales-orders/internal/notify"
	"github.com/hpratama/go-fieldsales-orders/internal/orders"
	"github.com/hpratama/go-fieldsales-orders/internal/postgres"
	"github.com/hpratama/go-fieldsales-orders/internal/reconciler"
	"github.com/hpratama/go-fieldsales-orders/internal/redisx"
	"github.com/hpratama/go-fieldsales-orders/internal/stock"
)

// The sweeper fulfills deferred order lines as stock arrives. Multiple
// instances may run; a Redis lease ensures only one sweeps per interval.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taxRate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		log.Fatalf("invalid ORDER_TAX_RATE %q: %v", cfg.TaxRate, err)
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 256)
	prod.Start(ctx)

	repo := &orders.Repo{DB: db}
	notifier := notify.NewKafka(prod, cfg.ServiceName+"-sweeper")
	sweeper := reconciler.NewSweeper(repo, &stock.Allocator{Now: time.Now}, notifier, taxRate, cfg.TxRetries)

	instance, _ := os.Hostname()
	if instance == "" {
		instance = "sweeper"
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	log.Printf("sweeper %s running every %s", instance, cfg.SweepInterval)
	sweepOnce(ctx, rdb, instance, sweeper)

	for {
		select {
		case <-sig:
			log.Println("shutting down...")
			prod.Close()
			prod.WaitClosed()
			return
		case <-ticker.C:
			sweepOnce(ctx, rdb, instance, sweeper)
		}
	}
}

func sweepOnce(ctx context.Context, rdb *redis.Client, instance string, s *reconciler.Sweeper) {
	ok, err := redisx.AcquireLease(ctx, rdb, redisx.KeySweepLease, instance, redisx.TTLSweepLease)
	if err != nil {
		log.Printf("sweep lease: %v", err)
		return
	}
	if !ok {
		return // another instance holds the lease
	}
	defer func() {
		if err := redisx.ReleaseLease(ctx, rdb, redisx.KeySweepLease, instance); err != nil {
			log.Printf("release lease: %v", err)
		}
	}()

	stats, err := s.SweepPendingOrders(ctx)
	if err != nil {
		log.Printf("sweep: %v", err)
		return
	}
	log.Printf("sweep done: scanned=%d fulfilled=%d skipped=%d failed=%d",
		stats.Scanned, stats.Fulfilled, stats.Skipped, stats.Failed)
}
