package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/hpratama/go-fieldsales-orders/internal/config"
	"github.com/hpratama/go-fieldsales-orders/internal/httpx"
	kafkax "github.com/hpratama/go-fieldsales-orders/internal/kafka"
	"github.com/hpratama/go-fieldsales-orders/internal/notify"
	"github.com/hpratama/go-fieldsales-orders/internal/orders"
	"github.com/hpratama/go-fieldsales-orders/internal/postgres"
	"github.com/hpratama/go-fieldsales-orders/internal/pricing"
	"github.com/hpratama/go-fieldsales-orders/internal/redisx"
	"github.com/hpratama/go-fieldsales-orders/internal/stock"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taxRate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		log.Fatalf("invalid ORDER_TAX_RATE %q: %v", cfg.TaxRate, err)
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(ctx)

	repo := &orders.Repo{DB: db}
	notifier := notify.NewKafka(prod, cfg.ServiceName)
	lifecycle := orders.NewLifecycle(repo, &stock.Allocator{Now: time.Now}, notifier, taxRate, cfg.TxRetries)

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Lifecycle: lifecycle,
		Pricing:   pricing.NewEngine(repo),
		Redis:     rdb,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close the inbox so the loop flushes and exits
	prod.WaitClosed() // drain
}
