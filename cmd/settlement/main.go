package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbdiagne/coffre-pay/internal/config"
	kafkax "github.com/mbdiagne/coffre-pay/internal/kafka"
	"github.com/mbdiagne/coffre-pay/internal/orders"
	"github.com/mbdiagne/coffre-pay/internal/postgres"
	"github.com/mbdiagne/coffre-pay/internal/redisx"
	"github.com/mbdiagne/coffre-pay/internal/settlement"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	cache := redisx.NewCache(cfg.RedisAddr)
	defer cache.Close()

	// Producer: order.fully_paid
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderFullyPaid, 1024)
	prod.Start(ctx)

	// Service
	svc := &settlement.Service{
		Repo:        &orders.Repo{DB: db},
		Dedup:       cache,
		Producer:    prod,
		ServiceName: cfg.ServiceName + "-settlement",
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.SettlementGroup, orders.TopicPayments, cfg.SettlementWorkers)

	go func() {
		log.Printf("settlement consumer started: group=%s topic=%s workers=%d",
			cfg.SettlementGroup, orders.TopicPayments, cfg.SettlementWorkers)
		if err := cons.Start(ctx, svc.HandlePaymentEvent); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	prod.Close()
	prod.WaitClosed()
}
