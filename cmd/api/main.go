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

	"github.com/mbdiagne/coffre-pay/internal/config"
	"github.com/mbdiagne/coffre-pay/internal/httpx"
	kafkax "github.com/mbdiagne/coffre-pay/internal/kafka"
	"github.com/mbdiagne/coffre-pay/internal/orders"
	"github.com/mbdiagne/coffre-pay/internal/postgres"
	"github.com/mbdiagne/coffre-pay/internal/redisx"
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
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	cache := redisx.NewCache(cfg.RedisAddr)
	defer cache.Close()

	// Kafka producers
	prodOrders := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	prodOrders.Start(ctx)
	prodPayments := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPayments, 1024)
	prodPayments.Start(ctx)

	// Repo & handler
	repo := &orders.Repo{DB: db}
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Store:       repo,
		Orders:      prodOrders,
		Payments:    prodPayments,
		Cache:       cache,
		Service:     cfg.ServiceName,
		Tranches:    cfg.InstallmentTranches,
		AdminSecret: []byte(cfg.AdminJWTSecret),
	}
	oh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prodOrders.Close() // close inbox -> flush & close writer
	prodPayments.Close()
	prodOrders.WaitClosed() // drain
	prodPayments.WaitClosed()
}
