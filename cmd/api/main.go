package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/aura-api/internal/config"
	"github.com/suPer8Hu/aura-api/internal/db"
	"github.com/suPer8Hu/aura-api/internal/generation"
	"github.com/suPer8Hu/aura-api/internal/httpapi"
	"github.com/suPer8Hu/aura-api/internal/httpapi/handlers"
	"github.com/suPer8Hu/aura-api/internal/httpapi/middleware"
	"github.com/suPer8Hu/aura-api/internal/store/rabbitmq"
	"github.com/suPer8Hu/aura-api/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.AutoMigrate(gdb); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	var limiter middleware.Limiter
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Printf("redis unavailable, submit rate limit disabled: %v", err)
	} else {
		limiter = rds
	}
	cancel()

	var pub generation.TaskPublisher
	if cfg.MaterializeMode == config.MaterializeQueue {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Printf("rabbit unavailable, materializing inline: %v", err)
		} else {
			defer p.Close()
			pub = p
		}
	}

	h, err := handlers.NewHandler(gdb, cfg, pub)
	if err != nil {
		log.Fatalf("handler: %v", err)
	}
	if cfg.APIURL == "" {
		log.Printf("API_URL not set, provider webhooks disabled; clients must poll")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, cfg, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("api listening on %s materialize=%s", cfg.HTTPAddr, cfg.MaterializeMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("api shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
