package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/aura-api/internal/config"
	"github.com/suPer8Hu/aura-api/internal/db"
	"github.com/suPer8Hu/aura-api/internal/generation"
	"github.com/suPer8Hu/aura-api/internal/storage"
	"github.com/suPer8Hu/aura-api/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	repo := generation.NewRepo(gdb)

	store, err := storage.NewLocal(cfg.StorageDir, cfg.APIURL, storage.NewSigner(cfg.AssetURLSecret))
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	mat := generation.NewMaterializer(repo, store, cfg.AssetFetchTimeout)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("rabbit consumer: %v", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx, func(ctx context.Context, task generation.MaterializeTask) error {
		return handleTask(ctx, mat, task)
	}); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

func handleTask(ctx context.Context, mat *generation.Materializer, task generation.MaterializeTask) error {
	start := time.Now()
	stored, err := mat.Materialize(ctx, task)
	if err != nil {
		return err
	}

	total := time.Since(start)
	if stored < len(task.Outputs) || total > 5*time.Second {
		log.Printf("materialize_timing generation=%s stored=%d outputs=%d total=%s",
			task.GenerationID, stored, len(task.Outputs), total,
		)
	}
	return nil
}
