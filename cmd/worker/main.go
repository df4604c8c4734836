package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/mas-assistant/internal/analytics"
	"github.com/suPer8Hu/mas-assistant/internal/chat"
	"github.com/suPer8Hu/mas-assistant/internal/config"
	"github.com/suPer8Hu/mas-assistant/internal/db"
	"github.com/suPer8Hu/mas-assistant/internal/store/rabbitmq"
)

func workerConcurrency(n int) int {
	if n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	log, closeLog := config.SetupLogger(cfg.LogFile, cfg.Level())
	defer closeLog()

	if cfg.RabbitURL == "" {
		log.Error("RABBIT_URL is required")
		os.Exit(1)
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Error("db connect", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(gdb); err != nil {
		log.Error("db migrate", "error", err)
		os.Exit(1)
	}
	repo := chat.NewRepo(gdb)

	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Error("rabbit connect", "error", err)
		os.Exit(1)
	}
	defer rabbit.Close()

	// prefetch bounds in-flight deliveries to the pool size
	concurrency := workerConcurrency(cfg.WorkerConcurrency)
	msgs, err := rabbit.Consume(concurrency)
	if err != nil {
		log.Error("consume", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc := &analytics.Processor{
		Store:       repo,
		Retrier:     rabbit,
		MaxAttempts: cfg.WorkerMaxAttempts,
		Log:         log,
	}
	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				start := time.Now()
				out := proc.Handle(ctx, d)
				if out != analytics.Stored {
					log.Info("delivery settled", "worker", workerID, "outcome", out, "duration_ms", time.Since(start).Milliseconds())
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				os.Exit(1)
			}
			jobs <- d
		}
	}
}
