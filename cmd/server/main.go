package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/mas-assistant/internal/app"
	"github.com/suPer8Hu/mas-assistant/internal/config"
	"github.com/suPer8Hu/mas-assistant/internal/httpapi"
	"github.com/suPer8Hu/mas-assistant/internal/httpapi/handlers"
)

func main() {
	cfg := config.Load()
	log, closeLog := config.SetupLogger(cfg.LogFile, cfg.Level())
	defer closeLog()

	a, err := app.Build(cfg, log, app.Options{Persistence: true, Publish: true, Metrics: true})
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.WarmKnowledge(ctx)

	var kb handlers.Knowledge
	if a.Index != nil {
		kb = a.Index
	}
	h := handlers.NewHandler(a.Orchestrator, a.ChatSvc, kb, cfg, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewRouter(h, cfg, a.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "error", err)
	}
}
