package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/docforge/docforge/internal/assistant"
	"github.com/docforge/docforge/internal/compiler"
	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/httpapi"
	"github.com/docforge/docforge/internal/jobs"
	"github.com/docforge/docforge/internal/persistence"
	"github.com/docforge/docforge/internal/service"
	"github.com/docforge/docforge/pkg/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: %v", err)
	}

	client, err := assistant.NewHTTPClient(&assistant.Config{
		APIKey:      cfg.Assistant.APIKey,
		APIURL:      cfg.Assistant.APIURL,
		Model:       cfg.Assistant.Model,
		MaxTokens:   cfg.Assistant.MaxTokens,
		Temperature: cfg.Assistant.Temperature,
		Timeout:     cfg.Assistant.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to create assistant client: %v", err)
	}

	store, err := persistence.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("Failed to open metadata store: %v", err)
	}
	defer store.Close()

	generators, err := compiler.NewGeneratorStore(cfg.Storage.DataDir)
	if err != nil {
		log.Fatal("Failed to prepare generator storage: %v", err)
	}

	manager := jobs.NewManager(store, cfg.Matching.JobHistory)
	svc := service.New(cfg, store, client, manager, generators)

	c := cron.New(cron.WithSeconds())
	scheduler := service.NewScheduler(svc, c, cfg.Matching.CronExpr)
	if err := scheduler.Schedule(context.Background()); err != nil {
		log.Fatal("Failed to schedule matching sweep: %v", err)
	}
	c.Start()
	defer c.Stop()

	server := httpapi.NewServer(svc)
	go func() {
		log.Info("HTTP API listening on %s", cfg.System.HTTPAddr)
		if err := server.ListenAndServe(cfg.System.HTTPAddr); err != nil {
			log.Error("HTTP server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP shutdown: %v", err)
	}
	manager.Wait()
}
