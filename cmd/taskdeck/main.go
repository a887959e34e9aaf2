package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rfletcher/taskdeck/internal/database"
	"github.com/rfletcher/taskdeck/internal/logging"
	"github.com/rfletcher/taskdeck/internal/server"
)

func main() {
	port := envOr("TASKDECK_PORT", "8080")
	dbPath := envOr("TASKDECK_DB_PATH", "taskdeck.db")
	brokers := strings.Split(envOr("TASKDECK_KAFKA_BROKERS", "localhost:9092"), ",")
	secret := os.Getenv("TASKDECK_JWT_SECRET")
	if secret == "" {
		log.Fatal("TASKDECK_JWT_SECRET is required")
	}

	logger := logging.Setup(os.Getenv("TASKDECK_LOG_LEVEL"), os.Getenv("TASKDECK_LOG_FORMAT"))

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	srv := server.New(db, server.Config{
		JWTSecret:    []byte(secret),
		KafkaBrokers: brokers,
	}, logger)

	ctx := context.Background()
	srv.Consumer().Start(ctx)
	srv.Gateway().Start(ctx)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("taskdeck listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	srv.Consumer().Stop()
	srv.Gateway().Stop()
	if err := srv.Publisher().Close(); err != nil {
		logger.Error("close publisher", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
