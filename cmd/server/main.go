package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"portwatch/internal/config"
	"portwatch/internal/database"
	"portwatch/internal/handlers"
	"portwatch/internal/quotes"
	"portwatch/internal/reporter"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	// Load .env if present; fine to run without one in production.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	driver, dsn := cfg.DSN()
	db, err := initDB(driver, dsn)
	if err != nil {
		logger.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	store := database.New(db, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Bootstrap(ctx); err != nil {
		logger.Fatalf("db bootstrap failed: %v", err)
	}

	yahoo := quotes.NewYahoo(cfg.QuoteBaseURL, cfg.QuoteTimeout, cfg.QuoteCacheTTL)
	rep := reporter.New(store, yahoo, reporter.NewSMTPMailer, logger)
	rep.Reschedule()

	h := handlers.NewHandler(store, yahoo, rep, logger)
	rg := gin.Default()
	h.Register(rg)

	srv := &http.Server{Addr: fmt.Sprintf(":%s", cfg.Port), Handler: rg}
	go func() {
		logger.Infof("server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	rep.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("server shutdown: %v", err)
	}
}

func initDB(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// One writer at a time; the ledger's mutations are exclusive.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	return db, nil
}
