// This file is used to create or update the job table
// How to run:
// go run ./cmd/migrate                          # Migrate the database from env vars
// go run ./cmd/migrate -retries 10 -retry-wait 5s
package main

import (
	"flag"
	"time"

	"github.com/joho/godotenv"

	"github.com/naka0519/TownReady/internal/config"
	"github.com/naka0519/TownReady/internal/db"
	"github.com/naka0519/TownReady/internal/logger"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	var (
		retries   = flag.Int("retries", 5, "Number of connection retries")
		retryWait = flag.Duration("retry-wait", 3*time.Second, "Wait time between retries")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	logger.InitializeAndConfigure(cfg.LogLevel)

	// Retry connection a few times before giving up; the database may still be starting
	for i := 1; i <= *retries; i++ {
		if _, err = db.New(cfg.DB); err == nil {
			logger.Infof("%s database migrated", cfg.DB.Driver)
			return
		}
		logger.Warnf("migration attempt %d/%d failed: %v", i, *retries, err)
		time.Sleep(*retryWait)
	}
	logger.Fatalf("migration failed after %d attempts: %v", *retries, err)
}
