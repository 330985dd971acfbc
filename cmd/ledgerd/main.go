// Command ledgerd bootstraps the ledger engine: it loads configuration,
// migrates the database, ensures genesis exists, starts the background
// orphan sweeper, and blocks until it receives a termination signal. It is
// a process wrapper around pkg/engine, not a product surface in its own
// right — there is no CLI command set or REST API here (both are explicit
// non-goals); this binary only exists so the engine can run as a daemon.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreledger/privledger/pkg/config"
	"github.com/coreledger/privledger/pkg/database"
	"github.com/coreledger/privledger/pkg/engine"
)

func main() {
	var (
		sweepInterval = flag.Duration("sweep-interval", 10*time.Minute, "interval between orphan off-chain file sweeps")
		showConfig    = flag.Bool("print-config", false, "log the resolved configuration and exit")
	)
	flag.Parse()

	log.Printf("🚀 starting ledgerd")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ invalid configuration: %v", err)
	}
	if *showConfig {
		log.Printf("📋 resolved configuration: %+v", cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewClient(cfg, database.WithLogger(log.Default()))
	if err != nil {
		log.Fatalf("❌ failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		log.Fatalf("❌ database not reachable: %v", err)
	}

	if *showConfig {
		status, err := db.MigrationStatus(ctx)
		if err != nil {
			log.Fatalf("❌ failed to read migration status: %v", err)
		}
		for _, m := range status {
			log.Printf("📋 migration %s applied=%v", m.Version, m.Applied)
		}
		return
	}

	log.Printf("🔧 applying migrations")
	if err := db.MigrateUp(ctx); err != nil {
		log.Fatalf("❌ migration failed: %v", err)
	}

	eng, err := engine.New(db, cfg)
	if err != nil {
		log.Fatalf("❌ failed to construct engine: %v", err)
	}

	if err := eng.Bootstrap(ctx); err != nil {
		log.Fatalf("❌ genesis bootstrap failed: %v", err)
	}
	log.Printf("✅ chain ready")

	sweeper := eng.Sweeper(*sweepInterval, log.New(log.Writer(), "[sweeper] ", log.LstdFlags))
	sweeper.Start(ctx)
	log.Printf("🧹 orphan sweeper started (interval=%s)", *sweepInterval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("🛑 shutting down ledgerd")
	cancel()
	sweeper.Stop()
	log.Printf("✅ ledgerd stopped")
}
