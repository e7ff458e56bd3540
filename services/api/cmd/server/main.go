package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"agrichain/pkg/archive"
	"agrichain/pkg/audit"
	"agrichain/pkg/compliance"
	"agrichain/pkg/db"
	"agrichain/pkg/ident"
	"agrichain/pkg/ledger"
	"agrichain/pkg/ops"
	"agrichain/services/api/internal/rt"
	"agrichain/services/api/internal/server"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := context.Background()

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "5000"
	}

	// The archive is optional: no DATABASE_URL (or an unreachable one) means
	// the service runs purely in memory, like the original without its
	// document store.
	var store *archive.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && os.Getenv("ARCHIVE_DISABLED") == "" {
		pool, err := db.Connect(ctx, dsn)
		if err != nil {
			log.Warn("archive unavailable, running without persistence", "err", err)
		} else {
			store = archive.New(pool, log)
			if err := store.EnsureSchema(ctx); err != nil {
				log.Warn("archive schema setup failed, running without persistence", "err", err)
				store = nil
			}
		}
	}

	led := ledger.New()
	if store != nil {
		blocks, err := store.LoadBlocks(ctx)
		if err != nil {
			log.Warn("archive replay failed, starting fresh chain", "err", err)
		} else if len(blocks) > 0 {
			replayed, err := ledger.Load(blocks)
			if err != nil {
				log.Error("archived chain failed verification, starting fresh chain", "err", err)
			} else {
				led = replayed
				log.Info("chain replayed from archive", "blocks", led.Len())
			}
		}
	}

	ids := ident.UUID{}
	trail := audit.New(ids)
	engine := compliance.New(trail, ids)
	operations := ops.New()
	hub := rt.NewHub(log)

	srv := server.New(server.Config{
		Log:     log,
		Ledger:  led,
		Trail:   trail,
		Engine:  engine,
		Ops:     operations,
		Hub:     hub,
		Archive: store,
	})

	log.Info("agrichain api listening", "port", port, "persistence", store != nil)
	if err := http.ListenAndServe(":"+port, srv); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}
