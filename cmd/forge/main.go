// Command forge runs the orchestration server: a discrete job pool and a
// streaming pipeline of textstat workers behind an HTTP API.
package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/forge/internal/api"
	"github.com/seantiz/forge/internal/config"
	"github.com/seantiz/forge/internal/pool"
	"github.com/seantiz/forge/internal/store"
	"github.com/seantiz/forge/internal/stream"
	"github.com/seantiz/forge/internal/textstat"
	"github.com/seantiz/forge/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("forge: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"pool_size", cfg.PoolSize,
		"worker_bin", cfg.WorkerBin,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	var factory worker.Factory
	if cfg.WorkerBin != "" {
		factory = textstat.ProcFactory(cfg.WorkerBin)
	} else {
		factory = textstat.InProcFactory()
	}

	p, err := pool.New[textstat.Request, textstat.Stats](
		textstat.JobIntegration{Factory: factory},
		pool.Options{
			Size:           cfg.PoolSize,
			QueueMax:       cfg.QueueMax,
			OpTimeout:      cfg.OpTimeout,
			HealthInterval: cfg.HealthInterval,
			Handshake:      textstat.Handshake(),
			Logger:         logger,
			OnSettle: func(rec pool.Record) {
				err := db.InsertRecord(context.Background(), &store.Record{
					ID:          rec.JobID,
					Hash:        rec.Hash,
					Priority:    rec.Priority,
					Outcome:     rec.Outcome,
					DurationMS:  rec.Duration.Milliseconds(),
					SubmittedAt: rec.SubmittedAt,
					SettledAt:   rec.SettledAt,
				})
				if err != nil {
					logger.Error("record settled job", "job_id", rec.JobID, "error", err)
				}
			},
		},
	)
	if err != nil {
		log.Fatalf("failed to start pool: %v", err)
	}
	defer p.Shutdown()

	pl, err := stream.New[textstat.Request, textstat.Segment, textstat.Stats](
		textstat.StreamIntegration{Factory: factory},
		stream.Options{
			Handshake:     textstat.Handshake(),
			Tags:          textstat.StreamTags(),
			CancelTimeout: cfg.CancelTimeout,
			Logger:        logger,
		},
	)
	if err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}
	defer pl.Close()

	srv := api.NewServer(cfg.ListenAddr, p, pl, stream.NewBroker(), db, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
