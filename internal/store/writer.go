// Package store persists converged simulation results to Postgres, so
// sweeps over many generated configurations can be queried afterwards.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nsg-ethz/bgpsim/internal/metrics"
	"github.com/nsg-ethz/bgpsim/network"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS simulation_runs (
	run_id      text PRIMARY KEY,
	created_at  timestamptz NOT NULL DEFAULT now(),
	converged   boolean NOT NULL,
	snapshot    bytea
);
CREATE TABLE IF NOT EXISTS forwarding_entries (
	run_id      text NOT NULL REFERENCES simulation_runs(run_id) ON DELETE CASCADE,
	router      text NOT NULL,
	prefix      text NOT NULL,
	next_hops   text[] NOT NULL,
	as_path     text NOT NULL,
	local_pref  bigint NOT NULL,
	med         bigint NOT NULL,
	PRIMARY KEY (run_id, router, prefix)
);
`

// Migrate creates the result tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: creating schema: %w", err)
	}
	return nil
}

type Writer struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewWriter(pool *pgxpool.Pool, logger *zap.Logger) *Writer {
	return &Writer{pool: pool, logger: logger}
}

// WriteRun stores one simulation outcome: the run row, its serialized
// snapshot, and a forwarding entry per (router, prefix).
func (w *Writer) WriteRun(ctx context.Context, runID string, n *network.Network, converged bool) error {
	start := time.Now()

	snap, err := n.Serialize()
	if err != nil {
		return fmt.Errorf("store: serializing run %s: %w", runID, err)
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO simulation_runs (run_id, converged, snapshot) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id) DO UPDATE SET converged = $2, snapshot = $3`,
		runID, converged, snap,
	); err != nil {
		return fmt.Errorf("store: upsert run: %w", err)
	}

	if converged {
		fs, err := n.ForwardingState()
		if err != nil {
			return fmt.Errorf("store: forwarding state: %w", err)
		}
		batch := &pgx.Batch{}
		rows := 0
		for _, fr := range fs.Routers {
			for _, e := range fr.Entries {
				hops := make([]string, len(e.NextHops))
				for i, h := range e.NextHops {
					hops[i] = n.Name(h)
				}
				batch.Queue(
					`INSERT INTO forwarding_entries (run_id, router, prefix, next_hops, as_path, local_pref, med)
					 VALUES ($1, $2, $3, $4, $5, $6, $7)
					 ON CONFLICT (run_id, router, prefix) DO UPDATE
					 SET next_hops = $4, as_path = $5, local_pref = $6, med = $7`,
					runID, fr.Name, e.Prefix.String(), hops, e.Route.PathString(),
					int64(e.Route.LocalPref), int64(e.Route.Med),
				)
				rows++
			}
		}
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < rows; i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("store: batch insert: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("store: closing batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	metrics.StoreWriteDuration.WithLabelValues("write_run").Observe(time.Since(start).Seconds())
	w.logger.Info("stored simulation run",
		zap.String("run_id", runID),
		zap.Bool("converged", converged),
	)
	return nil
}
