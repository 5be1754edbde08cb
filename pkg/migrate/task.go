package migrate

import (
	"context"
	"log/slog"
	"time"

	"schemadb/pkg/encoding"
	"schemadb/pkg/types"
)

// migrationTask pulls the full definition set from one peer, merges it and
// re-advertises the resulting version. It runs once on the apply stage and
// is discarded after success or failure; a failed pull is retried only by
// the next divergence signal, never by the task itself.
type migrationTask struct {
	m       *Manager
	target  types.NodeID
	created time.Time
}

func (t *migrationTask) run() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.m.pullTimeout)
	defer cancel()

	slog.Debug("pulling schema", "peer", t.target, "queued_for", time.Since(t.created))
	data, err := t.m.client.PullSchema(ctx, t.target)
	if err != nil {
		slog.Warn("schema pull failed", "peer", t.target, "error", err)
		t.m.metrics.IncCounter("schema_pull_failures_total", nil, 1)
		return err
	}

	b, err := encoding.DecodeBatch(data)
	if err != nil {
		slog.Warn("discarding corrupt schema response", "peer", t.target, "error", err)
		t.m.metrics.IncCounter("schema_decode_failures_total", nil, 1)
		return err
	}

	if err := t.m.applyBatch(b); err != nil {
		return err
	}
	t.m.metrics.IncCounter("schema_pulls_total", nil, 1)
	slog.Info("merged schema from peer", "peer", t.target, "records", len(b), "version", t.m.sch.Version())
	return nil
}
