// Package worker exports committed audit entries to the external
// statement. It consumes AMQP events and runs a periodic catch-up pass
// so nothing is lost when messages go missing.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"contas/internal/amqp"
	"contas/internal/core"
	"contas/internal/sheets"
	"contas/internal/storage"
)

// Store is the storage slice the worker needs: audit export tracking
// plus account lookup for the statement's account column.
type Store interface {
	storage.ExportStore
	GetAccount(ctx context.Context, id int64) (core.Account, error)
}

// Consumer is the message source. The AMQP client implements it.
type Consumer interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(*amqp.LedgerEventMessage) error) error
}

type ExportWorker struct {
	store     Store
	writer    sheets.StatementWriter
	consumer  Consumer
	batchSize int
	interval  time.Duration
}

func NewExportWorker(store Store, writer sheets.StatementWriter, consumer Consumer, batchSize int, interval time.Duration) *ExportWorker {
	return &ExportWorker{
		store:     store,
		writer:    writer,
		consumer:  consumer,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run blocks until ctx is cancelled. The event consumer and the
// catch-up loop run concurrently; either failing stops the worker.
func (w *ExportWorker) Run(ctx context.Context) error {
	// Drain whatever accumulated while the worker was down.
	if err := w.ProcessPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup catch-up failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if w.consumer != nil {
		g.Go(func() error {
			return w.consumer.ConsumeLedgerEvents(ctx, func(msg *amqp.LedgerEventMessage) error {
				return w.ExportEntry(ctx, msg.AuditID)
			})
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := w.ProcessPending(ctx); err != nil {
					slog.ErrorContext(ctx, "Catch-up pass failed", "error", err)
				}
			}
		}
	})

	return g.Wait()
}

// ExportEntry writes one audit entry to the statement and marks it
// exported. Re-exporting an already-exported entry is harmless but
// avoided by the mark.
func (w *ExportWorker) ExportEntry(ctx context.Context, auditID int64) error {
	entry, err := w.store.GetAuditEntry(ctx, auditID)
	if err != nil {
		return fmt.Errorf("get audit entry: %w", err)
	}

	account, err := w.store.GetAccount(ctx, entry.AccountID)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}

	if err := w.writer.Append(ctx, entry, account.Name); err != nil {
		return fmt.Errorf("append statement row: %w", err)
	}

	if err := w.store.MarkAuditExported(ctx, entry.ID); err != nil {
		// The row landed; the mark is bookkeeping. Log and move on.
		slog.ErrorContext(ctx, "Failed to mark audit entry exported",
			"audit_id", entry.ID, "error", err)
	}
	return nil
}

// ProcessPending exports entries the event stream missed, oldest first.
func (w *ExportWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.store.ListUnexportedAudit(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list unexported audit entries: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending statement rows", "count", len(pending))

	for _, entry := range pending {
		if err := w.ExportEntry(ctx, entry.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export audit entry",
				"audit_id", entry.ID, "error", err)
			continue
		}
	}
	return nil
}
