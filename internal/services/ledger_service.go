// Package services composes the ledger engine with side channels such
// as the export pipeline. Handlers talk to this layer, not the engine.
package services

import (
	"context"
	"log/slog"

	"contas/internal/core"
	"contas/internal/ledger"
)

// EventPublisher announces committed audit entries downstream. The
// AMQP client implements it; tests use a stub.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, auditID, accountID int64) error
}

// LedgerService runs ledger writes and, after they commit, hands the
// resulting audit entries to the export pipeline. Publishing is best
// effort: the worker's catch-up pass picks up anything that was lost.
type LedgerService struct {
	engine    *ledger.Engine
	publisher EventPublisher
	log       *slog.Logger
}

func NewLedgerService(engine *ledger.Engine, publisher EventPublisher, log *slog.Logger) *LedgerService {
	if log == nil {
		log = slog.Default()
	}
	return &LedgerService{engine: engine, publisher: publisher, log: log}
}

func (s *LedgerService) CreateTransaction(ctx context.Context, ownerID int64, t core.Transaction) (ledger.TransactionResult, error) {
	res, err := s.engine.CreateTransaction(ctx, ownerID, t)
	if err != nil {
		return ledger.TransactionResult{}, err
	}
	s.publishAudit(ctx, res.Audit)
	return res, nil
}

func (s *LedgerService) UpdateTransaction(ctx context.Context, ownerID, id int64, patch ledger.TransactionPatch) (ledger.TransactionResult, error) {
	res, err := s.engine.UpdateTransaction(ctx, ownerID, id, patch)
	if err != nil {
		return ledger.TransactionResult{}, err
	}
	s.publishAudit(ctx, res.Audit)
	return res, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, ownerID, id int64) error {
	return s.engine.DeleteTransaction(ctx, ownerID, id)
}

func (s *LedgerService) CreateTransfer(ctx context.Context, ownerID int64, t core.Transfer) (ledger.TransferResult, error) {
	res, err := s.engine.CreateTransfer(ctx, ownerID, t)
	if err != nil {
		return ledger.TransferResult{}, err
	}
	if !res.Replayed {
		s.publishAudit(ctx, res.Audit)
	}
	return res, nil
}

func (s *LedgerService) ReplayBalance(ctx context.Context, accountID int64) (core.Money, error) {
	return s.engine.ReplayBalance(ctx, accountID)
}

func (s *LedgerService) publishAudit(ctx context.Context, entries []core.AuditEntry) {
	if s.publisher == nil {
		return
	}
	for _, entry := range entries {
		if err := s.publisher.PublishLedgerEvent(ctx, entry.ID, entry.AccountID); err != nil {
			s.log.ErrorContext(ctx, "Failed to publish ledger event",
				"error", err,
				"audit_id", entry.ID)
		}
	}
}
