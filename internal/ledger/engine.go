// Package ledger contains the consistency engine: every balance
// mutation goes through here, inside one atomic unit of work, under the
// account locks, with a matching audit entry.
package ledger

import (
	"context"
	"log/slog"

	"contas/internal/core"
	"contas/internal/storage"
)

// Engine coordinates account locks and units of work so that concurrent
// transactions and transfers leave balances consistent. The invariant it
// maintains: an account balance always equals the sum of its audit
// deltas.
type Engine struct {
	store storage.Store
	locks *LockTable
	log   *slog.Logger
}

func NewEngine(store storage.Store, locks *LockTable, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, locks: locks, log: log}
}

// TransactionPatch is a partial transaction update. Nil fields keep the
// stored value.
type TransactionPatch struct {
	AccountID   *int64
	CategoryID  *int64
	Kind        *core.TransactionKind
	Amount      *core.Money
	Paid        *bool
	Description *string
	Observation *string
}

func (p TransactionPatch) apply(t core.Transaction) core.Transaction {
	if p.AccountID != nil {
		t.AccountID = *p.AccountID
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.Kind != nil {
		t.Kind = *p.Kind
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Paid != nil {
		t.Paid = *p.Paid
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Observation != nil {
		t.Observation = *p.Observation
	}
	return t
}

// TransactionResult is the outcome of a transaction write: the stored
// row, the post-mutation snapshots of every touched account, and the
// audit entries the write produced.
type TransactionResult struct {
	Transaction core.Transaction
	Accounts    []core.Account
	Audit       []core.AuditEntry
}

// TransferResult is the outcome of a transfer. Replayed is true when an
// idempotency key matched an existing transfer and no new mutation
// happened.
type TransferResult struct {
	Transfer core.Transfer
	From     core.Account
	To       core.Account
	Audit    []core.AuditEntry
	Replayed bool
}

// CreateTransaction records a new income or expense. A paid transaction
// applies its delta to the account balance exactly once, together with
// an audit entry, in the same unit of work as the row insert.
func (e *Engine) CreateTransaction(ctx context.Context, ownerID int64, t core.Transaction) (TransactionResult, error) {
	t.OwnerID = ownerID
	if err := t.Validate(); err != nil {
		return TransactionResult{}, core.Invalid("invalid transaction", err)
	}

	release, err := e.locks.Acquire(t.AccountID)
	if err != nil {
		return TransactionResult{}, err
	}
	defer release()

	var res TransactionResult
	err = e.store.InUnit(ctx, func(u storage.Unit) error {
		account, err := u.GetAccount(ctx, t.AccountID)
		if err != nil {
			return err
		}
		if account.OwnerID != ownerID {
			return core.NotFound("account", t.AccountID)
		}

		created, err := u.CreateTransaction(ctx, t)
		if err != nil {
			return err
		}
		res.Transaction = created

		if !created.Paid {
			res.Accounts = []core.Account{account}
			return nil
		}

		delta := created.Delta()
		updated, err := u.AdjustBalance(ctx, created.AccountID, delta)
		if err != nil {
			return err
		}
		entry, err := u.AppendAudit(ctx, core.AuditEntry{
			AccountID: created.AccountID,
			Delta:     delta,
			Cause:     core.CauseTransactionCreated,
			CauseID:   created.ID,
		})
		if err != nil {
			return err
		}
		res.Accounts = []core.Account{updated}
		res.Audit = []core.AuditEntry{entry}
		return nil
	})
	if err != nil {
		return TransactionResult{}, err
	}

	e.log.InfoContext(ctx, "Transaction created",
		"id", res.Transaction.ID,
		"account_id", res.Transaction.AccountID,
		"kind", res.Transaction.Kind.String(),
		"amount", res.Transaction.Amount.String(),
		"paid", res.Transaction.Paid)
	return res, nil
}

// UpdateTransaction edits a transaction. If the stored version was paid,
// its original delta is reversed first using the stored amount, then the
// new delta is applied if the updated version is paid. Reversal and
// application land in the same unit of work, so an update can never be
// half applied.
func (e *Engine) UpdateTransaction(ctx context.Context, ownerID, id int64, patch TransactionPatch) (TransactionResult, error) {
	existing, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return TransactionResult{}, err
	}
	if existing.OwnerID != ownerID {
		return TransactionResult{}, core.NotFound("transaction", id)
	}

	lockIDs := []int64{existing.AccountID}
	if patch.AccountID != nil {
		lockIDs = append(lockIDs, *patch.AccountID)
	}
	release, err := e.locks.Acquire(lockIDs...)
	if err != nil {
		return TransactionResult{}, err
	}
	defer release()

	var res TransactionResult
	err = e.store.InUnit(ctx, func(u storage.Unit) error {
		old, err := u.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		// The account moved between the read and the lock; the lock set
		// no longer covers it, so the caller has to retry.
		if old.AccountID != existing.AccountID {
			return core.Timeout("transaction moved during update", nil)
		}

		updated := patch.apply(old)
		updated.ID = old.ID
		updated.OwnerID = old.OwnerID
		updated.CreatedAt = old.CreatedAt
		if err := updated.Validate(); err != nil {
			return core.Invalid("invalid transaction", err)
		}

		target, err := u.GetAccount(ctx, updated.AccountID)
		if err != nil {
			return err
		}
		if target.OwnerID != ownerID {
			return core.NotFound("account", updated.AccountID)
		}

		touched := make(map[int64]core.Account)
		touched[target.ID] = target

		if old.Paid {
			// Reverse with the stored amount, never the incoming one.
			reversal := old.Delta().Neg()
			snap, err := u.AdjustBalance(ctx, old.AccountID, reversal)
			if err != nil {
				return err
			}
			touched[snap.ID] = snap
			entry, err := u.AppendAudit(ctx, core.AuditEntry{
				AccountID: old.AccountID,
				Delta:     reversal,
				Cause:     core.CauseTransactionUnpaid,
				CauseID:   old.ID,
			})
			if err != nil {
				return err
			}
			res.Audit = append(res.Audit, entry)
		}

		if updated.Paid {
			delta := updated.Delta()
			snap, err := u.AdjustBalance(ctx, updated.AccountID, delta)
			if err != nil {
				return err
			}
			touched[snap.ID] = snap
			entry, err := u.AppendAudit(ctx, core.AuditEntry{
				AccountID: updated.AccountID,
				Delta:     delta,
				Cause:     core.CauseTransactionPaid,
				CauseID:   updated.ID,
			})
			if err != nil {
				return err
			}
			res.Audit = append(res.Audit, entry)
		}

		if err := u.UpdateTransaction(ctx, updated); err != nil {
			return err
		}
		res.Transaction = updated
		for _, a := range touched {
			res.Accounts = append(res.Accounts, a)
		}
		return nil
	})
	if err != nil {
		return TransactionResult{}, err
	}

	e.log.InfoContext(ctx, "Transaction updated",
		"id", res.Transaction.ID,
		"account_id", res.Transaction.AccountID,
		"paid", res.Transaction.Paid)
	return res, nil
}

// DeleteTransaction removes an unpaid transaction. Paid transactions
// have already affected a balance and cannot be deleted; edit them to
// unpaid first.
func (e *Engine) DeleteTransaction(ctx context.Context, ownerID, id int64) error {
	existing, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if existing.OwnerID != ownerID {
		return core.NotFound("transaction", id)
	}

	release, err := e.locks.Acquire(existing.AccountID)
	if err != nil {
		return err
	}
	defer release()

	err = e.store.InUnit(ctx, func(u storage.Unit) error {
		old, err := u.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if old.Paid {
			return core.Unsupported("paid transactions cannot be deleted")
		}
		return u.DeleteTransaction(ctx, id)
	})
	if err != nil {
		return err
	}

	e.log.InfoContext(ctx, "Transaction deleted", "id", id)
	return nil
}

// CreateTransfer atomically moves funds between two accounts of the same
// owner. Both balance adjustments, the transfer row and both audit
// entries commit together or not at all. A repeated idempotency key
// returns the already-stored transfer without mutating anything.
func (e *Engine) CreateTransfer(ctx context.Context, ownerID int64, t core.Transfer) (TransferResult, error) {
	if err := t.Validate(); err != nil {
		return TransferResult{}, core.Invalid("invalid transfer", err)
	}

	if t.IdempotencyKey != "" {
		if existing, err := e.store.GetTransferByKey(ctx, t.IdempotencyKey); err == nil {
			return e.replayTransfer(ctx, ownerID, existing)
		} else if !core.IsKind(err, core.KindNotFound) {
			return TransferResult{}, err
		}
	}

	release, err := e.locks.Acquire(t.FromAccountID, t.ToAccountID)
	if err != nil {
		return TransferResult{}, err
	}
	defer release()

	var res TransferResult
	err = e.store.InUnit(ctx, func(u storage.Unit) error {
		from, err := u.GetAccount(ctx, t.FromAccountID)
		if err != nil {
			return err
		}
		to, err := u.GetAccount(ctx, t.ToAccountID)
		if err != nil {
			return err
		}
		if from.OwnerID != ownerID {
			return core.NotFound("account", t.FromAccountID)
		}
		if to.OwnerID != ownerID {
			return core.NotFound("account", t.ToAccountID)
		}

		created, err := u.CreateTransfer(ctx, t)
		if err != nil {
			return err
		}

		res.From, err = u.AdjustBalance(ctx, from.ID, t.Amount.Neg())
		if err != nil {
			return err
		}
		res.To, err = u.AdjustBalance(ctx, to.ID, t.Amount)
		if err != nil {
			return err
		}

		out, err := u.AppendAudit(ctx, core.AuditEntry{
			AccountID: from.ID,
			Delta:     t.Amount.Neg(),
			Cause:     core.CauseTransferOut,
			CauseID:   created.ID,
		})
		if err != nil {
			return err
		}
		in, err := u.AppendAudit(ctx, core.AuditEntry{
			AccountID: to.ID,
			Delta:     t.Amount,
			Cause:     core.CauseTransferIn,
			CauseID:   created.ID,
		})
		if err != nil {
			return err
		}

		res.Transfer = created
		res.Audit = []core.AuditEntry{out, in}
		return nil
	})
	if err != nil {
		// Lost an idempotency race to a concurrent request; hand back the
		// transfer that won.
		if t.IdempotencyKey != "" && core.IsKind(err, core.KindDuplicate) {
			if existing, lookupErr := e.store.GetTransferByKey(ctx, t.IdempotencyKey); lookupErr == nil {
				return e.replayTransfer(ctx, ownerID, existing)
			}
		}
		return TransferResult{}, err
	}

	e.log.InfoContext(ctx, "Transfer created",
		"id", res.Transfer.ID,
		"from_account_id", res.Transfer.FromAccountID,
		"to_account_id", res.Transfer.ToAccountID,
		"amount", res.Transfer.Amount.String())
	return res, nil
}

func (e *Engine) replayTransfer(ctx context.Context, ownerID int64, existing core.Transfer) (TransferResult, error) {
	from, err := e.store.GetAccount(ctx, existing.FromAccountID)
	if err != nil {
		return TransferResult{}, err
	}
	// Someone else's idempotency key must not hand out their transfer or
	// their balances; the stored transfer reads as absent.
	if from.OwnerID != ownerID {
		return TransferResult{}, core.NotFound("transfer", existing.ID)
	}
	to, err := e.store.GetAccount(ctx, existing.ToAccountID)
	if err != nil {
		return TransferResult{}, err
	}
	e.log.InfoContext(ctx, "Transfer replayed from idempotency key", "id", existing.ID)
	return TransferResult{Transfer: existing, From: from, To: to, Replayed: true}, nil
}

// ReplayBalance recomputes an account balance from its audit trail. The
// result must equal the stored balance; a mismatch means the audit
// invariant was broken.
func (e *Engine) ReplayBalance(ctx context.Context, accountID int64) (core.Money, error) {
	entries, err := e.store.ListAuditByAccount(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	var sum core.Money
	for _, entry := range entries {
		sum = sum.Add(entry.Delta)
	}
	return sum, nil
}
