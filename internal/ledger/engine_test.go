package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"contas/internal/core"
	"contas/internal/storage"
	"contas/internal/storage/memory"
)

func newTestEngine(t *testing.T) (*Engine, *memory.Repository, int64) {
	t.Helper()
	repo := memory.NewRepository()
	user, err := repo.CreateUser(context.Background(), core.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	engine := NewEngine(repo, NewLockTable(time.Second), nil)
	return engine, repo, user.ID
}

func mustAccount(t *testing.T, repo *memory.Repository, ownerID int64, name string, openingCents int64) core.Account {
	t.Helper()
	a, err := repo.CreateAccount(context.Background(), core.Account{
		OwnerID: ownerID,
		Name:    name,
		Type:    core.Checking,
		Balance: core.Money{Cents: openingCents},
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return a
}

func balance(t *testing.T, repo *memory.Repository, id int64) int64 {
	t.Helper()
	a, err := repo.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("get account %d: %v", id, err)
	}
	return a.Balance.Cents
}

func TestCreateTransactionPaid(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	acc := mustAccount(t, repo, owner, "checking", 0)
	ctx := context.Background()

	res, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID:   acc.ID,
		Kind:        core.Income,
		Amount:      core.Money{Cents: 10000},
		Paid:        true,
		Description: "salary",
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	if got := balance(t, repo, acc.ID); got != 10000 {
		t.Fatalf("balance expected 10000, got %d", got)
	}
	if len(res.Audit) != 1 || res.Audit[0].Cause != core.CauseTransactionCreated {
		t.Fatalf("expected one transaction_created audit entry, got %+v", res.Audit)
	}
	if res.Audit[0].Delta.Cents != 10000 {
		t.Fatalf("audit delta expected 10000, got %d", res.Audit[0].Delta.Cents)
	}
}

func TestCreateTransactionUnpaidHasNoEffect(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	acc := mustAccount(t, repo, owner, "checking", 5000)
	ctx := context.Background()

	res, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID:   acc.ID,
		Kind:        core.Expense,
		Amount:      core.Money{Cents: 2000},
		Paid:        false,
		Description: "rent",
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	if got := balance(t, repo, acc.ID); got != 5000 {
		t.Fatalf("unpaid transaction moved balance: %d", got)
	}
	if len(res.Audit) != 0 {
		t.Fatalf("unpaid transaction produced audit entries: %+v", res.Audit)
	}
}

func TestCreateTransactionWrongOwner(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	acc := mustAccount(t, repo, owner, "checking", 0)

	_, err := engine.CreateTransaction(context.Background(), owner+1, core.Transaction{
		AccountID:   acc.ID,
		Kind:        core.Income,
		Amount:      core.Money{Cents: 100},
		Paid:        true,
		Description: "x",
	})
	if !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("expected not_found for foreign account, got %v", err)
	}
}

// Updating a paid transaction must reverse using the amount that was
// stored, then apply the new one: a 100.00 expense edited to 50.00 nets
// -50.00, not -100.00 and not -150.00.
func TestUpdateTransactionReversesStoredAmount(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	acc := mustAccount(t, repo, owner, "checking", 0)
	ctx := context.Background()

	res, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID:   acc.ID,
		Kind:        core.Expense,
		Amount:      core.Money{Cents: 10000},
		Paid:        true,
		Description: "rent",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := balance(t, repo, acc.ID); got != -10000 {
		t.Fatalf("after create expected -10000, got %d", got)
	}

	newAmount := core.Money{Cents: 5000}
	if _, err := engine.UpdateTransaction(ctx, owner, res.Transaction.ID, TransactionPatch{
		Amount: &newAmount,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := balance(t, repo, acc.ID); got != -5000 {
		t.Fatalf("after update expected -5000, got %d", got)
	}

	entries, _ := repo.ListAuditByAccount(ctx, acc.ID)
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries (create, reverse, apply), got %d", len(entries))
	}
	if entries[1].Delta.Cents != 10000 || entries[1].Cause != core.CauseTransactionUnpaid {
		t.Fatalf("reversal entry wrong: %+v", entries[1])
	}
	if entries[2].Delta.Cents != -5000 || entries[2].Cause != core.CauseTransactionPaid {
		t.Fatalf("application entry wrong: %+v", entries[2])
	}
}

// Income 100 -> transfer 30 out -> income edited to 60 leaves 30.
func TestUpdateAfterTransferUsesStoredAmount(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	a := mustAccount(t, repo, owner, "a", 0)
	b := mustAccount(t, repo, owner, "b", 0)
	ctx := context.Background()

	res, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID:   a.ID,
		Kind:        core.Income,
		Amount:      core.Money{Cents: 10000},
		Paid:        true,
		Description: "salary",
	})
	if err != nil {
		t.Fatalf("create income: %v", err)
	}

	if _, err := engine.CreateTransfer(ctx, owner, core.Transfer{
		FromAccountID: a.ID,
		ToAccountID:   b.ID,
		Amount:        core.Money{Cents: 3000},
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := balance(t, repo, a.ID); got != 7000 {
		t.Fatalf("after transfer expected 7000, got %d", got)
	}

	newAmount := core.Money{Cents: 6000}
	if _, err := engine.UpdateTransaction(ctx, owner, res.Transaction.ID, TransactionPatch{
		Amount: &newAmount,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := balance(t, repo, a.ID); got != 3000 {
		t.Fatalf("account a expected 3000, got %d", got)
	}
	if got := balance(t, repo, b.ID); got != 3000 {
		t.Fatalf("account b expected 3000, got %d", got)
	}
}

func TestUpdateTransactionPaidToggle(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	acc := mustAccount(t, repo, owner, "checking", 0)
	ctx := context.Background()

	res, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID:   acc.ID,
		Kind:        core.Income,
		Amount:      core.Money{Cents: 2500},
		Paid:        true,
		Description: "gift",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	unpaid := false
	if _, err := engine.UpdateTransaction(ctx, owner, res.Transaction.ID, TransactionPatch{Paid: &unpaid}); err != nil {
		t.Fatalf("mark unpaid: %v", err)
	}
	if got := balance(t, repo, acc.ID); got != 0 {
		t.Fatalf("after unpaid expected 0, got %d", got)
	}

	paid := true
	if _, err := engine.UpdateTransaction(ctx, owner, res.Transaction.ID, TransactionPatch{Paid: &paid}); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if got := balance(t, repo, acc.ID); got != 2500 {
		t.Fatalf("after repaid expected 2500, got %d", got)
	}

	// Each actual transition produced exactly one reversal or one
	// application, never both doubled.
	entries, _ := repo.ListAuditByAccount(ctx, acc.ID)
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(entries))
	}
}

func TestUpdateTransactionMoveAccount(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	a := mustAccount(t, repo, owner, "a", 0)
	b := mustAccount(t, repo, owner, "b", 0)
	ctx := context.Background()

	res, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID:   a.ID,
		Kind:        core.Expense,
		Amount:      core.Money{Cents: 4000},
		Paid:        true,
		Description: "utilities",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := engine.UpdateTransaction(ctx, owner, res.Transaction.ID, TransactionPatch{
		AccountID: &b.ID,
	}); err != nil {
		t.Fatalf("move: %v", err)
	}

	if got := balance(t, repo, a.ID); got != 0 {
		t.Fatalf("source account expected 0, got %d", got)
	}
	if got := balance(t, repo, b.ID); got != -4000 {
		t.Fatalf("target account expected -4000, got %d", got)
	}
}

func TestDeleteTransaction(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	acc := mustAccount(t, repo, owner, "checking", 0)
	ctx := context.Background()

	unpaid, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID:   acc.ID,
		Kind:        core.Expense,
		Amount:      core.Money{Cents: 100},
		Description: "pending",
	})
	if err != nil {
		t.Fatalf("create unpaid: %v", err)
	}
	if err := engine.DeleteTransaction(ctx, owner, unpaid.Transaction.ID); err != nil {
		t.Fatalf("delete unpaid: %v", err)
	}
	if _, err := repo.GetTransaction(ctx, unpaid.Transaction.ID); !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("deleted transaction still present")
	}

	paid, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID:   acc.ID,
		Kind:        core.Expense,
		Amount:      core.Money{Cents: 100},
		Paid:        true,
		Description: "done",
	})
	if err != nil {
		t.Fatalf("create paid: %v", err)
	}
	if err := engine.DeleteTransaction(ctx, owner, paid.Transaction.ID); !core.IsKind(err, core.KindUnsupported) {
		t.Fatalf("paid delete expected unsupported, got %v", err)
	}
}

func TestCreateTransferConservation(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	a := mustAccount(t, repo, owner, "a", 10000)
	b := mustAccount(t, repo, owner, "b", 0)
	ctx := context.Background()

	res, err := engine.CreateTransfer(ctx, owner, core.Transfer{
		FromAccountID: a.ID,
		ToAccountID:   b.ID,
		Amount:        core.Money{Cents: 3000},
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := balance(t, repo, a.ID); got != 7000 {
		t.Fatalf("source expected 7000, got %d", got)
	}
	if got := balance(t, repo, b.ID); got != 3000 {
		t.Fatalf("target expected 3000, got %d", got)
	}
	if len(res.Audit) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(res.Audit))
	}
	if res.Audit[0].Cause != core.CauseTransferOut || res.Audit[1].Cause != core.CauseTransferIn {
		t.Fatalf("audit causes wrong: %+v", res.Audit)
	}
	if res.Audit[0].Delta.Cents+res.Audit[1].Delta.Cents != 0 {
		t.Fatalf("transfer audit deltas do not cancel")
	}
}

func TestCreateTransferValidation(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	a := mustAccount(t, repo, owner, "a", 1000)
	ctx := context.Background()

	_, err := engine.CreateTransfer(ctx, owner, core.Transfer{
		FromAccountID: a.ID,
		ToAccountID:   a.ID,
		Amount:        core.Money{Cents: 100},
	})
	if !core.IsKind(err, core.KindValidation) {
		t.Fatalf("same-account transfer expected validation error, got %v", err)
	}

	_, err = engine.CreateTransfer(ctx, owner, core.Transfer{
		FromAccountID: a.ID,
		ToAccountID:   999,
		Amount:        core.Money{Cents: 100},
	})
	if !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("missing account expected not_found, got %v", err)
	}
}

func TestCreateTransferIdempotencyReplay(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	a := mustAccount(t, repo, owner, "a", 10000)
	b := mustAccount(t, repo, owner, "b", 0)
	ctx := context.Background()

	req := core.Transfer{
		FromAccountID:  a.ID,
		ToAccountID:    b.ID,
		Amount:         core.Money{Cents: 2500},
		IdempotencyKey: "transfer-abc",
	}

	first, err := engine.CreateTransfer(ctx, owner, req)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	if first.Replayed {
		t.Fatalf("first transfer marked replayed")
	}

	second, err := engine.CreateTransfer(ctx, owner, req)
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("second transfer not marked replayed")
	}
	if second.Transfer.ID != first.Transfer.ID {
		t.Fatalf("replay returned a different transfer")
	}

	// Funds moved exactly once
	if got := balance(t, repo, a.ID); got != 7500 {
		t.Fatalf("source expected 7500, got %d", got)
	}
	if got := balance(t, repo, b.ID); got != 2500 {
		t.Fatalf("target expected 2500, got %d", got)
	}
}

// An idempotency key belongs to the user whose transfer it created.
// Another user reusing it must not receive that transfer or the account
// balances behind it.
func TestCreateTransferIdempotencyKeyOfOtherUser(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	a := mustAccount(t, repo, owner, "a", 10000)
	b := mustAccount(t, repo, owner, "b", 0)
	ctx := context.Background()

	if _, err := engine.CreateTransfer(ctx, owner, core.Transfer{
		FromAccountID:  a.ID,
		ToAccountID:    b.ID,
		Amount:         core.Money{Cents: 2500},
		IdempotencyKey: "shared-key",
	}); err != nil {
		t.Fatalf("first transfer: %v", err)
	}

	other, err := repo.CreateUser(ctx, core.User{
		Username:     "mallory",
		Email:        "mallory@example.com",
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create second user: %v", err)
	}
	ma := mustAccount(t, repo, other.ID, "ma", 5000)
	mb := mustAccount(t, repo, other.ID, "mb", 0)

	res, err := engine.CreateTransfer(ctx, other.ID, core.Transfer{
		FromAccountID:  ma.ID,
		ToAccountID:    mb.ID,
		Amount:         core.Money{Cents: 100},
		IdempotencyKey: "shared-key",
	})
	if !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("foreign idempotency key expected not_found, got %v (res %+v)", err, res)
	}
	if res.Replayed || res.Transfer.ID != 0 {
		t.Fatalf("foreign key leaked a transfer: %+v", res)
	}
	if res.From.ID != 0 || res.To.ID != 0 {
		t.Fatalf("foreign key leaked account snapshots: %+v", res)
	}

	// Nothing moved on either side.
	if got := balance(t, repo, a.ID); got != 7500 {
		t.Fatalf("first user's source expected 7500, got %d", got)
	}
	if got := balance(t, repo, ma.ID); got != 5000 {
		t.Fatalf("second user's source expected 5000, got %d", got)
	}
}

func TestConcurrentTransactionsSingleApplication(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	acc := mustAccount(t, repo, owner, "checking", 0)
	ctx := context.Background()

	const n = 50
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := engine.CreateTransaction(ctx, owner, core.Transaction{
				AccountID:   acc.ID,
				Kind:        core.Expense,
				Amount:      core.Money{Cents: 1},
				Paid:        true,
				Description: "tick",
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent creates: %v", err)
	}

	if got := balance(t, repo, acc.ID); got != -n {
		t.Fatalf("balance expected %d, got %d", -n, got)
	}
	entries, _ := repo.ListAuditByAccount(ctx, acc.ID)
	if len(entries) != n {
		t.Fatalf("expected %d audit entries, got %d", n, len(entries))
	}
	replayed, err := engine.ReplayBalance(ctx, acc.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Cents != -n {
		t.Fatalf("replayed balance expected %d, got %d", -n, replayed.Cents)
	}
}

// Opposite-direction transfers run concurrently without deadlock and
// conserve the total.
func TestConcurrentOppositeTransfers(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	a := mustAccount(t, repo, owner, "a", 10000)
	b := mustAccount(t, repo, owner, "b", 10000)
	ctx := context.Background()

	const rounds = 20
	var g errgroup.Group
	for i := 0; i < rounds; i++ {
		g.Go(func() error {
			_, err := engine.CreateTransfer(ctx, owner, core.Transfer{
				FromAccountID: a.ID,
				ToAccountID:   b.ID,
				Amount:        core.Money{Cents: 100},
			})
			return err
		})
		g.Go(func() error {
			_, err := engine.CreateTransfer(ctx, owner, core.Transfer{
				FromAccountID: b.ID,
				ToAccountID:   a.ID,
				Amount:        core.Money{Cents: 100},
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent transfers: %v", err)
	}

	totalA := balance(t, repo, a.ID)
	totalB := balance(t, repo, b.ID)
	if totalA+totalB != 20000 {
		t.Fatalf("conservation broken: %d + %d != 20000", totalA, totalB)
	}

	for _, id := range []int64{a.ID, b.ID} {
		replayed, err := engine.ReplayBalance(ctx, id)
		if err != nil {
			t.Fatalf("replay %d: %v", id, err)
		}
		if got := balance(t, repo, id); replayed.Cents != got {
			t.Fatalf("account %d: replayed %d != stored %d", id, replayed.Cents, got)
		}
	}
}

// failAuditStore makes every AppendAudit fail, forcing units to abort
// partway through.
type failAuditStore struct {
	storage.Store
}

func (s *failAuditStore) InUnit(ctx context.Context, fn func(u storage.Unit) error) error {
	return s.Store.InUnit(ctx, func(u storage.Unit) error {
		return fn(&failAuditUnit{Unit: u})
	})
}

type failAuditUnit struct {
	storage.Unit
}

func (u *failAuditUnit) AppendAudit(ctx context.Context, e core.AuditEntry) (core.AuditEntry, error) {
	return core.AuditEntry{}, core.Storage("append audit entry", errors.New("forced failure"))
}

func TestUnitAbortLeavesNoPartialState(t *testing.T) {
	_, repo, owner := newTestEngine(t)
	acc := mustAccount(t, repo, owner, "checking", 5000)
	ctx := context.Background()

	engine := NewEngine(&failAuditStore{Store: repo}, NewLockTable(time.Second), nil)

	_, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID:   acc.ID,
		Kind:        core.Expense,
		Amount:      core.Money{Cents: 2000},
		Paid:        true,
		Description: "doomed",
	})
	if !core.IsKind(err, core.KindStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}

	// Balance untouched, no transaction row, no audit beyond opening.
	if got := balance(t, repo, acc.ID); got != 5000 {
		t.Fatalf("aborted unit moved balance: %d", got)
	}
	txs, total, _ := repo.ListTransactionsByOwner(ctx, owner, storage.TransactionFilter{}, storage.Page{Number: 1, PerPage: 10})
	if total != 0 || len(txs) != 0 {
		t.Fatalf("aborted unit left a transaction behind")
	}

	_, err = engine.CreateTransfer(ctx, owner, core.Transfer{
		FromAccountID: acc.ID,
		ToAccountID:   mustAccount(t, repo, owner, "other", 0).ID,
		Amount:        core.Money{Cents: 1000},
	})
	if !core.IsKind(err, core.KindStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if got := balance(t, repo, acc.ID); got != 5000 {
		t.Fatalf("aborted transfer moved balance: %d", got)
	}
}

func TestLockTimeoutSurfacesAsTimeout(t *testing.T) {
	_, repo, owner := newTestEngine(t)
	acc := mustAccount(t, repo, owner, "checking", 0)
	ctx := context.Background()

	locks := NewLockTable(50 * time.Millisecond)
	engine := NewEngine(repo, locks, nil)

	release, err := locks.Acquire(acc.ID)
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer release()

	_, err = engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID:   acc.ID,
		Kind:        core.Income,
		Amount:      core.Money{Cents: 100},
		Paid:        true,
		Description: "blocked",
	})
	if !core.IsKind(err, core.KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !core.Retryable(err) {
		t.Fatalf("timeout must be retryable")
	}
}

func TestReplayBalanceReconstruction(t *testing.T) {
	engine, repo, owner := newTestEngine(t)
	a := mustAccount(t, repo, owner, "a", 12345)
	b := mustAccount(t, repo, owner, "b", 0)
	ctx := context.Background()

	if _, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID: a.ID, Kind: core.Income, Amount: core.Money{Cents: 700}, Paid: true, Description: "i",
	}); err != nil {
		t.Fatalf("income: %v", err)
	}
	if _, err := engine.CreateTransaction(ctx, owner, core.Transaction{
		AccountID: a.ID, Kind: core.Expense, Amount: core.Money{Cents: 300}, Paid: true, Description: "e",
	}); err != nil {
		t.Fatalf("expense: %v", err)
	}
	if _, err := engine.CreateTransfer(ctx, owner, core.Transfer{
		FromAccountID: a.ID, ToAccountID: b.ID, Amount: core.Money{Cents: 45},
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	for _, id := range []int64{a.ID, b.ID} {
		replayed, err := engine.ReplayBalance(ctx, id)
		if err != nil {
			t.Fatalf("replay %d: %v", id, err)
		}
		if got := balance(t, repo, id); replayed.Cents != got {
			t.Fatalf("account %d: replayed %d != stored %d", id, replayed.Cents, got)
		}
	}
}
