package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"contas/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the durable Store backed by a single SQLite file.
// All multi-entity writes go through InUnit; one write transaction per
// unit gives the all-or-nothing guarantee the ledger engine relies on.
type SQLiteRepository struct {
	db *sql.DB
}

// Interface conformance
var (
	_ Store       = (*SQLiteRepository)(nil)
	_ ExportStore = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Units are write transactions; starting them immediate means lock
	// acquisition happens at BEGIN and waits on the busy timeout, rather
	// than failing on a deferred read-to-write upgrade mid-unit.
	// The pragmas ride in the DSN so every pooled connection gets them:
	// writers queue behind the busy timeout instead of failing instantly,
	// and expiry of the timeout surfaces as a retryable KindTimeout.
	db, err := sql.Open("sqlite", dbPath+"?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InUnit implements UnitRunner. fn runs inside one SQLite transaction;
// any error rolls the whole unit back.
func (r *SQLiteRepository) InUnit(ctx context.Context, fn func(u Unit) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin unit", err)
	}

	if err := fn(&sqliteUnit{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Unit rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit unit", err)
	}
	return nil
}

// dbtx is what the shared query helpers need from *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteUnit exposes the write surface of one open transaction.
type sqliteUnit struct {
	tx *sql.Tx
}

var _ Unit = (*sqliteUnit)(nil)

func (u *sqliteUnit) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	return getAccount(ctx, u.tx, id)
}

func (u *sqliteUnit) AdjustBalance(ctx context.Context, accountID int64, delta core.Money) (core.Account, error) {
	return adjustBalance(ctx, u.tx, accountID, delta)
}

func (u *sqliteUnit) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	return createTransaction(ctx, u.tx, t)
}

func (u *sqliteUnit) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return getTransaction(ctx, u.tx, id)
}

func (u *sqliteUnit) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	return updateTransaction(ctx, u.tx, t)
}

func (u *sqliteUnit) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := u.tx.ExecContext(ctx, "DELETE FROM ledger_transaction WHERE id = ?", id)
	if err != nil {
		return classify("delete transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("delete transaction", err)
	}
	if n == 0 {
		return core.NotFound("transaction", id)
	}
	return nil
}

func (u *sqliteUnit) CreateTransfer(ctx context.Context, t core.Transfer) (core.Transfer, error) {
	return createTransfer(ctx, u.tx, t)
}

func (u *sqliteUnit) AppendAudit(ctx context.Context, e core.AuditEntry) (core.AuditEntry, error) {
	return appendAudit(ctx, u.tx, e)
}

// --- accounts ---

const accountColumns = "id, owner_id, name, account_type, balance_cents, sum_on_dashboard, created_at"

func scanAccount(row interface{ Scan(...any) error }) (core.Account, error) {
	var a core.Account
	var accType int64
	var sumOnDash int64
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &accType, &a.Balance.Cents, &sumOnDash, &a.CreatedAt)
	if err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(accType)
	a.SumOnDashboard = sumOnDash != 0
	return a, nil
}

func getAccount(ctx context.Context, q dbtx, id int64) (core.Account, error) {
	row := q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM account WHERE id = ?", id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.NotFound("account", id)
	}
	if err != nil {
		return core.Account{}, classify("get account", err)
	}
	return a, nil
}

func adjustBalance(ctx context.Context, q dbtx, accountID int64, delta core.Money) (core.Account, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE account SET balance_cents = balance_cents + ? WHERE id = ?",
		delta.Cents, accountID)
	if err != nil {
		return core.Account{}, classify("adjust balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Account{}, classify("adjust balance", err)
	}
	if n == 0 {
		return core.Account{}, core.NotFound("account", accountID)
	}
	return getAccount(ctx, q, accountID)
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, core.Invalid("invalid account", err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Account{}, classify("create account", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO account (owner_id, name, account_type, balance_cents, sum_on_dashboard, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.OwnerID, a.Name, int64(a.Type), a.Balance.Cents, boolToInt(a.SumOnDashboard), now)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Account{}, core.Duplicate("an account with this name and type already exists")
		}
		return core.Account{}, classify("create account", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Account{}, classify("create account", err)
	}
	a.ID = id
	a.CreatedAt = now

	// An opening balance is a balance mutation like any other; audit it
	// so replay still reproduces the stored balance.
	if !a.Balance.IsZero() {
		if _, err := appendAudit(ctx, tx, core.AuditEntry{
			AccountID: a.ID,
			Delta:     a.Balance,
			Cause:     core.CauseAccountOpened,
			CauseID:   a.ID,
		}); err != nil {
			return core.Account{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return core.Account{}, classify("create account", err)
	}

	slog.InfoContext(ctx, "Account created",
		"id", a.ID,
		"owner_id", a.OwnerID,
		"name", a.Name,
		"account_type", int64(a.Type))
	return a, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	return getAccount(ctx, r.db, id)
}

func (r *SQLiteRepository) UpdateAccount(ctx context.Context, id int64, patch AccountPatch) (core.Account, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Type != nil {
		sets = append(sets, "account_type = ?")
		args = append(args, int64(*patch.Type))
	}
	if patch.SumOnDashboard != nil {
		sets = append(sets, "sum_on_dashboard = ?")
		args = append(args, boolToInt(*patch.SumOnDashboard))
	}
	if len(sets) == 0 {
		return getAccount(ctx, r.db, id)
	}
	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		"UPDATE account SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Account{}, core.Duplicate("an account with this name and type already exists")
		}
		return core.Account{}, classify("update account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Account{}, classify("update account", err)
	}
	if n == 0 {
		return core.Account{}, core.NotFound("account", id)
	}
	return getAccount(ctx, r.db, id)
}

func (r *SQLiteRepository) ListAccountsByOwner(ctx context.Context, ownerID int64, page Page) ([]core.Account, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM account WHERE owner_id = ?", ownerID).Scan(&total); err != nil {
		return nil, 0, classify("count accounts", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM account WHERE owner_id = ? ORDER BY id LIMIT ? OFFSET ?",
		ownerID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, classify("list accounts", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, classify("scan account", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list accounts", err)
	}
	return accounts, total, nil
}

// --- transactions ---

const transactionColumns = "id, account_id, owner_id, category_id, kind, amount_cents, paid, description, observation, created_at"

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var t core.Transaction
	var kind int64
	var paid int64
	err := row.Scan(&t.ID, &t.AccountID, &t.OwnerID, &t.CategoryID, &kind,
		&t.Amount.Cents, &paid, &t.Description, &t.Observation, &t.CreatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Kind = core.TransactionKind(kind)
	t.Paid = paid != 0
	return t, nil
}

func createTransaction(ctx context.Context, q dbtx, t core.Transaction) (core.Transaction, error) {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx,
		`INSERT INTO ledger_transaction (account_id, owner_id, category_id, kind, amount_cents, paid, description, observation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.OwnerID, t.CategoryID, int64(t.Kind), t.Amount.Cents,
		boolToInt(t.Paid), t.Description, t.Observation, now)
	if err != nil {
		return core.Transaction{}, classify("create transaction", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, classify("create transaction", err)
	}
	t.ID = id
	t.CreatedAt = now
	return t, nil
}

func getTransaction(ctx context.Context, q dbtx, id int64) (core.Transaction, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM ledger_transaction WHERE id = ?", id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	if err != nil {
		return core.Transaction{}, classify("get transaction", err)
	}
	return t, nil
}

func updateTransaction(ctx context.Context, q dbtx, t core.Transaction) error {
	res, err := q.ExecContext(ctx,
		`UPDATE ledger_transaction
		 SET account_id = ?, category_id = ?, kind = ?, amount_cents = ?, paid = ?, description = ?, observation = ?
		 WHERE id = ?`,
		t.AccountID, t.CategoryID, int64(t.Kind), t.Amount.Cents,
		boolToInt(t.Paid), t.Description, t.Observation, t.ID)
	if err != nil {
		return classify("update transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("update transaction", err)
	}
	if n == 0 {
		return core.NotFound("transaction", t.ID)
	}
	return nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return getTransaction(ctx, r.db, id)
}

func (r *SQLiteRepository) ListTransactionsByOwner(ctx context.Context, ownerID int64, f TransactionFilter, page Page) ([]core.Transaction, int, error) {
	where := "owner_id = ?"
	args := []any{ownerID}
	if f.Kind.Valid() {
		where += " AND kind = ?"
		args = append(args, int64(f.Kind))
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_transaction WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, classify("count transactions", err)
	}

	listArgs := append(args, page.PerPage, page.Offset())
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM ledger_transaction WHERE "+where+" ORDER BY id LIMIT ? OFFSET ?",
		listArgs...)
	if err != nil {
		return nil, 0, classify("list transactions", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, classify("scan transaction", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list transactions", err)
	}
	return txs, total, nil
}

// --- transfers ---

const transferColumns = "id, from_account_id, to_account_id, amount_cents, observation, idempotency_key, created_at"

func scanTransfer(row interface{ Scan(...any) error }) (core.Transfer, error) {
	var t core.Transfer
	err := row.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount.Cents,
		&t.Observation, &t.IdempotencyKey, &t.CreatedAt)
	if err != nil {
		return core.Transfer{}, err
	}
	return t, nil
}

func createTransfer(ctx context.Context, q dbtx, t core.Transfer) (core.Transfer, error) {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx,
		`INSERT INTO ledger_transfer (from_account_id, to_account_id, amount_cents, observation, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.FromAccountID, t.ToAccountID, t.Amount.Cents, t.Observation, t.IdempotencyKey, now)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Transfer{}, core.Duplicate("transfer with this idempotency key already exists")
		}
		return core.Transfer{}, classify("create transfer", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transfer{}, classify("create transfer", err)
	}
	t.ID = id
	t.CreatedAt = now
	return t, nil
}

func (r *SQLiteRepository) GetTransfer(ctx context.Context, id int64) (core.Transfer, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+transferColumns+" FROM ledger_transfer WHERE id = ?", id)
	t, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transfer{}, core.NotFound("transfer", id)
	}
	if err != nil {
		return core.Transfer{}, classify("get transfer", err)
	}
	return t, nil
}

func (r *SQLiteRepository) GetTransferByKey(ctx context.Context, key string) (core.Transfer, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+transferColumns+" FROM ledger_transfer WHERE idempotency_key = ?", key)
	t, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transfer{}, core.NotFound("transfer", 0)
	}
	if err != nil {
		return core.Transfer{}, classify("get transfer by key", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTransfersByAccount(ctx context.Context, accountID int64, page Page) ([]core.Transfer, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_transfer WHERE from_account_id = ? OR to_account_id = ?",
		accountID, accountID).Scan(&total); err != nil {
		return nil, 0, classify("count transfers", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+transferColumns+" FROM ledger_transfer WHERE from_account_id = ? OR to_account_id = ? ORDER BY id LIMIT ? OFFSET ?",
		accountID, accountID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, classify("list transfers", err)
	}
	defer rows.Close()

	var transfers []core.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, classify("scan transfer", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list transfers", err)
	}
	return transfers, total, nil
}

// --- audit ---

const auditColumns = "id, account_id, delta_cents, cause, cause_id, created_at"

func scanAudit(row interface{ Scan(...any) error }) (core.AuditEntry, error) {
	var e core.AuditEntry
	var cause string
	err := row.Scan(&e.ID, &e.AccountID, &e.Delta.Cents, &cause, &e.CauseID, &e.CreatedAt)
	if err != nil {
		return core.AuditEntry{}, err
	}
	e.Cause = core.AuditCause(cause)
	return e, nil
}

func appendAudit(ctx context.Context, q dbtx, e core.AuditEntry) (core.AuditEntry, error) {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx,
		`INSERT INTO audit_entry (account_id, delta_cents, cause, cause_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.AccountID, e.Delta.Cents, string(e.Cause), e.CauseID, now)
	if err != nil {
		return core.AuditEntry{}, classify("append audit entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.AuditEntry{}, classify("append audit entry", err)
	}
	e.ID = id
	e.CreatedAt = now
	return e, nil
}

func (r *SQLiteRepository) ListAuditByAccount(ctx context.Context, accountID int64) ([]core.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+auditColumns+" FROM audit_entry WHERE account_id = ? ORDER BY id", accountID)
	if err != nil {
		return nil, classify("list audit entries", err)
	}
	defer rows.Close()

	var entries []core.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, classify("scan audit entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list audit entries", err)
	}
	return entries, nil
}

func (r *SQLiteRepository) GetAuditEntry(ctx context.Context, id int64) (core.AuditEntry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+auditColumns+" FROM audit_entry WHERE id = ?", id)
	e, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.AuditEntry{}, core.NotFound("audit entry", id)
	}
	if err != nil {
		return core.AuditEntry{}, classify("get audit entry", err)
	}
	return e, nil
}

// ListUnexportedAudit returns entries not yet appended to the statement
// export, oldest first. The worker uses this as its catch-up pass.
func (r *SQLiteRepository) ListUnexportedAudit(ctx context.Context, limit int) ([]core.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+auditColumns+" FROM audit_entry WHERE exported = 0 ORDER BY id LIMIT ?", limit)
	if err != nil {
		return nil, classify("list unexported audit entries", err)
	}
	defer rows.Close()

	var entries []core.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, classify("scan audit entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list unexported audit entries", err)
	}
	return entries, nil
}

func (r *SQLiteRepository) MarkAuditExported(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE audit_entry SET exported = 1 WHERE id = ?", id)
	if err != nil {
		return classify("mark audit entry exported", err)
	}
	return nil
}

// --- users ---

const userColumns = "id, username, email, password_hash, last_seen, created_at"

func scanUser(row interface{ Scan(...any) error }) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	if err := u.Validate(); err != nil {
		return core.User{}, core.Invalid("invalid user", err)
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO user (username, email, password_hash, last_seen, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, core.Duplicate("username or email already registered")
		}
		return core.User{}, classify("create user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, classify("create user", err)
	}
	u.ID = id
	u.LastSeen = now
	u.CreatedAt = now

	slog.InfoContext(ctx, "User created", "id", u.ID, "username", u.Username)
	return u, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (core.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM user WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.NotFound("user", id)
	}
	if err != nil {
		return core.User{}, classify("get user", err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM user WHERE username = ?", username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.NotFound("user", 0)
	}
	if err != nil {
		return core.User{}, classify("get user by username", err)
	}
	return u, nil
}

func (r *SQLiteRepository) TouchLastSeen(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE user SET last_seen = ? WHERE id = ?", time.Now().UTC(), userID)
	if err != nil {
		return classify("touch last seen", err)
	}
	return nil
}

// --- categories ---

func (r *SQLiteRepository) ListCategories(ctx context.Context, kind core.TransactionKind) ([]core.Category, error) {
	where := "1 = 1"
	args := []any{}
	if kind.Valid() {
		where = "transaction_kind = ?"
		args = append(args, int64(kind))
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, transaction_kind, description FROM transaction_category WHERE "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, classify("list categories", err)
	}
	defer rows.Close()

	var cats []core.Category
	for rows.Next() {
		var c core.Category
		var k int64
		if err := rows.Scan(&c.ID, &k, &c.Description); err != nil {
			return nil, classify("scan category", err)
		}
		c.Kind = core.TransactionKind(k)
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list categories", err)
	}
	return cats, nil
}

// --- error classification ---

// classify wraps a raw driver error into the ledger error taxonomy.
// Busy/locked and deadline errors become retryable timeouts; everything
// else is a storage failure.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return core.Timeout(op, err)
	case isBusy(err):
		return core.Timeout(op, err)
	default:
		return core.Storage(op, err)
	}
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint violation")
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
