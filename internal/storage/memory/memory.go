// Package memory implements the storage interfaces with plain maps.
// It backs tests and the DATA_BACKEND=memory mode; nothing survives a
// restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"contas/internal/core"
	"contas/internal/storage"
)

// Repository is a mutex-guarded in-memory Store. Units of work hold the
// write lock for their whole duration and mutate a staged copy, so a
// failed unit leaves no trace.
type Repository struct {
	mu sync.RWMutex

	accounts     map[int64]core.Account
	transactions map[int64]core.Transaction
	transfers    map[int64]core.Transfer
	audit        []core.AuditEntry
	users        map[int64]core.User
	categories   []core.Category

	nextAccountID     int64
	nextTransactionID int64
	nextTransferID    int64
	nextAuditID       int64
	nextUserID        int64
}

var (
	_ storage.Store       = (*Repository)(nil)
	_ storage.ExportStore = (*Repository)(nil)
)

func NewRepository() *Repository {
	return &Repository{
		accounts:          make(map[int64]core.Account),
		transactions:      make(map[int64]core.Transaction),
		transfers:         make(map[int64]core.Transfer),
		users:             make(map[int64]core.User),
		categories:        defaultCategories(),
		nextAccountID:     1,
		nextTransactionID: 1,
		nextTransferID:    1,
		nextAuditID:       1,
		nextUserID:        1,
	}
}

func defaultCategories() []core.Category {
	return []core.Category{
		{ID: 1, Kind: core.Income, Description: "Salary"},
		{ID: 2, Kind: core.Income, Description: "Interest"},
		{ID: 3, Kind: core.Income, Description: "Other income"},
		{ID: 4, Kind: core.Expense, Description: "Housing"},
		{ID: 5, Kind: core.Expense, Description: "Groceries"},
		{ID: 6, Kind: core.Expense, Description: "Transport"},
		{ID: 7, Kind: core.Expense, Description: "Leisure"},
		{ID: 8, Kind: core.Expense, Description: "Other expense"},
	}
}

// InUnit runs fn against a staged copy under the write lock. The copy is
// swapped in only when fn succeeds, which makes the unit all-or-nothing.
func (r *Repository) InUnit(ctx context.Context, fn func(u storage.Unit) error) error {
	if err := ctx.Err(); err != nil {
		return core.Timeout("begin unit", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	staged := r.stage()
	if err := fn(staged); err != nil {
		return err
	}
	staged.commit(r)
	return nil
}

func (r *Repository) stage() *unit {
	u := &unit{
		accounts:          make(map[int64]core.Account, len(r.accounts)),
		transactions:      make(map[int64]core.Transaction, len(r.transactions)),
		transfers:         make(map[int64]core.Transfer, len(r.transfers)),
		audit:             make([]core.AuditEntry, len(r.audit)),
		nextTransactionID: r.nextTransactionID,
		nextTransferID:    r.nextTransferID,
		nextAuditID:       r.nextAuditID,
	}
	for id, a := range r.accounts {
		u.accounts[id] = a
	}
	for id, t := range r.transactions {
		u.transactions[id] = t
	}
	for id, t := range r.transfers {
		u.transfers[id] = t
	}
	copy(u.audit, r.audit)
	return u
}

// unit is the staged copy a unit of work mutates.
type unit struct {
	accounts     map[int64]core.Account
	transactions map[int64]core.Transaction
	transfers    map[int64]core.Transfer
	audit        []core.AuditEntry

	nextTransactionID int64
	nextTransferID    int64
	nextAuditID       int64
}

var _ storage.Unit = (*unit)(nil)

func (u *unit) commit(r *Repository) {
	r.accounts = u.accounts
	r.transactions = u.transactions
	r.transfers = u.transfers
	r.audit = u.audit
	r.nextTransactionID = u.nextTransactionID
	r.nextTransferID = u.nextTransferID
	r.nextAuditID = u.nextAuditID
}

func (u *unit) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	a, ok := u.accounts[id]
	if !ok {
		return core.Account{}, core.NotFound("account", id)
	}
	return a, nil
}

func (u *unit) AdjustBalance(ctx context.Context, accountID int64, delta core.Money) (core.Account, error) {
	a, ok := u.accounts[accountID]
	if !ok {
		return core.Account{}, core.NotFound("account", accountID)
	}
	a.Balance = a.Balance.Add(delta)
	u.accounts[accountID] = a
	return a, nil
}

func (u *unit) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t.ID = u.nextTransactionID
	u.nextTransactionID++
	t.CreatedAt = time.Now().UTC()
	u.transactions[t.ID] = t
	return t, nil
}

func (u *unit) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	t, ok := u.transactions[id]
	if !ok {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	return t, nil
}

func (u *unit) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	if _, ok := u.transactions[t.ID]; !ok {
		return core.NotFound("transaction", t.ID)
	}
	u.transactions[t.ID] = t
	return nil
}

func (u *unit) DeleteTransaction(ctx context.Context, id int64) error {
	if _, ok := u.transactions[id]; !ok {
		return core.NotFound("transaction", id)
	}
	delete(u.transactions, id)
	return nil
}

func (u *unit) CreateTransfer(ctx context.Context, t core.Transfer) (core.Transfer, error) {
	if t.IdempotencyKey != "" {
		for _, existing := range u.transfers {
			if existing.IdempotencyKey == t.IdempotencyKey {
				return core.Transfer{}, core.Duplicate("transfer with this idempotency key already exists")
			}
		}
	}
	t.ID = u.nextTransferID
	u.nextTransferID++
	t.CreatedAt = time.Now().UTC()
	u.transfers[t.ID] = t
	return t, nil
}

func (u *unit) AppendAudit(ctx context.Context, e core.AuditEntry) (core.AuditEntry, error) {
	e.ID = u.nextAuditID
	u.nextAuditID++
	e.CreatedAt = time.Now().UTC()
	u.audit = append(u.audit, e)
	return e, nil
}

// --- plain store surface ---

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, core.Invalid("invalid account", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if existing.OwnerID == a.OwnerID && existing.Name == a.Name && existing.Type == a.Type {
			return core.Account{}, core.Duplicate("an account with this name and type already exists")
		}
	}

	a.ID = r.nextAccountID
	r.nextAccountID++
	a.CreatedAt = time.Now().UTC()
	r.accounts[a.ID] = a

	// Keep the audit-replay invariant for opening balances too.
	if !a.Balance.IsZero() {
		r.audit = append(r.audit, core.AuditEntry{
			ID:        r.nextAuditID,
			AccountID: a.ID,
			Delta:     a.Balance,
			Cause:     core.CauseAccountOpened,
			CauseID:   a.ID,
			CreatedAt: a.CreatedAt,
		})
		r.nextAuditID++
	}
	return a, nil
}

func (r *Repository) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return core.Account{}, core.NotFound("account", id)
	}
	return a, nil
}

func (r *Repository) UpdateAccount(ctx context.Context, id int64, patch storage.AccountPatch) (core.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return core.Account{}, core.NotFound("account", id)
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Type != nil {
		a.Type = *patch.Type
	}
	if patch.SumOnDashboard != nil {
		a.SumOnDashboard = *patch.SumOnDashboard
	}

	for _, existing := range r.accounts {
		if existing.ID != id && existing.OwnerID == a.OwnerID && existing.Name == a.Name && existing.Type == a.Type {
			return core.Account{}, core.Duplicate("an account with this name and type already exists")
		}
	}

	r.accounts[id] = a
	return a, nil
}

func (r *Repository) ListAccountsByOwner(ctx context.Context, ownerID int64, page storage.Page) ([]core.Account, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []core.Account
	for _, a := range r.accounts {
		if a.OwnerID == ownerID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, page), len(all), nil
}

func (r *Repository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transactions[id]
	if !ok {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	return t, nil
}

func (r *Repository) ListTransactionsByOwner(ctx context.Context, ownerID int64, f storage.TransactionFilter, page storage.Page) ([]core.Transaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []core.Transaction
	for _, t := range r.transactions {
		if t.OwnerID != ownerID {
			continue
		}
		if f.Kind.Valid() && t.Kind != f.Kind {
			continue
		}
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, page), len(all), nil
}

func (r *Repository) GetTransfer(ctx context.Context, id int64) (core.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transfers[id]
	if !ok {
		return core.Transfer{}, core.NotFound("transfer", id)
	}
	return t, nil
}

func (r *Repository) GetTransferByKey(ctx context.Context, key string) (core.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.transfers {
		if t.IdempotencyKey != "" && t.IdempotencyKey == key {
			return t, nil
		}
	}
	return core.Transfer{}, core.NotFound("transfer", 0)
}

func (r *Repository) ListTransfersByAccount(ctx context.Context, accountID int64, page storage.Page) ([]core.Transfer, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []core.Transfer
	for _, t := range r.transfers {
		if t.FromAccountID == accountID || t.ToAccountID == accountID {
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, page), len(all), nil
}

func (r *Repository) ListAuditByAccount(ctx context.Context, accountID int64) ([]core.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []core.AuditEntry
	for _, e := range r.audit {
		if e.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (r *Repository) GetAuditEntry(ctx context.Context, id int64) (core.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.audit {
		if e.ID == id {
			return e, nil
		}
	}
	return core.AuditEntry{}, core.NotFound("audit entry", id)
}

func (r *Repository) ListUnexportedAudit(ctx context.Context, limit int) ([]core.AuditEntry, error) {
	// The memory backend never exports; present everything as pending.
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.audit)
	if limit < n {
		n = limit
	}
	entries := make([]core.AuditEntry, n)
	copy(entries, r.audit[:n])
	return entries, nil
}

func (r *Repository) MarkAuditExported(ctx context.Context, id int64) error {
	return nil
}

func (r *Repository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	if err := u.Validate(); err != nil {
		return core.User{}, core.Invalid("invalid user", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return core.User{}, core.Duplicate("username or email already registered")
		}
	}

	u.ID = r.nextUserID
	r.nextUserID++
	now := time.Now().UTC()
	u.CreatedAt = now
	u.LastSeen = now
	r.users[u.ID] = u
	return u, nil
}

func (r *Repository) GetUser(ctx context.Context, id int64) (core.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return core.User{}, core.NotFound("user", id)
	}
	return u, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (core.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return core.User{}, core.NotFound("user", 0)
}

func (r *Repository) TouchLastSeen(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return core.NotFound("user", userID)
	}
	u.LastSeen = time.Now().UTC()
	r.users[userID] = u
	return nil
}

func (r *Repository) ListCategories(ctx context.Context, kind core.TransactionKind) ([]core.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !kind.Valid() {
		out := make([]core.Category, len(r.categories))
		copy(out, r.categories)
		return out, nil
	}
	var out []core.Category
	for _, c := range r.categories {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out, nil
}

func paginate[T any](all []T, page storage.Page) []T {
	if page.PerPage <= 0 {
		return all
	}
	start := page.Offset()
	if start >= len(all) {
		return nil
	}
	end := start + page.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
