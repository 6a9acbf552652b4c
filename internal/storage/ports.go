package storage

import (
	"context"

	"contas/internal/core"
)

// Page is a 1-based pagination request. PerPage is capped by callers.
type Page struct {
	Number  int
	PerPage int
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.PerPage
}

// AccountPatch is a field-level account update. Balance is deliberately
// not representable here: it moves only through Unit.AdjustBalance.
type AccountPatch struct {
	Name           *string
	Type           *core.AccountType
	SumOnDashboard *bool
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	Kind core.TransactionKind // zero value means all kinds
}

// Unit is the write surface available inside one atomic unit of work.
// Every mutation performed through a Unit commits or rolls back together.
type Unit interface {
	GetAccount(ctx context.Context, id int64) (core.Account, error)

	// AdjustBalance applies delta to the account balance and returns the
	// post-mutation snapshot. The adjustment is a single in-place update,
	// linearizable per account.
	AdjustBalance(ctx context.Context, accountID int64, delta core.Money) (core.Account, error)

	CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error

	CreateTransfer(ctx context.Context, t core.Transfer) (core.Transfer, error)

	AppendAudit(ctx context.Context, e core.AuditEntry) (core.AuditEntry, error)
}

// UnitRunner executes fn inside one atomic unit of work. If fn returns an
// error the unit rolls back and no partial state is visible.
type UnitRunner interface {
	InUnit(ctx context.Context, fn func(u Unit) error) error
}

// Store is the read and plain-CRUD surface used outside units of work.
type Store interface {
	UnitRunner

	CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
	GetAccount(ctx context.Context, id int64) (core.Account, error)
	UpdateAccount(ctx context.Context, id int64, patch AccountPatch) (core.Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID int64, page Page) ([]core.Account, int, error)

	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	ListTransactionsByOwner(ctx context.Context, ownerID int64, f TransactionFilter, page Page) ([]core.Transaction, int, error)

	GetTransfer(ctx context.Context, id int64) (core.Transfer, error)
	GetTransferByKey(ctx context.Context, key string) (core.Transfer, error)
	ListTransfersByAccount(ctx context.Context, accountID int64, page Page) ([]core.Transfer, int, error)

	ListAuditByAccount(ctx context.Context, accountID int64) ([]core.AuditEntry, error)

	CreateUser(ctx context.Context, u core.User) (core.User, error)
	GetUser(ctx context.Context, id int64) (core.User, error)
	GetUserByUsername(ctx context.Context, username string) (core.User, error)
	TouchLastSeen(ctx context.Context, userID int64) error

	ListCategories(ctx context.Context, kind core.TransactionKind) ([]core.Category, error)
}

// ExportStore is the slice of storage the statement-export worker needs.
type ExportStore interface {
	ListUnexportedAudit(ctx context.Context, limit int) ([]core.AuditEntry, error)
	MarkAuditExported(ctx context.Context, id int64) error
	GetAuditEntry(ctx context.Context, id int64) (core.AuditEntry, error)
}
