package core

import (
	"strings"
	"time"
)

// TransactionKind distinguishes incomes from expenses.
type TransactionKind int

const (
	Income  TransactionKind = 1
	Expense TransactionKind = 2
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	return k == Income || k == Expense
}

func (k TransactionKind) String() string {
	switch k {
	case Income:
		return "income"
	case Expense:
		return "expense"
	default:
		return "unknown"
	}
}

// AccountType identifies what sort of account the user holds.
// The numeric values are part of the stored representation.
type AccountType int

const (
	Checking   AccountType = 1
	Savings    AccountType = 2
	Cash       AccountType = 3
	Brokerage  AccountType = 4
	Investment AccountType = 5
	Other      AccountType = 6
)

func (t AccountType) Valid() bool {
	return t >= Checking && t <= Other
}

// AuditCause names the operation behind a balance mutation.
type AuditCause string

const (
	CauseAccountOpened      AuditCause = "account_opened"
	CauseTransactionCreated AuditCause = "transaction_created"
	CauseTransactionPaid    AuditCause = "transaction_paid"
	CauseTransactionUnpaid  AuditCause = "transaction_unpaid"
	CauseTransferIn         AuditCause = "transfer_in"
	CauseTransferOut        AuditCause = "transfer_out"
)

type (
	// Account is a user's money holder. Balance is adjusted only by the
	// ledger engine, never patched directly.
	Account struct {
		ID             int64
		OwnerID        int64
		Name           string
		Type           AccountType
		Balance        Money
		SumOnDashboard bool
		CreatedAt      time.Time
	}

	// Transaction is a single income or expense against one account.
	// While Paid is false it has no effect on the account balance.
	Transaction struct {
		ID          int64
		AccountID   int64
		OwnerID     int64
		CategoryID  int64
		Kind        TransactionKind
		Amount      Money
		Paid        bool
		Description string
		Observation string
		CreatedAt   time.Time
	}

	// Transfer moves funds between two accounts of the same user.
	// Once created it is effective and immutable.
	Transfer struct {
		ID             int64
		FromAccountID  int64
		ToAccountID    int64
		Amount         Money
		Observation    string
		IdempotencyKey string
		CreatedAt      time.Time
	}

	// AuditEntry records one balance mutation and its cause. The audit
	// trail is append-only; replaying an account's entries from zero
	// reproduces its balance.
	AuditEntry struct {
		ID        int64
		AccountID int64
		Delta     Money
		Cause     AuditCause
		CauseID   int64
		CreatedAt time.Time
	}

	// User owns accounts and transactions. PasswordHash is a bcrypt hash.
	User struct {
		ID           int64
		Username     string
		Email        string
		PasswordHash string
		LastSeen     time.Time
		CreatedAt    time.Time
	}

	// Category labels transactions, scoped to a kind.
	Category struct {
		ID          int64
		Kind        TransactionKind
		Description string
	}
)

// Delta is the balance effect of the transaction when paid: positive for
// incomes, negative for expenses.
func (t Transaction) Delta() Money {
	if t.Kind == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if len(a.Name) > 64 {
		return Invalid("name too long (max 64 characters)", nil)
	}
	if !a.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

func (t Transaction) Validate() error {
	if t.AccountID <= 0 {
		return Invalid("account_id is required", nil)
	}
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	if t.Amount.IsNegative() || t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 50 {
		return Invalid("description too long (max 50 characters)", nil)
	}
	if len(t.Observation) > 200 {
		return Invalid("observation too long (max 200 characters)", nil)
	}
	return nil
}

func (t Transfer) Validate() error {
	if t.FromAccountID <= 0 || t.ToAccountID <= 0 {
		return Invalid("both accounts are required", nil)
	}
	if t.FromAccountID == t.ToAccountID {
		return ErrSameAccount
	}
	if t.Amount.IsNegative() || t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if len(t.Observation) > 150 {
		return Invalid("observation too long (max 150 characters)", nil)
	}
	return nil
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return Invalid("username is required", nil)
	}
	if len(u.Username) > 64 {
		return Invalid("username too long (max 64 characters)", nil)
	}
	if !strings.Contains(u.Email, "@") {
		return Invalid("invalid email", nil)
	}
	return nil
}
