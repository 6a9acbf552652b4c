package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"contas/internal/core"
	"contas/internal/storage"
)

// --- wire representations ---

type userDTO struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
}

type accountDTO struct {
	ID             int64     `json:"id"`
	OwnerID        int64     `json:"ownerId"`
	Name           string    `json:"name"`
	AccountType    int       `json:"accountType"`
	Balance        string    `json:"balance"`
	BalanceCents   int64     `json:"balanceCents"`
	SumOnDashboard bool      `json:"sumOnDashboard"`
	CreatedAt      time.Time `json:"createdAt"`
}

type transactionDTO struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"accountId"`
	OwnerID     int64     `json:"ownerId"`
	CategoryID  int64     `json:"categoryId,omitempty"`
	Kind        string    `json:"kind"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amountCents"`
	Paid        bool      `json:"paid"`
	Description string    `json:"description"`
	Observation string    `json:"observation,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type transferDTO struct {
	ID            int64     `json:"id"`
	FromAccountID int64     `json:"fromAccountId"`
	ToAccountID   int64     `json:"toAccountId"`
	Amount        string    `json:"amount"`
	AmountCents   int64     `json:"amountCents"`
	Observation   string    `json:"observation,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type auditDTO struct {
	ID         int64     `json:"id"`
	AccountID  int64     `json:"accountId"`
	DeltaCents int64     `json:"deltaCents"`
	Cause      string    `json:"cause"`
	CauseID    int64     `json:"causeId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toUserDTO(u core.User, includeEmail bool) userDTO {
	dto := userDTO{ID: u.ID, Username: u.Username, LastSeen: u.LastSeen}
	if includeEmail {
		dto.Email = u.Email
	}
	return dto
}

func toAccountDTO(a core.Account) accountDTO {
	return accountDTO{
		ID:             a.ID,
		OwnerID:        a.OwnerID,
		Name:           a.Name,
		AccountType:    int(a.Type),
		Balance:        a.Balance.String(),
		BalanceCents:   a.Balance.Cents,
		SumOnDashboard: a.SumOnDashboard,
		CreatedAt:      a.CreatedAt,
	}
}

func toTransactionDTO(t core.Transaction) transactionDTO {
	return transactionDTO{
		ID:          t.ID,
		AccountID:   t.AccountID,
		OwnerID:     t.OwnerID,
		CategoryID:  t.CategoryID,
		Kind:        t.Kind.String(),
		Amount:      t.Amount.String(),
		AmountCents: t.Amount.Cents,
		Paid:        t.Paid,
		Description: t.Description,
		Observation: t.Observation,
		CreatedAt:   t.CreatedAt,
	}
}

func toTransferDTO(t core.Transfer) transferDTO {
	return transferDTO{
		ID:            t.ID,
		FromAccountID: t.FromAccountID,
		ToAccountID:   t.ToAccountID,
		Amount:        t.Amount.String(),
		AmountCents:   t.Amount.Cents,
		Observation:   t.Observation,
		CreatedAt:     t.CreatedAt,
	}
}

func toAuditDTO(e core.AuditEntry) auditDTO {
	return auditDTO{
		ID:         e.ID,
		AccountID:  e.AccountID,
		DeltaCents: e.Delta.Cents,
		Cause:      string(e.Cause),
		CauseID:    e.CauseID,
		CreatedAt:  e.CreatedAt,
	}
}

// --- responses ---

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeError maps the ledger error taxonomy onto HTTP statuses.
// Timeouts get a Retry-After hint because the aborted unit left no
// partial state behind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)

	var status int
	switch kind {
	case core.KindNotFound:
		status = http.StatusNotFound
	case core.KindValidation, core.KindDuplicate, core.KindUnsupported:
		status = http.StatusBadRequest
	case core.KindTimeout:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	default:
		status = http.StatusInternalServerError
	}

	message := err.Error()
	var ce *core.Error
	if errors.As(err, &ce) {
		message = ce.Message
		if ce.Err != nil && kind == core.KindValidation {
			message = fmt.Sprintf("%s: %v", ce.Message, ce.Err)
		}
	}

	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"url", r.URL.Path,
			"kind", string(kind),
			"error", err)
		// Do not leak storage internals to clients
		if kind == core.KindStorage || kind == "" {
			message = "internal error"
		}
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Kind: string(kind), Message: message}})
}

// --- pagination envelope ---

type pageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

type pageLinks struct {
	Self string `json:"self"`
	Next string `json:"next,omitempty"`
	Prev string `json:"prev,omitempty"`
}

type paginated struct {
	Items any       `json:"items"`
	Meta  pageMeta  `json:"_meta"`
	Links pageLinks `json:"_links"`
}

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

func parsePage(r *http.Request) storage.Page {
	page := storage.Page{Number: 1, PerPage: defaultPerPage}
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page.Number = n
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page.PerPage = min(n, maxPerPage)
		}
	}
	return page
}

func newPaginated(items any, page storage.Page, total int, basePath string) paginated {
	totalPages := 0
	if page.PerPage > 0 {
		totalPages = (total + page.PerPage - 1) / page.PerPage
	}

	pageURL := func(n int) string {
		q := url.Values{}
		q.Set("page", strconv.Itoa(n))
		q.Set("per_page", strconv.Itoa(page.PerPage))
		return basePath + "?" + q.Encode()
	}

	links := pageLinks{Self: pageURL(page.Number)}
	if page.Number < totalPages {
		links.Next = pageURL(page.Number + 1)
	}
	if page.Number > 1 {
		links.Prev = pageURL(page.Number - 1)
	}

	return paginated{
		Items: items,
		Meta: pageMeta{
			Page:       page.Number,
			PerPage:    page.PerPage,
			TotalPages: totalPages,
			TotalItems: total,
		},
		Links: links,
	}
}
