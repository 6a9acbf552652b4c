package http

import (
	"fmt"
	"net/http"

	"contas/internal/auth"
	"contas/internal/core"
	"contas/internal/ledger"
	"contas/internal/storage"
)

func (s *Server) handleCreateIncome(w http.ResponseWriter, r *http.Request) {
	s.createTransaction(w, r, core.Income)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	s.createTransaction(w, r, core.Expense)
}

// createTransaction handles POST incomes/expenses; the route fixes the
// kind, the body cannot override it.
func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request, kind core.TransactionKind) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	b, err := decodeBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	t := core.Transaction{Kind: kind}
	t.AccountID, _ = b.int64("account_id")
	t.CategoryID, _ = b.int64("category_id")
	t.Description, _ = b.str("description")
	t.Observation, _ = b.str("observation")
	t.Paid, _ = b.boolean("paid")

	amount, present, err := b.money("value")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !present {
		amount, _, err = b.money("amount")
		if err != nil {
			writeError(w, r, err)
			return
		}
	}
	t.Amount = amount

	res, err := s.ledger.CreateTransaction(r.Context(), ownerID, t)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateAccounts(res.Accounts)
	w.Header().Set("Location", fmt.Sprintf("/api/transactions/%d", res.Transaction.ID))
	writeJSON(w, http.StatusCreated, toTransactionDTO(res.Transaction))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := s.store.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if t.OwnerID != auth.UserID(r.Context()) {
		writeError(w, r, core.NotFound("transaction", id))
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(t))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	b, err := decodeBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var patch ledger.TransactionPatch
	if v, ok := b.int64("account_id"); ok {
		patch.AccountID = &v
	}
	if v, ok := b.int64("category_id"); ok {
		patch.CategoryID = &v
	}
	if v, ok := b.int64("kind"); ok {
		kind := core.TransactionKind(v)
		if !kind.Valid() {
			writeError(w, r, core.Invalid("invalid transaction kind", core.ErrInvalidKind))
			return
		}
		patch.Kind = &kind
	}
	if v, ok := b.boolean("paid"); ok {
		patch.Paid = &v
	}
	if v, ok := b.str("description"); ok {
		patch.Description = &v
	}
	if v, ok := b.str("observation"); ok {
		patch.Observation = &v
	}
	if b.has("value") || b.has("amount") {
		key := "value"
		if !b.has("value") {
			key = "amount"
		}
		m, _, err := b.money(key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.Amount = &m
	}

	res, err := s.ledger.UpdateTransaction(r.Context(), auth.UserID(r.Context()), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateAccounts(res.Accounts)
	writeJSON(w, http.StatusOK, toTransactionDTO(res.Transaction))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.ledger.DeleteTransaction(r.Context(), auth.UserID(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	s.listTransactions(w, r, 0)
}

func (s *Server) handleListIncomes(w http.ResponseWriter, r *http.Request) {
	s.listTransactions(w, r, core.Income)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	s.listTransactions(w, r, core.Expense)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request, kind core.TransactionKind) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	page := parsePage(r)
	txs, total, err := s.store.ListTransactionsByOwner(r.Context(), ownerID,
		storage.TransactionFilter{Kind: kind}, page)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]transactionDTO, 0, len(txs))
	for _, t := range txs {
		items = append(items, toTransactionDTO(t))
	}
	writeJSON(w, http.StatusOK, newPaginated(items, page, total, r.URL.Path))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	var kind core.TransactionKind
	switch r.URL.Query().Get("kind") {
	case "income":
		kind = core.Income
	case "expense":
		kind = core.Expense
	case "":
	default:
		writeError(w, r, core.Invalid("kind must be 'income' or 'expense'", nil))
		return
	}

	cats, err := s.store.ListCategories(r.Context(), kind)
	if err != nil {
		writeError(w, r, err)
		return
	}

	type categoryDTO struct {
		ID          int64  `json:"id"`
		Kind        string `json:"kind"`
		Description string `json:"description"`
	}
	items := make([]categoryDTO, 0, len(cats))
	for _, c := range cats {
		items = append(items, categoryDTO{ID: c.ID, Kind: c.Kind.String(), Description: c.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
