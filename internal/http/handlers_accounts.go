package http

import (
	"fmt"
	"net/http"

	"contas/internal/auth"
	"contas/internal/core"
	"contas/internal/storage"
)

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	b, err := decodeBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	name, _ := b.str("name")
	accType, _ := b.int64("account_type")
	sumOnDash := true
	if v, ok := b.boolean("sum_on_dashboard"); ok {
		sumOnDash = v
	}

	account := core.Account{
		OwnerID:        ownerID,
		Name:           name,
		Type:           core.AccountType(accType),
		SumOnDashboard: sumOnDash,
	}

	// Opening balance is allowed at creation only; afterwards the
	// balance moves exclusively through the ledger.
	if m, present, err := b.money("balance"); err != nil {
		writeError(w, r, err)
		return
	} else if present {
		account.Balance = m
	}

	created, err := s.store.CreateAccount(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/accounts/%d", created.ID))
	writeJSON(w, http.StatusCreated, toAccountDTO(created))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	key := s.accountCacheKey(id)
	if cached, found := s.accountCache.Get(key); found {
		if cached.OwnerID != auth.UserID(r.Context()) {
			writeError(w, r, core.NotFound("account", id))
			return
		}
		writeJSON(w, http.StatusOK, toAccountDTO(cached))
		return
	}

	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if account.OwnerID != auth.UserID(r.Context()) {
		writeError(w, r, core.NotFound("account", id))
		return
	}

	s.accountCache.Set(key, account)
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	existing, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if existing.OwnerID != auth.UserID(r.Context()) {
		writeError(w, r, core.NotFound("account", id))
		return
	}

	b, err := decodeBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Balance is not a patchable field. A client sending one is
	// confused about who owns the number; tell it so.
	if b.has("balance") || b.has("balance_cents") {
		writeError(w, r, core.Invalid("balance cannot be updated directly; record a transaction or transfer", nil))
		return
	}

	var patch storage.AccountPatch
	if name, ok := b.str("name"); ok {
		patch.Name = &name
	}
	if t, ok := b.int64("account_type"); ok {
		accType := core.AccountType(t)
		if !accType.Valid() {
			writeError(w, r, core.Invalid("invalid account type", core.ErrInvalidType))
			return
		}
		patch.Type = &accType
	}
	if v, ok := b.boolean("sum_on_dashboard"); ok {
		patch.SumOnDashboard = &v
	}

	updated, err := s.store.UpdateAccount(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.accountCache.Delete(s.accountCacheKey(id))
	writeJSON(w, http.StatusOK, toAccountDTO(updated))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	page := parsePage(r)
	accounts, total, err := s.store.ListAccountsByOwner(r.Context(), ownerID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]accountDTO, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, toAccountDTO(a))
	}
	writeJSON(w, http.StatusOK, newPaginated(items, page, total, r.URL.Path))
}

// handleAccountAudit lists the account's audit trail together with the
// balance recomputed from it, so a client can verify the two agree.
func (s *Server) handleAccountAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if account.OwnerID != auth.UserID(r.Context()) {
		writeError(w, r, core.NotFound("account", id))
		return
	}

	entries, err := s.store.ListAuditByAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	replayed, err := s.ledger.ReplayBalance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]auditDTO, 0, len(entries))
	for _, e := range entries {
		items = append(items, toAuditDTO(e))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accountId":            id,
		"balanceCents":         account.Balance.Cents,
		"replayedBalanceCents": replayed.Cents,
		"consistent":           replayed.Cents == account.Balance.Cents,
		"entries":              items,
	})
}
