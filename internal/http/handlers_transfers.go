package http

import (
	"fmt"
	"net/http"

	"contas/internal/auth"
	"contas/internal/core"
)

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	b, err := decodeBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var t core.Transfer
	t.FromAccountID, _ = b.int64("from_account_id")
	t.ToAccountID, _ = b.int64("to_account_id")
	t.Observation, _ = b.str("observation")
	t.IdempotencyKey = r.Header.Get("Idempotency-Key")

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

	res, err := s.ledger.CreateTransfer(r.Context(), ownerID, t)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateAccounts([]core.Account{res.From, res.To})

	status := http.StatusCreated
	if res.Replayed {
		// Same key, same transfer; nothing new was created.
		status = http.StatusOK
	}
	w.Header().Set("Location", fmt.Sprintf("/api/transfers/%d", res.Transfer.ID))
	writeJSON(w, status, toTransferDTO(res.Transfer))
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := s.store.GetTransfer(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Ownership is established through the source account.
	from, err := s.store.GetAccount(r.Context(), t.FromAccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if from.OwnerID != auth.UserID(r.Context()) {
		writeError(w, r, core.NotFound("transfer", id))
		return
	}

	writeJSON(w, http.StatusOK, toTransferDTO(t))
}

// Transfers are immutable once created: editing or deleting one would
// rewrite financial history. Correct a mistake with an opposite
// transfer.
func (s *Server) handleMutateTransfer(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, core.Unsupported("transfers cannot be modified or deleted; create a compensating transfer instead"))
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
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

	page := parsePage(r)
	transfers, total, err := s.store.ListTransfersByAccount(r.Context(), id, page)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]transferDTO, 0, len(transfers))
	for _, t := range transfers {
		items = append(items, toTransferDTO(t))
	}
	writeJSON(w, http.StatusOK, newPaginated(items, page, total, r.URL.Path))
}
