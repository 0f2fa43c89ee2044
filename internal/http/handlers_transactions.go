package http

import (
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := transactionFilter(r)
	if err != nil {
		s.writeError(w, r, "list_transactions", err)
		return
	}
	txs, err := s.transactions.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, "list_transactions", err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, "create_transaction", err)
		return
	}
	tx, err := s.transactions.Create(r.Context(), req.toTransaction(core.Today()))
	if err != nil {
		s.writeError(w, r, "create_transaction", err)
		return
	}
	atomic.AddInt64(&s.appMetrics.transactionsCreated, 1)
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction created via API",
		log.NewFields().
			WithTransaction(tx.ID, string(tx.Type), tx.AccountID, tx.ToAccountID, tx.Amount.StringFixed(2)).
			WithOperation(log.OpCreate).
			ToSlice()...)
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.transactions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// handleDeleteTransaction reverses the postings before removing the record.
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.transactions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, "delete_transaction", err)
		return
	}
	atomic.AddInt64(&s.appMetrics.transactionsDeleted, 1)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransactionEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.transactions.Get(r.Context(), id); err != nil {
		s.writeError(w, r, "transaction_entries", err)
		return
	}
	entries, err := s.engine.Entries(r.Context(), id)
	if err != nil {
		s.writeError(w, r, "transaction_entries", err)
		return
	}
	if entries == nil {
		entries = []core.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleValidateTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.transactions.Get(r.Context(), id); err != nil {
		s.writeError(w, r, "validate_transaction", err)
		return
	}
	balanced, err := s.engine.ValidateBalance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, "validate_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction_id": id, "balanced": balanced})
}
