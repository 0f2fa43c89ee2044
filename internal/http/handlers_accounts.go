package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.List(r.Context())
	if err != nil {
		s.writeError(w, r, "list_accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, "create_account", err)
		return
	}
	account, err := s.accounts.Open(r.Context(), req.toAccount())
	if err != nil {
		s.writeError(w, r, "create_account", err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get_account", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// handleLedgerBalance reports the cached balance next to the ledger-derived one.
func (s *Server) handleLedgerBalance(w http.ResponseWriter, r *http.Request) {
	report, err := s.accounts.LedgerBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "ledger_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": report.AccountID,
		"cached":     report.Cached.StringFixed(2),
		"ledger":     report.Ledger.StringFixed(2),
		"drift":      report.Drift().StringFixed(2),
		"in_sync":    report.InSync(),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	drifted, err := s.accounts.Audit(r.Context())
	if err != nil {
		s.writeError(w, r, "audit", err)
		return
	}
	out := make([]map[string]any, 0, len(drifted))
	for _, report := range drifted {
		out = append(out, map[string]any{
			"account_id": report.AccountID,
			"cached":     report.Cached.StringFixed(2),
			"ledger":     report.Ledger.StringFixed(2),
			"drift":      report.Drift().StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"drifted": out})
}
