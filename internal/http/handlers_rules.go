package http

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	rules, err := s.processor.ListRules(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, r, "list_rules", err)
		return
	}
	if rules == nil {
		rules = []core.RecurringRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, "create_rule", err)
		return
	}
	rule, err := s.processor.CreateRule(r.Context(), req.toRule())
	if err != nil {
		s.writeError(w, r, "create_rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.processor.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get_rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleRunRule materializes the rule now, at ?date= or today.
func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	date, err := queryDate(r, "date")
	if err != nil {
		s.writeError(w, r, "run_rule", err)
		return
	}
	tx, err := s.processor.ProcessSingle(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		atomic.AddInt64(&s.appMetrics.ruleFailures, 1)
		s.writeError(w, r, "run_rule", err)
		return
	}
	atomic.AddInt64(&s.appMetrics.rulesMaterialized, 1)
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handlePauseRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.processor.PauseRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "pause_rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleResumeRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.processor.ResumeRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "resume_rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleProcessDue runs one ProcessDue batch as of ?as_of= or today.
func (s *Server) handleProcessDue(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryDate(r, "as_of")
	if err != nil {
		s.writeError(w, r, "process_due", err)
		return
	}
	result, err := s.processor.ProcessDue(r.Context(), asOf)
	if err != nil {
		s.writeError(w, r, "process_due", err)
		return
	}
	atomic.AddInt64(&s.appMetrics.rulesMaterialized, int64(len(result.Created)))
	atomic.AddInt64(&s.appMetrics.ruleFailures, int64(len(result.Failures)))
	if result.Created == nil {
		result.Created = []core.Transaction{}
	}
	if result.Failures == nil {
		result.Failures = []services.RuleFailure{}
	}
	if result.Deactivated == nil {
		result.Deactivated = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}
