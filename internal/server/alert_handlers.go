package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/signal-sentinel/internal/domain"
)

// ruleRequest is the wire shape for creating or updating an alert rule.
// The condition payload is validated into its typed variant at this
// boundary; malformed payloads never reach storage.
type ruleRequest struct {
	UserID        string          `json:"user_id"`
	Symbol        string          `json:"symbol"`
	Global        bool            `json:"global"`
	ConditionKind string          `json:"condition_kind"`
	Condition     json.RawMessage `json:"condition"`
	Enabled       bool            `json:"enabled"`
	ProfileID     *string         `json:"profile_id,omitempty"`
}

func (req *ruleRequest) toRule() (*domain.AlertRule, error) {
	cond, err := domain.ParseCondition(domain.ConditionKind(req.ConditionKind), req.Condition)
	if err != nil {
		return nil, err
	}

	return &domain.AlertRule{
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Global:    req.Global,
		Condition: cond,
		Enabled:   req.Enabled,
		ProfileID: req.ProfileID,
	}, nil
}

// ruleView augments the rule with its condition kind, which the condition
// interface loses in plain JSON marshaling.
type ruleView struct {
	domain.AlertRule
	ConditionKind domain.ConditionKind `json:"condition_kind"`
}

func viewRule(rule domain.AlertRule) ruleView {
	return ruleView{AlertRule: rule, ConditionKind: rule.Condition.Kind()}
}

func viewRules(rules []domain.AlertRule) []ruleView {
	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, viewRule(rule))
	}
	return views
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := req.toRule()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Rules.Create(rule); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, viewRule(*rule))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUserID(w, r)
	if !ok {
		return
	}

	rules, err := s.deps.Rules.ListByUser(userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	s.writeJSON(w, http.StatusOK, viewRules(rules))
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.deps.Rules.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	if rule == nil {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	s.writeJSON(w, http.StatusOK, viewRule(*rule))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := req.toRule()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.ID = chi.URLParam(r, "id")

	if err := s.deps.Rules.Update(rule); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, viewRule(*rule))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Rules.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListAlertEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUserID(w, r)
	if !ok {
		return
	}

	events, err := s.deps.AlertEvents.ListByUser(userID, queryLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	s.writeJSON(w, http.StatusOK, events)
}

// queryLimit parses the optional limit query parameter
func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}
