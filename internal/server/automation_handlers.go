package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/signal-sentinel/internal/domain"
)

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var profile domain.AutomationProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.deps.Profiles.Create(&profile); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUserID(w, r)
	if !ok {
		return
	}

	profiles, err := s.deps.Profiles.ListByUser(userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}

	s.writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.deps.Profiles.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	if profile == nil {
		s.writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var profile domain.AutomationProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	profile.ID = chi.URLParam(r, "id")

	if err := s.deps.Profiles.Update(&profile); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Profiles.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListAutomationEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUserID(w, r)
	if !ok {
		return
	}

	events, err := s.deps.AutoEvents.ListByUser(userID, queryLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list automation events")
		return
	}

	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListQueued(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUserID(w, r)
	if !ok {
		return
	}

	events, err := s.deps.AutoEvents.ListQueued(userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list queued events")
		return
	}

	s.writeJSON(w, http.StatusOK, events)
}

// handleApprove completes a CONFIRM-mode decision: the queued event is
// delivered and promoted to SEND.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	event, err := s.deps.Resolver.Approve(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}
