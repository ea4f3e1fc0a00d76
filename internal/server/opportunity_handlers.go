package server

import (
	"net/http"
	"strings"
)

func (s *Server) handleListOpportunities(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUserID(w, r)
	if !ok {
		return
	}

	status := strings.ToUpper(r.URL.Query().Get("status"))
	if status != "" && status != "ACTIVE" && status != "RESOLVED" {
		s.writeError(w, http.StatusBadRequest, "status must be ACTIVE or RESOLVED")
		return
	}

	opps, err := s.deps.Opportunities.ListByUser(userID, status, queryLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}

	s.writeJSON(w, http.StatusOK, opps)
}
