package handlers

import (
	"net/http"
	"strconv"
)

func (s *Server) GetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, s.inbox.Session(r.Context(), sessionID(r)))
	}
}

func (s *Server) SetTab() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tab string `json:"tab"`
		}
		if err := decode(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if err := s.inbox.SetActiveTab(r.Context(), sessionID(r), body.Tab); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respond(w, http.StatusOK, s.inbox.Session(r.Context(), sessionID(r)))
	}
}

// ResolutionStats combines the last assembly with the audit totals when available.
func (s *Server) ResolutionStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]interface{}{"last_assembly": s.inbox.ResolutionStats()}
		if s.audit != nil {
			unresolved, ambiguous, err := s.audit.IssueCounts(r.Context())
			if err != nil {
				respondServiceError(w, err)
				return
			}
			out["audit"] = map[string]int64{"unresolved": unresolved, "ambiguous": ambiguous}
		}
		respond(w, http.StatusOK, out)
	}
}

func (s *Server) ResolutionIssues() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.audit == nil {
			respondError(w, http.StatusServiceUnavailable, "audit store not configured")
			return
		}
		issues, err := s.audit.ResolutionIssues(r.Context(), limitParam(r))
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, issues)
	}
}

// SendAttempts serves GET /audit/sends?client=<ref>&limit=.
func (s *Server) SendAttempts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.audit == nil {
			respondError(w, http.StatusServiceUnavailable, "audit store not configured")
			return
		}
		attempts, err := s.audit.SendAttempts(r.Context(), r.URL.Query().Get("client"), limitParam(r))
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, attempts)
	}
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 100
	}
	return n
}
