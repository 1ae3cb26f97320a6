package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// EventsStatus reports the dispatcher state.
func (s *Server) EventsStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.events == nil {
			respondError(w, http.StatusServiceUnavailable, "event dispatcher not initialized")
			return
		}
		respond(w, http.StatusOK, s.events.Status())
	}
}

// EventStatus returns a pending event by id.
func (s *Server) EventStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.events == nil {
			respondError(w, http.StatusServiceUnavailable, "event dispatcher not initialized")
			return
		}
		eventID := mux.Vars(r)["eventId"]
		if eventID == "" {
			respondError(w, http.StatusBadRequest, "event ID is required")
			return
		}
		event, ok := s.events.EventStatus(eventID)
		if !ok {
			respondError(w, http.StatusNotFound, "event not found or already delivered")
			return
		}
		respond(w, http.StatusOK, event)
	}
}

// ForceRetry redelivers one pending event, or every pending event whose backoff elapsed
// when no id is given.
func (s *Server) ForceRetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.events == nil {
			respondError(w, http.StatusServiceUnavailable, "event dispatcher not initialized")
			return
		}
		eventID := mux.Vars(r)["eventId"]
		if eventID == "" {
			s.events.RetryPending()
			respond(w, http.StatusOK, map[string]string{"retry": "all pending events"})
			return
		}
		if !s.events.ForceRetry(eventID) {
			respondError(w, http.StatusNotFound, "event not found or already delivered")
			return
		}
		respond(w, http.StatusOK, map[string]string{"retry": eventID})
	}
}
