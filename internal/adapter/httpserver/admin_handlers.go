package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AdminStatsHandler handles GET /admin/stats.
func (s *Server) AdminStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Admin.Stats(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// AdminQueueHandler handles GET /admin/queue.
func (s *Server) AdminQueueHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Admin.QueueStats(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"paused": s.Admin.QueuePaused(),
			"counts": stats,
		})
	}
}

// AdminPauseQueueHandler handles POST /admin/queue/pause.
func (s *Server) AdminPauseQueueHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Admin.PauseQueue(r.Context())
		writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
	}
}

// AdminResumeQueueHandler handles POST /admin/queue/resume.
func (s *Server) AdminResumeQueueHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Admin.ResumeQueue(r.Context())
		writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
	}
}

// AdminClearFailedHandler handles POST /admin/queue/clear-failed.
func (s *Server) AdminClearFailedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.Admin.ClearFailed(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"cleared": n})
	}
}

// AdminTriggerHealthHandler handles POST /admin/sessions/{id}/health.
func (s *Server) AdminTriggerHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Sessions.TriggerHealth(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "probing"})
	}
}
