package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sunil55999/autoforwardx/internal/config"
	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Pairs      usecase.PairService
	Sessions   usecase.SessionService
	Stats      usecase.StatsService
	Admin      usecase.AdminService
	Filters    domain.FilterRepository
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

var validate = validator.New()

// pairRequest is the wire form of pair create/update options.
type pairRequest struct {
	SessionID         string            `json:"session_id" validate:"required"`
	SourceRef         string            `json:"source_ref" validate:"required"`
	DestinationRef    string            `json:"destination_ref" validate:"required"`
	DelayMinS         int               `json:"delay_min_s" validate:"min=0,max=86400"`
	DelayMaxS         int               `json:"delay_max_s" validate:"min=0,max=86400"`
	CopyMode          bool              `json:"copy_mode"`
	Silent            bool              `json:"silent"`
	ForwardEdits      bool              `json:"forward_edits"`
	ForwardDeletions  bool              `json:"forward_deletions"`
	MessageTypeFilter string            `json:"message_type_filter" validate:"omitempty,oneof=all media text"`
	Chain             bool              `json:"chain"`
	Serialized        bool              `json:"serialized"`
	Substitutions     map[string]string `json:"substitutions,omitempty"`
	Watermark         string            `json:"watermark,omitempty"`
}

func (p pairRequest) options() usecase.PairOptions {
	tf := domain.MessageTypeFilter(p.MessageTypeFilter)
	if tf == "" {
		tf = domain.FilterAll
	}
	return usecase.PairOptions{
		SourceRef:      p.SourceRef,
		DestinationRef: p.DestinationRef,
		DelayMin:       time.Duration(p.DelayMinS) * time.Second,
		DelayMax:       time.Duration(p.DelayMaxS) * time.Second,
		CopyMode:       p.CopyMode,
		Silent:         p.Silent,
		ForwardEdits:   p.ForwardEdits,
		ForwardDeletes: p.ForwardDeletions,
		TypeFilter:     tf,
		Chain:          p.Chain,
		Serialized:     p.Serialized,
		Substitutions:  p.Substitutions,
		Watermark:      p.Watermark,
	}
}

type pairResponse struct {
	ID                string            `json:"id"`
	SessionID         string            `json:"session_id"`
	SourceRef         string            `json:"source_ref"`
	DestinationRef    string            `json:"destination_ref"`
	State             string            `json:"state"`
	DelayMinS         int               `json:"delay_min_s"`
	DelayMaxS         int               `json:"delay_max_s"`
	CopyMode          bool              `json:"copy_mode"`
	Silent            bool              `json:"silent"`
	ForwardEdits      bool              `json:"forward_edits"`
	ForwardDeletions  bool              `json:"forward_deletions"`
	MessageTypeFilter string            `json:"message_type_filter"`
	Chain             bool              `json:"chain"`
	Serialized        bool              `json:"serialized"`
	Substitutions     map[string]string `json:"substitutions,omitempty"`
	Watermark         string            `json:"watermark,omitempty"`
	Forwarded         int64             `json:"forwarded"`
	Successful        int64             `json:"successful"`
	Failed            int64             `json:"failed"`
	Filtered          int64             `json:"filtered"`
	LastAt            *time.Time        `json:"last_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

func toPairResponse(p domain.Pair) pairResponse {
	return pairResponse{
		ID:                p.ID,
		SessionID:         p.SessionID,
		SourceRef:         p.SourceRef,
		DestinationRef:    p.DestinationRef,
		State:             string(p.State),
		DelayMinS:         int(p.DelayMin.Seconds()),
		DelayMaxS:         int(p.DelayMax.Seconds()),
		CopyMode:          p.CopyMode,
		Silent:            p.Silent,
		ForwardEdits:      p.ForwardEdits,
		ForwardDeletions:  p.ForwardDeletes,
		MessageTypeFilter: string(p.TypeFilter),
		Chain:             p.Chain,
		Serialized:        p.Serialized,
		Substitutions:     p.Substitutions,
		Watermark:         p.Watermark,
		Forwarded:         p.Stats.Forwarded,
		Successful:        p.Stats.Successful,
		Failed:            p.Stats.Failed,
		Filtered:          p.Stats.Filtered,
		LastAt:            p.Stats.LastAt,
		CreatedAt:         p.CreatedAt,
	}
}

func decodeValid(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.ErrInvalidArgument
	}
	if err := validate.Struct(dst); err != nil {
		return domain.ErrInvalidArgument
	}
	return nil
}

// CreatePairHandler handles POST /v1/pairs.
func (s *Server) CreatePairHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pairRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		pair, err := s.Pairs.Create(r.Context(), UserID(r), req.SessionID, req.options())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, toPairResponse(pair))
	}
}

// ListPairsHandler handles GET /v1/pairs.
func (s *Server) ListPairsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pairs, err := s.Pairs.List(r.Context(), UserID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]pairResponse, 0, len(pairs))
		for _, p := range pairs {
			out = append(out, toPairResponse(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"pairs": out})
	}
}

// GetPairHandler handles GET /v1/pairs/{id}; includes recent failed items so
// the dashboard can surface attempts and last_error.
func (s *Server) GetPairHandler() http.HandlerFunc {
	type failedItem struct {
		ID        string     `json:"id"`
		MessageID int64      `json:"source_message_id"`
		Attempts  int        `json:"attempts"`
		LastError string     `json:"last_error"`
		FailedAt  *time.Time `json:"failed_at,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		pairID := chi.URLParam(r, "id")
		pair, err := s.Pairs.Get(r.Context(), UserID(r), pairID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		items, err := s.Pairs.FailedItems(r.Context(), UserID(r), pairID, 20)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		failed := make([]failedItem, 0, len(items))
		for _, it := range items {
			failed = append(failed, failedItem{
				ID:        it.ID,
				MessageID: it.SourceMessageID,
				Attempts:  it.Attempts,
				LastError: it.LastError,
				FailedAt:  it.ProcessedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"pair": toPairResponse(pair), "failed_items": failed})
	}
}

// UpdatePairHandler handles PUT /v1/pairs/{id}.
func (s *Server) UpdatePairHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pairRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		pair, err := s.Pairs.Update(r.Context(), UserID(r), chi.URLParam(r, "id"), req.options())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toPairResponse(pair))
	}
}

// DeletePairHandler handles DELETE /v1/pairs/{id}.
func (s *Server) DeletePairHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Pairs.Delete(r.Context(), UserID(r), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PairStateHandler handles POST /v1/pairs/{id}/(pause|resume|stop).
func (s *Server) PairStateHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			pair domain.Pair
			err  error
		)
		pairID := chi.URLParam(r, "id")
		switch action {
		case "pause":
			pair, err = s.Pairs.Pause(r.Context(), UserID(r), pairID)
		case "resume":
			pair, err = s.Pairs.Resume(r.Context(), UserID(r), pairID)
		default:
			pair, err = s.Pairs.Stop(r.Context(), UserID(r), pairID)
		}
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toPairResponse(pair))
	}
}

type bulkRequest struct {
	PairIDs []string     `json:"pair_ids" validate:"required,min=1"`
	Options *pairRequest `json:"options,omitempty"`
}

// BulkPairHandler handles POST /v1/pairs/bulk/(pause|resume|update).
func (s *Server) BulkPairHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		var (
			n   int64
			err error
		)
		switch action {
		case "pause":
			n, err = s.Pairs.BulkPause(r.Context(), UserID(r), req.PairIDs)
		case "resume":
			n, err = s.Pairs.BulkResume(r.Context(), UserID(r), req.PairIDs)
		default:
			if req.Options == nil {
				writeError(w, r, domain.ErrInvalidArgument, "options required")
				return
			}
			var updated int
			updated, err = s.Pairs.BulkUpdate(r.Context(), UserID(r), req.PairIDs, req.Options.options())
			n = int64(updated)
		}
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": n})
	}
}

type beginAuthRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
}

// BeginAuthHandler handles POST /v1/sessions.
func (s *Server) BeginAuthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req beginAuthRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		id, codeHash, err := s.Sessions.BeginAuth(r.Context(), UserID(r), req.Phone)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "code_hash": codeHash})
	}
}

type verifyAuthRequest struct {
	Code     string `json:"code" validate:"required,numeric"`
	CodeHash string `json:"code_hash" validate:"required"`
}

// VerifyAuthHandler handles POST /v1/sessions/{id}/verify.
func (s *Server) VerifyAuthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyAuthRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		sess, err := s.Sessions.VerifyAuth(r.Context(), UserID(r), chi.URLParam(r, "id"), req.Code, req.CodeHash)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id":   sess.ID,
			"display_name": sess.DisplayName,
			"active":       sess.Active,
		})
	}
}

// ListSessionsHandler handles GET /v1/sessions.
func (s *Server) ListSessionsHandler() http.HandlerFunc {
	type sessionResponse struct {
		ID           string     `json:"id"`
		Phone        string     `json:"phone"`
		DisplayName  string     `json:"display_name,omitempty"`
		Active       bool       `json:"active"`
		Healthy      bool       `json:"healthy"`
		LastCheck    *time.Time `json:"last_check,omitempty"`
		Failures     int        `json:"consecutive_failures"`
		RecentErrors []string   `json:"recent_errors,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.Sessions.List(r.Context(), UserID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]sessionResponse, 0, len(sessions))
		for _, sh := range sessions {
			resp := sessionResponse{
				ID:           sh.Session.ID,
				Phone:        sh.Session.Phone,
				DisplayName:  sh.Session.DisplayName,
				Active:       sh.Session.Active,
				Healthy:      sh.Health.Healthy,
				Failures:     sh.Health.ConsecutiveFailures,
				RecentErrors: sh.Health.RecentErrors,
			}
			if !sh.Health.LastCheck.IsZero() {
				lc := sh.Health.LastCheck
				resp.LastCheck = &lc
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
	}
}

// SessionDialogsHandler handles GET /v1/sessions/{id}/dialogs.
func (s *Server) SessionDialogsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dialogs, err := s.Sessions.Dialogs(r.Context(), UserID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dialogs": dialogs})
	}
}

// DisconnectSessionHandler handles POST /v1/sessions/{id}/disconnect.
func (s *Server) DisconnectSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Sessions.Disconnect(r.Context(), UserID(r), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteSessionHandler handles DELETE /v1/sessions/{id}.
func (s *Server) DeleteSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Sessions.Delete(r.Context(), UserID(r), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type phraseRequest struct {
	PairID *string `json:"pair_id,omitempty"`
	Text   string  `json:"text" validate:"required,min=1,max=500"`
}

// AddPhraseHandler handles POST /v1/filters/phrases.
func (s *Server) AddPhraseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req phraseRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		id, err := s.Filters.AddPhrase(r.Context(), domain.BlockedPhrase{
			UserID: UserID(r),
			PairID: req.PairID,
			Text:   req.Text,
			Active: true,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

// ListPhrasesHandler handles GET /v1/filters/phrases.
func (s *Server) ListPhrasesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phrases, err := s.Filters.ListPhrases(r.Context(), UserID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"phrases": phrases})
	}
}

// DeletePhraseHandler handles DELETE /v1/filters/phrases/{id}.
func (s *Server) DeletePhraseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Filters.DeletePhrase(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type imageRequest struct {
	PairID    *string `json:"pair_id,omitempty"`
	ImageHash string  `json:"image_hash" validate:"required"`
}

// AddImageHandler handles POST /v1/filters/images.
func (s *Server) AddImageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		if err := decodeValid(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		id, err := s.Filters.AddImage(r.Context(), domain.BlockedImage{
			UserID:    UserID(r),
			PairID:    req.PairID,
			ImageHash: req.ImageHash,
			Active:    true,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

// ListImagesHandler handles GET /v1/filters/images.
func (s *Server) ListImagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		images, err := s.Filters.ListImages(r.Context(), UserID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"images": images})
	}
}

// DeleteImageHandler handles DELETE /v1/filters/images/{id}.
func (s *Server) DeleteImageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Filters.DeleteImage(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DashboardHandler handles GET /v1/dashboard.
func (s *Server) DashboardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Stats.Dashboard(r.Context(), UserID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// ActivityHandler handles GET /v1/activity.
func (s *Server) ActivityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.Stats.RecentActivity(r.Context(), UserID(r), 50)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
	}
}

// HealthzHandler reports process liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports dependency readiness.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name string `json:"name"`
		OK   bool   `json:"ok"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		checks := []check{}
		allOK := true
		if s.DBCheck != nil {
			ok := s.DBCheck(r.Context()) == nil
			allOK = allOK && ok
			checks = append(checks, check{Name: "database", OK: ok})
		}
		if s.RedisCheck != nil {
			ok := s.RedisCheck(r.Context()) == nil
			allOK = allOK && ok
			checks = append(checks, check{Name: "redis", OK: ok})
		}
		status := http.StatusOK
		if !allOK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": allOK, "checks": checks})
	}
}
