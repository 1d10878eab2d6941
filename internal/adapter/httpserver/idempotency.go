package httpserver

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// idemTTL is how long a replayed mutating response stays available.
const idemTTL = 24 * time.Hour

// idemPending marks a key claimed by an in-flight request. The real record
// overwrites it when the handler finishes.
const idemPending = "pending"

type idemRecord struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Idempotency replays mutating requests that repeat a client-supplied
// request id, per the control-plane contract. The key is claimed atomically
// with SETNX before the handler runs, so two concurrent requests with the
// same id execute the handler exactly once: the loser replays the stored
// response, or gets a conflict while the winner is still in flight.
// Requests without the header pass through untouched. Nil redis disables the
// guard.
func Idempotency(rdb *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rdb == nil || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			clientID := r.Header.Get(headerIdemKey)
			if clientID == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := "afx:idem:" + UserID(r) + ":" + clientID

			claimed, err := rdb.SetNX(r.Context(), key, idemPending, idemTTL).Result()
			if err != nil {
				// The guard is only as available as Redis; fail open rather
				// than block all mutations.
				slog.Debug("idempotency claim failed", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				raw, err := rdb.Get(r.Context(), key).Bytes()
				if err == nil && !bytes.Equal(raw, []byte(idemPending)) {
					var rec idemRecord
					if json.Unmarshal(raw, &rec) == nil {
						w.Header().Set("Content-Type", "application/json; charset=utf-8")
						w.Header().Set("X-Idempotent-Replay", "true")
						w.WriteHeader(rec.Status)
						_, _ = w.Write(rec.Body)
						return
					}
				}
				// The first request still holds the claim; the retry must not
				// execute the handler a second time.
				writeJSON(w, http.StatusConflict, errorEnvelope{Error: apiError{
					Code:    "REQUEST_IN_FLIGHT",
					Message: "a request with this idempotency key is still being processed",
				}})
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				// Server faults release the claim so the client can retry.
				if err := rdb.Del(r.Context(), key).Err(); err != nil {
					slog.Debug("idempotency claim release failed", slog.Any("error", err))
				}
				return
			}
			raw, err := json.Marshal(idemRecord{Status: rec.status, Body: rec.body.Bytes()})
			if err == nil {
				if err := rdb.Set(r.Context(), key, raw, idemTTL).Err(); err != nil {
					slog.Debug("idempotency record store failed", slog.Any("error", err))
				}
			}
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
