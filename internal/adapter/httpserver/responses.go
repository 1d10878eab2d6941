package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrPlanLimitExceeded):
		code = http.StatusForbidden
		codeStr = "PLAN_LIMIT_EXCEEDED"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "UNAVAILABLE"
	default:
		if pe := platformError(err); pe != nil {
			code, codeStr = platformStatus(pe.Kind)
		}
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}

func platformError(err error) *domain.PlatformError {
	var pe *domain.PlatformError
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}

func platformStatus(kind domain.PlatformErrorKind) (int, string) {
	switch kind {
	case domain.PlatformAuthExpired:
		return http.StatusUnauthorized, "SESSION_AUTH_EXPIRED"
	case domain.PlatformRateLimited:
		return http.StatusTooManyRequests, "PLATFORM_RATE_LIMITED"
	case domain.PlatformPeerInvalid:
		return http.StatusBadRequest, "PEER_INVALID"
	case domain.PlatformContentRejected:
		return http.StatusUnprocessableEntity, "CONTENT_REJECTED"
	case domain.PlatformBanned:
		return http.StatusConflict, "SESSION_RESTRICTED"
	default:
		return http.StatusBadGateway, "PLATFORM_ERROR"
	}
}
