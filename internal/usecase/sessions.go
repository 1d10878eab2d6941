package usecase

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/sunil55999/autoforwardx/internal/domain"
	obsctx "github.com/sunil55999/autoforwardx/internal/observability"
)

// HealthReader exposes the engine's in-memory session health projection.
// Nil is tolerated; health then falls back to stored fields.
type HealthReader interface {
	Snapshot(sessionID string) (domain.SessionHealth, bool)
}

// HealthTrigger is the admin hook for an immediate probe.
type HealthTrigger interface {
	TriggerHealth(ctx domain.Context, sessionID string) error
}

// Disconnector closes a session's live platform connection.
type Disconnector interface {
	Disconnect(ctx domain.Context, sessionID string) error
}

// SessionWithHealth decorates a session row with its live health.
type SessionWithHealth struct {
	Session domain.Session
	Health  domain.SessionHealth
}

// SessionService implements session onboarding and lifecycle for the control
// plane. The OTP handshake goes through the platform client; this layer never
// parses credential blobs.
type SessionService struct {
	Sessions domain.SessionRepository
	Users    domain.UserRepository
	Client   domain.PlatformClient
	Plans    PlanResolver
	Health   HealthReader
	Trigger  HealthTrigger
	Closer   Disconnector
}

// BeginAuth reserves a session slot and asks the platform to send the OTP.
// Returns the new session id and the code hash the verify step must echo.
func (s SessionService) BeginAuth(ctx domain.Context, userID, phone string) (sessionID, codeHash string, err error) {
	tr := otel.Tracer("usecase.sessions")
	ctx, span := tr.Start(ctx, "SessionService.BeginAuth")
	defer span.End()

	if phone == "" {
		return "", "", fmt.Errorf("%w: phone required", domain.ErrInvalidArgument)
	}
	user, err := s.Users.Get(ctx, userID)
	if err != nil {
		return "", "", err
	}
	limits := s.Plans.Limits(user.Plan)
	count, err := s.Sessions.CountByUser(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if count >= limits.MaxSessions {
		return "", "", fmt.Errorf("op=sessions.begin_auth: %w", domain.ErrPlanLimitExceeded)
	}

	codeHash, err = s.Client.SendOTP(ctx, phone)
	if err != nil {
		return "", "", err
	}
	sessionID, err = s.Sessions.Create(ctx, domain.Session{UserID: userID, Phone: phone, Active: false})
	if err != nil {
		return "", "", err
	}
	obsctx.LoggerFromContext(ctx).Info("session auth started",
		slog.String("session_id", sessionID),
		slog.String("user_id", userID))
	return sessionID, codeHash, nil
}

// VerifyAuth finalizes the OTP handshake and activates the session.
func (s SessionService) VerifyAuth(ctx domain.Context, userID, sessionID, code, codeHash string) (domain.Session, error) {
	tr := otel.Tracer("usecase.sessions")
	ctx, span := tr.Start(ctx, "SessionService.VerifyAuth")
	defer span.End()

	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	verified, err := s.Client.VerifyOTP(ctx, sess, code, codeHash)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.Sessions.UpdateCredentials(ctx, sessionID, verified.Credentials, verified.DisplayName); err != nil {
		return domain.Session{}, err
	}
	obsctx.LoggerFromContext(ctx).Info("session authenticated",
		slog.String("session_id", sessionID),
		slog.String("user_id", userID))
	verified.ID = sessionID
	return verified, nil
}

// List returns the user's sessions with their health projection.
func (s SessionService) List(ctx domain.Context, userID string) ([]SessionWithHealth, error) {
	sessions, err := s.Sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionWithHealth, 0, len(sessions))
	for _, sess := range sessions {
		h := domain.SessionHealth{SessionID: sess.ID, Healthy: sess.Active}
		if sess.LastHealthAt != nil {
			h.LastCheck = *sess.LastHealthAt
		}
		if s.Health != nil {
			if live, ok := s.Health.Snapshot(sess.ID); ok {
				h = live
			}
		}
		sess.Credentials = nil // blobs never leave the core
		out = append(out, SessionWithHealth{Session: sess, Health: h})
	}
	return out, nil
}

// Dialogs lists channels visible to the session, for pair setup.
func (s SessionService) Dialogs(ctx domain.Context, userID, sessionID string) ([]domain.Dialog, error) {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.Client.ListDialogs(ctx, sessionID)
}

// Disconnect closes the live connection and marks the session inactive.
func (s SessionService) Disconnect(ctx domain.Context, userID, sessionID string) error {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if s.Closer != nil {
		return s.Closer.Disconnect(ctx, sessionID)
	}
	return s.Sessions.SetActive(ctx, sessionID, false)
}

// TriggerHealth runs an immediate probe, admin-driven.
func (s SessionService) TriggerHealth(ctx domain.Context, sessionID string) error {
	if s.Trigger == nil {
		return fmt.Errorf("op=sessions.trigger_health: %w", domain.ErrUnavailable)
	}
	return s.Trigger.TriggerHealth(ctx, sessionID)
}

// Delete removes the session row entirely.
func (s SessionService) Delete(ctx domain.Context, userID, sessionID string) error {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if s.Closer != nil {
		if err := s.Closer.Disconnect(ctx, sessionID); err != nil && !isBenignDisconnectErr(err) {
			return err
		}
	}
	return s.Sessions.Delete(ctx, sessionID)
}

func (s SessionService) ownedSession(ctx domain.Context, userID, sessionID string) (domain.Session, error) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.UserID != userID {
		return domain.Session{}, fmt.Errorf("op=sessions.owned: %w", domain.ErrNotFound)
	}
	return sess, nil
}

// A session without an open handle is already disconnected.
func isBenignDisconnectErr(err error) bool {
	return err == nil || errors.Is(err, domain.ErrNotFound)
}
