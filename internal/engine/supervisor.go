package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sunil55999/autoforwardx/internal/adapter/observability"
	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/service/audit"
)

// MaxFailures is the consecutive-failure streak after which a session is
// deactivated rather than retried.
const MaxFailures = 3

// Reconnect backoff bounds: 30s doubling up to 15 minutes.
const (
	reconnectBase = 30 * time.Second
	reconnectCap  = 15 * time.Minute
)

// Supervisor owns the lifecycle of every usable session: open a client, drain
// its updates into the ingress router, probe health on an interval, reconnect
// with backoff, and deactivate on credential loss.
type Supervisor struct {
	Sessions domain.SessionRepository
	Pairs    domain.PairRepository
	Client   domain.PlatformClient
	Health   *HealthRegistry
	AntiBan  *AntiBan
	Ingress  *Ingress
	Audit    *audit.Logger
	Log      *slog.Logger
	Interval time.Duration

	now func() time.Time

	mu             sync.Mutex
	ingressCancels map[string]context.CancelFunc
	backoffs       map[string]*backoff.ExponentialBackOff
	reconnectAt    map[string]time.Time
	owners         map[string]string // session id -> user id
}

// NewSupervisor constructs the supervisor.
func NewSupervisor(sessions domain.SessionRepository, pairs domain.PairRepository, client domain.PlatformClient,
	health *HealthRegistry, antiban *AntiBan, ingress *Ingress, aud *audit.Logger, interval time.Duration, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Supervisor{
		Sessions:       sessions,
		Pairs:          pairs,
		Client:         client,
		Health:         health,
		AntiBan:        antiban,
		Ingress:        ingress,
		Audit:          aud,
		Log:            log,
		Interval:       interval,
		now:            time.Now,
		ingressCancels: map[string]context.CancelFunc{},
		backoffs:       map[string]*backoff.ExponentialBackOff{},
		reconnectAt:    map[string]time.Time{},
		owners:         map[string]string{},
	}
}

// Start seeds the health projection from stored sessions and opens a client
// for each.
func (s *Supervisor) Start(ctx context.Context) error {
	sessions, err := s.Sessions.ListUsable(ctx)
	if err != nil {
		return err
	}
	s.Health.Seed(sessions)
	for _, sess := range sessions {
		s.EnsureSession(ctx, sess)
	}
	return nil
}

// Run probes every session on the health interval until ctx ends.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one supervision pass: reconnect sessions whose backoff elapsed
// and ping the connected ones.
func (s *Supervisor) Tick(ctx context.Context) {
	sessions, err := s.Sessions.ListUsable(ctx)
	if err != nil {
		s.Log.Error("session listing failed", slog.Any("error", err))
		return
	}
	now := s.now()
	usable := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		usable[sess.ID] = true
		s.mu.Lock()
		wait := s.reconnectAt[sess.ID]
		s.mu.Unlock()
		if now.Before(wait) {
			continue
		}
		s.EnsureSession(ctx, sess)
		s.PingOnce(ctx, sess.ID)
	}

	// Sessions deactivated or deleted elsewhere must not keep a live handle.
	s.mu.Lock()
	var stale []string
	for id := range s.ingressCancels {
		if !usable[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		s.closeHandle(ctx, id)
	}
}

// EnsureSession opens a client for the session if none is open and starts the
// ingress drain task.
func (s *Supervisor) EnsureSession(ctx context.Context, sess domain.Session) {
	s.mu.Lock()
	s.owners[sess.ID] = sess.UserID
	_, open := s.ingressCancels[sess.ID]
	s.mu.Unlock()
	if open {
		return
	}

	ch, err := s.Client.Open(ctx, sess)
	if err != nil {
		s.handleProbeFailure(ctx, sess.ID, err)
		return
	}
	drainCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.ingressCancels[sess.ID] = cancel
	delete(s.reconnectAt, sess.ID)
	delete(s.backoffs, sess.ID)
	s.mu.Unlock()

	s.Health.MarkHealthy(sess.ID, s.now())
	observability.SessionsConnected.Inc()
	go s.drainIngress(drainCtx, sess.ID, ch)
	s.Log.Info("session connected", slog.String("session_id", sess.ID))
}

func (s *Supervisor) drainIngress(ctx context.Context, sessionID string, ch <-chan domain.UpdateEvent) {
	defer observability.SessionsConnected.Dec()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				// The client closed its stream; drop the handle so the next
				// tick reconnects.
				s.mu.Lock()
				if cancel, open := s.ingressCancels[sessionID]; open {
					delete(s.ingressCancels, sessionID)
					cancel()
				}
				s.mu.Unlock()
				return
			}
			if err := s.Ingress.HandleEvent(ctx, ev); err != nil {
				s.Log.Error("update handling failed",
					slog.String("session_id", sessionID),
					slog.Any("error", err))
			}
		}
	}
}

// PingOnce probes one session and applies the health state machine.
func (s *Supervisor) PingOnce(ctx context.Context, sessionID string) {
	s.mu.Lock()
	_, open := s.ingressCancels[sessionID]
	s.mu.Unlock()
	if !open {
		return
	}
	err := s.Client.HealthPing(ctx, sessionID)
	if err == nil {
		s.Health.MarkHealthy(sessionID, s.now())
		s.resetBackoff(sessionID)
		if err := s.Sessions.TouchHealth(ctx, sessionID, s.now()); err != nil {
			s.Log.Error("health timestamp update failed", slog.String("session_id", sessionID), slog.Any("error", err))
		}
		return
	}
	s.handleProbeFailure(ctx, sessionID, err)
}

func (s *Supervisor) handleProbeFailure(ctx context.Context, sessionID string, err error) {
	pe := domain.AsPlatformError(err)
	if pe.Kind == domain.PlatformAuthExpired {
		if derr := s.DeactivateSession(ctx, sessionID, "authentication expired"); derr != nil {
			s.Log.Error("deactivation failed", slog.String("session_id", sessionID), slog.Any("error", derr))
		}
		return
	}
	failures := s.Health.MarkFailure(sessionID, s.now(), pe.Error())
	if failures >= MaxFailures {
		if derr := s.DeactivateSession(ctx, sessionID, "health checks exhausted"); derr != nil {
			s.Log.Error("deactivation failed", slog.String("session_id", sessionID), slog.Any("error", derr))
		}
		return
	}
	// The connection stays up through unhealthy(k); only deactivation tears
	// it down. Backoff just spaces the next probe.
	next := s.nextBackoff(sessionID)
	s.mu.Lock()
	s.reconnectAt[sessionID] = s.now().Add(next)
	s.mu.Unlock()
	s.Log.Warn("session probe failed, retry scheduled",
		slog.String("session_id", sessionID),
		slog.Int("consecutive_failures", failures),
		slog.Duration("backoff", next))
}

func (s *Supervisor) nextBackoff(sessionID string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	bo, ok := s.backoffs[sessionID]
	if !ok {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = reconnectBase
		bo.MaxInterval = reconnectCap
		bo.Multiplier = 2
		bo.RandomizationFactor = 0
		bo.MaxElapsedTime = 0
		bo.Reset()
		s.backoffs[sessionID] = bo
	}
	return bo.NextBackOff()
}

func (s *Supervisor) resetBackoff(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backoffs, sessionID)
	delete(s.reconnectAt, sessionID)
}

func (s *Supervisor) closeHandle(ctx context.Context, sessionID string) {
	s.mu.Lock()
	cancel, open := s.ingressCancels[sessionID]
	if open {
		delete(s.ingressCancels, sessionID)
	}
	s.mu.Unlock()
	if open {
		cancel()
	}
	if err := s.Client.Close(ctx, sessionID); err != nil {
		s.Log.Debug("client close failed", slog.String("session_id", sessionID), slog.Any("error", err))
	}
}

// TriggerHealth is the admin hook for an immediate probe or reconnect.
func (s *Supervisor) TriggerHealth(ctx context.Context, sessionID string) error {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Usable() {
		return domain.ErrInvalidArgument
	}
	s.resetBackoff(sessionID)
	s.EnsureSession(ctx, sess)
	s.PingOnce(ctx, sessionID)
	return nil
}

// DeactivateSession marks the session inactive, pauses its pairs, and records
// the deactivation. The user must re-authenticate to resume.
func (s *Supervisor) DeactivateSession(ctx context.Context, sessionID, reason string) error {
	s.closeHandle(ctx, sessionID)
	if err := s.Sessions.SetActive(ctx, sessionID, false); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	paused, err := s.Pairs.PauseAllForSession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.Health.MarkFailure(sessionID, s.now(), reason)
	s.Audit.Record(ctx, domain.ActivityEntry{
		UserID:    s.owner(sessionID),
		SessionID: &sessionID,
		Kind:      domain.ActivitySessionDeactivated,
		Message:   reason,
		Metadata:  map[string]any{"paused_pairs": paused},
	})
	return nil
}

// EmergencyStop reacts to a ban indicator: every pair of the session is
// paused, the session is marked unhealthy, and the anti-ban level pins at
// banned. The session row stays active so an operator can resume it.
func (s *Supervisor) EmergencyStop(ctx context.Context, sessionID, reason string) error {
	s.AntiBan.MarkBanned(sessionID)
	paused, err := s.Pairs.PauseAllForSession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.Health.MarkFailure(sessionID, s.now(), reason)
	s.Audit.Record(ctx, domain.ActivityEntry{
		UserID:    s.owner(sessionID),
		SessionID: &sessionID,
		Kind:      domain.ActivityEmergencyStop,
		Message:   "ban indicator detected, session stopped",
		Metadata:  map[string]any{"paused_pairs": paused, "error": reason},
	})
	s.Log.Error("emergency stop",
		slog.String("session_id", sessionID),
		slog.String("reason", reason))
	return nil
}

// Disconnect closes the session's client and marks it inactive; used by the
// control plane's disconnect operation.
func (s *Supervisor) Disconnect(ctx context.Context, sessionID string) error {
	s.closeHandle(ctx, sessionID)
	return s.Sessions.SetActive(ctx, sessionID, false)
}

func (s *Supervisor) owner(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[sessionID]
}

// Shutdown closes every open handle.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.ingressCancels))
	for id := range s.ingressCancels {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.closeHandle(ctx, id)
	}
}
