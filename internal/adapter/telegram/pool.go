package telegram

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// openTimeout bounds how long Open waits for the MTProto handshake.
const openTimeout = 30 * time.Second

// Pool owns one logical gotd client per open session and implements
// domain.PlatformClient. It is safe for concurrent use.
type Pool struct {
	apiID   int
	apiHash string
	sealer  *Sealer
	buffer  int
	// persist is called when the platform rotates session data mid-run.
	persist func(ctx context.Context, sessionID string, sealed []byte) error
	// onOverflow is notified when a session's ingress buffer drops an update.
	onOverflow func(sessionID string)

	mu      sync.Mutex
	handles map[string]*handle
	log     *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithOverflowHook registers the ingress-overflow callback.
func WithOverflowHook(fn func(sessionID string)) Option {
	return func(p *Pool) { p.onOverflow = fn }
}

// WithPersistHook registers the callback that stores rotated, sealed
// credential blobs.
func WithPersistHook(fn func(ctx context.Context, sessionID string, sealed []byte) error) Option {
	return func(p *Pool) { p.persist = fn }
}

// NewPool constructs the client pool.
func NewPool(apiID int, apiHash string, sealer *Sealer, buffer int, log *slog.Logger, opts ...Option) *Pool {
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		apiID:   apiID,
		apiHash: apiHash,
		sealer:  sealer,
		buffer:  buffer,
		handles: map[string]*handle{},
		log:     log,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// handle is one open session connection.
type handle struct {
	sessionID string
	pool      *Pool
	api       *tg.Client
	updates   chan domain.UpdateEvent
	cancel    context.CancelFunc
	done      chan struct{}
	ready     chan struct{}
	runErr    error

	mu        sync.Mutex
	peerCache map[string]tg.InputPeerClass
	// channelHashes remembers access hashes of channels seen in updates so
	// delete events (which carry no entities) can still be attributed.
	channelHashes map[int64]int64
}

// Open dials the platform and resumes the authenticated session.
func (p *Pool) Open(ctx domain.Context, s domain.Session) (<-chan domain.UpdateEvent, error) {
	if !s.Usable() {
		return nil, fmt.Errorf("op=telegram.Open: session %s not usable: %w", s.ID, domain.ErrInvalidArgument)
	}
	p.mu.Lock()
	if h, ok := p.handles[s.ID]; ok {
		p.mu.Unlock()
		return h.updates, nil
	}
	p.mu.Unlock()

	plain, err := p.sealer.Open(s.Credentials)
	if err != nil {
		return nil, domain.NewPlatformError(domain.PlatformAuthExpired, err)
	}

	h := &handle{
		sessionID:     s.ID,
		pool:          p,
		updates:       make(chan domain.UpdateEvent, p.buffer),
		done:          make(chan struct{}),
		ready:         make(chan struct{}),
		peerCache:     map[string]tg.InputPeerClass{},
		channelHashes: map[int64]int64{},
	}

	storage := &sealedStorage{pool: p, sessionID: s.ID, data: plain}
	client := telegram.NewClient(p.apiID, p.apiHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  telegram.UpdateHandlerFunc(h.handleUpdates),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return err
			}
			if !status.Authorized {
				return domain.NewPlatformError(domain.PlatformAuthExpired, fmt.Errorf("session %s not authorized", s.ID))
			}
			h.api = client.API()
			close(h.ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && runCtx.Err() == nil {
			h.runErr = classify(err)
			p.log.Warn("session client stopped",
				slog.String("session_id", s.ID),
				slog.Any("error", h.runErr))
		}
		close(h.updates)
		p.mu.Lock()
		if p.handles[s.ID] == h {
			delete(p.handles, s.ID)
		}
		p.mu.Unlock()
	}()

	select {
	case <-h.ready:
	case <-h.done:
		cancel()
		if h.runErr != nil {
			return nil, fmt.Errorf("op=telegram.Open: %w", h.runErr)
		}
		return nil, fmt.Errorf("op=telegram.Open: client exited during handshake: %w", domain.ErrUnavailable)
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("op=telegram.Open: %w", ctx.Err())
	case <-time.After(openTimeout):
		cancel()
		return nil, fmt.Errorf("op=telegram.Open: handshake timeout: %w",
			domain.NewPlatformError(domain.PlatformTransient, context.DeadlineExceeded))
	}

	p.mu.Lock()
	p.handles[s.ID] = h
	p.mu.Unlock()
	return h.updates, nil
}

func (p *Pool) get(sessionID string) (*handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[sessionID]
	if !ok {
		return nil, fmt.Errorf("op=telegram.get: session %s not open: %w", sessionID, domain.ErrNotFound)
	}
	return h, nil
}

// Forward reposts source messages preserving attribution.
func (p *Pool) Forward(ctx domain.Context, sessionID, sourceRef, destRef string, messageID int64, silent bool) error {
	h, err := p.get(sessionID)
	if err != nil {
		return err
	}
	from, err := h.inputPeer(ctx, sourceRef)
	if err != nil {
		return fmt.Errorf("op=telegram.Forward: %w", err)
	}
	to, err := h.inputPeer(ctx, destRef)
	if err != nil {
		return fmt.Errorf("op=telegram.Forward: %w", err)
	}
	req := &tg.MessagesForwardMessagesRequest{
		FromPeer: from,
		ToPeer:   to,
		ID:       []int{int(messageID)},
		RandomID: []int64{sendID(sessionID, destRef, messageID)},
		Silent:   silent,
	}
	if _, err := h.api.MessagesForwardMessages(ctx, req); err != nil {
		return fmt.Errorf("op=telegram.Forward: %w", classify(err))
	}
	return nil
}

// Copy posts the snapshot as a new message, attribution stripped. Text-only
// snapshots are re-sent verbatim; media goes through a drop-author forward so
// the platform re-hosts the content without the forwarded header.
func (p *Pool) Copy(ctx domain.Context, sessionID, destRef string, snap domain.MessageSnapshot, silent bool) error {
	h, err := p.get(sessionID)
	if err != nil {
		return err
	}
	to, err := h.inputPeer(ctx, destRef)
	if err != nil {
		return fmt.Errorf("op=telegram.Copy: %w", err)
	}
	if !snap.Media.HasMedia() {
		req := &tg.MessagesSendMessageRequest{
			Peer:     to,
			Message:  snap.Text,
			RandomID: sendID(sessionID, destRef, int64(fnvHash(snap.Text))),
			Silent:   silent,
		}
		if _, err := h.api.MessagesSendMessage(ctx, req); err != nil {
			return fmt.Errorf("op=telegram.Copy: %w", classify(err))
		}
		return nil
	}
	from, msgID, err := snapshotOrigin(snap)
	if err != nil {
		return err
	}
	fromPeer, err := h.inputPeer(ctx, from)
	if err != nil {
		return fmt.Errorf("op=telegram.Copy: %w", err)
	}
	req := &tg.MessagesForwardMessagesRequest{
		FromPeer:   fromPeer,
		ToPeer:     to,
		ID:         []int{int(msgID)},
		RandomID:   []int64{sendID(sessionID, destRef, msgID)},
		Silent:     silent,
		DropAuthor: true,
	}
	if _, err := h.api.MessagesForwardMessages(ctx, req); err != nil {
		return fmt.Errorf("op=telegram.Copy: %w", classify(err))
	}
	return nil
}

// HealthPing is a lightweight liveness RPC for the session.
func (p *Pool) HealthPing(ctx domain.Context, sessionID string) error {
	h, err := p.get(sessionID)
	if err != nil {
		return err
	}
	if _, err := h.api.UpdatesGetState(ctx); err != nil {
		return fmt.Errorf("op=telegram.HealthPing: %w", classify(err))
	}
	return nil
}

// ListDialogs enumerates channels and groups visible to the session.
func (p *Pool) ListDialogs(ctx domain.Context, sessionID string) ([]domain.Dialog, error) {
	h, err := p.get(sessionID)
	if err != nil {
		return nil, err
	}
	res, err := h.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		return nil, fmt.Errorf("op=telegram.ListDialogs: %w", classify(err))
	}
	var chats []tg.ChatClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}
	var out []domain.Dialog
	for _, c := range chats {
		switch ch := c.(type) {
		case *tg.Channel:
			kind := "channel"
			if ch.Megagroup {
				kind = "group"
			}
			out = append(out, domain.Dialog{Ref: channelRef(ch), Title: ch.Title, Kind: kind})
		case *tg.Chat:
			out = append(out, domain.Dialog{Ref: fmt.Sprintf("chat:%d", ch.ID), Title: ch.Title, Kind: "group"})
		}
	}
	return out, nil
}

// Close releases the session's connection.
func (p *Pool) Close(ctx domain.Context, sessionID string) error {
	p.mu.Lock()
	h, ok := p.handles[sessionID]
	if ok {
		delete(p.handles, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// CloseAll tears down every open session; used at shutdown.
func (p *Pool) CloseAll(ctx domain.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.handles))
	for id := range p.handles {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		_ = p.Close(ctx, id)
	}
}

// OpenCount reports how many sessions are currently connected.
func (p *Pool) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// emit delivers an update on the bounded channel. When the buffer is full the
// oldest buffered update is dropped and the overflow hook fires.
func (h *handle) emit(ev domain.UpdateEvent) {
	select {
	case h.updates <- ev:
		return
	default:
	}
	select {
	case <-h.updates:
		if h.pool.onOverflow != nil {
			h.pool.onOverflow(h.sessionID)
		}
	default:
	}
	select {
	case h.updates <- ev:
	default:
		if h.pool.onOverflow != nil {
			h.pool.onOverflow(h.sessionID)
		}
	}
}

// sealedStorage bridges gotd session persistence to sealed credential blobs.
type sealedStorage struct {
	pool      *Pool
	sessionID string

	mu   sync.Mutex
	data []byte
}

func (s *sealedStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return s.data, nil
}

func (s *sealedStorage) StoreSession(ctx context.Context, data []byte) error {
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	if s.pool.persist == nil {
		return nil
	}
	sealed, err := s.pool.sealer.Seal(data)
	if err != nil {
		return err
	}
	return s.pool.persist(ctx, s.sessionID, sealed)
}

// sendID derives a deterministic random_id so retried sends do not duplicate
// messages on the platform.
func sendID(sessionID, destRef string, messageID int64) int64 {
	f := fnv.New64a()
	_, _ = f.Write([]byte(sessionID))
	_, _ = f.Write([]byte{0})
	_, _ = f.Write([]byte(destRef))
	_, _ = f.Write([]byte{0})
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(messageID >> (8 * i))
	}
	_, _ = f.Write(buf[:])
	return int64(f.Sum64())
}

func fnvHash(s string) uint64 {
	f := fnv.New64a()
	_, _ = f.Write([]byte(s))
	return f.Sum64()
}

// snapshotOrigin recovers the platform handle a media snapshot was taken from.
func snapshotOrigin(snap domain.MessageSnapshot) (ref string, messageID int64, err error) {
	var id int64
	var r string
	if _, err := fmt.Sscanf(snap.MediaRef, "%s %d", &r, &id); err != nil {
		return "", 0, domain.NewPlatformError(domain.PlatformContentRejected,
			fmt.Errorf("snapshot has no usable media origin"))
	}
	return r, id, nil
}
