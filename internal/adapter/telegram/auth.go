package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// SendOTP asks the platform to dispatch a one-time code to the phone and
// returns the code hash the verify step must echo back.
func (p *Pool) SendOTP(ctx domain.Context, phone string) (string, error) {
	var codeHash string
	err := p.withEphemeralClient(ctx, nil, func(ctx context.Context, client *telegram.Client, _ *memStorage) error {
		sent, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
		if err != nil {
			return err
		}
		code, ok := sent.(*tg.AuthSentCode)
		if !ok {
			return fmt.Errorf("unexpected sent code type %T", sent)
		}
		codeHash = code.PhoneCodeHash
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("op=telegram.SendOTP: %w", classify(err))
	}
	return codeHash, nil
}

// VerifyOTP finalizes authentication. On success the returned session carries
// a freshly sealed credential blob and the account's display name.
func (p *Pool) VerifyOTP(ctx domain.Context, s domain.Session, code, codeHash string) (domain.Session, error) {
	var displayName string
	var sessionData []byte
	err := p.withEphemeralClient(ctx, s.Credentials, func(ctx context.Context, client *telegram.Client, storage *memStorage) error {
		if _, err := client.Auth().SignIn(ctx, s.Phone, code, codeHash); err != nil {
			return err
		}
		self, err := client.Self(ctx)
		if err != nil {
			return err
		}
		displayName = strings.TrimSpace(self.FirstName + " " + self.LastName)
		sessionData = storage.snapshot()
		return nil
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("op=telegram.VerifyOTP: %w", classify(err))
	}
	sealed, err := p.sealer.Seal(sessionData)
	if err != nil {
		return domain.Session{}, fmt.Errorf("op=telegram.VerifyOTP: %w", err)
	}
	s.Credentials = sealed
	s.DisplayName = displayName
	s.Active = true
	return s, nil
}

// withEphemeralClient runs fn inside a short-lived client used only for the
// OTP handshake. seed primes the session storage when re-verifying.
func (p *Pool) withEphemeralClient(ctx domain.Context, seed []byte, fn func(ctx context.Context, client *telegram.Client, storage *memStorage) error) error {
	storage := &memStorage{}
	if len(seed) > 0 {
		if plain, err := p.sealer.Open(seed); err == nil {
			storage.data = plain
		}
	}
	client := telegram.NewClient(p.apiID, p.apiHash, telegram.Options{SessionStorage: storage})
	return client.Run(ctx, func(ctx context.Context) error {
		return fn(ctx, client, storage)
	})
}

// memStorage is an in-memory gotd session store for the OTP flow.
type memStorage struct {
	mu   sync.Mutex
	data []byte
}

func (m *memStorage) LoadSession(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 {
		return nil, session.ErrNotFound
	}
	return m.data, nil
}

func (m *memStorage) StoreSession(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	return nil
}

func (m *memStorage) snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}
