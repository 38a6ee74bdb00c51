package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/syftsync/internal/client/config"
	"github.com/openmined/syftsync/internal/syftsdk"
)

// tokens this close to expiry are replaced before the next cycle
const tokenRefreshMargin = 5 * time.Minute

var ErrIdentityMismatch = errors.New("access token belongs to another identity")

// Session owns the authenticated server connection of one identity.
type Session struct {
	config   *config.Config
	sdk      *syftsdk.SyftSDK
	clock    clockwork.Clock
	identity string
	mu       sync.Mutex
}

type SessionOption func(*Session)

func WithSessionClock(clock clockwork.Clock) SessionOption {
	return func(s *Session) {
		s.clock = clock
	}
}

// NewSession connects to the server and proves the identity of the config.
// Without a configured access token one is acquired first; a configured one
// the server refuses is replaced once.
func NewSession(ctx context.Context, cfg *config.Config, opts ...SessionOption) (*Session, error) {
	sdk, err := syftsdk.New(&syftsdk.SyftSDKConfig{
		BaseURL:     cfg.ServerURL,
		Email:       cfg.Email,
		AccessToken: cfg.AccessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sdk: %w", err)
	}

	s := &Session{
		config: cfg,
		sdk:    sdk,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.AccessToken == "" {
		if err := s.Reauthenticate(ctx); err != nil {
			sdk.Close()
			return nil, err
		}
		return s, nil
	}

	err = s.verify(ctx)
	if errors.Is(err, syftsdk.ErrUnauthorized) {
		slog.Info("session token refused, requesting a new one", "email", cfg.Email)
		err = s.Reauthenticate(ctx)
	}
	if err != nil {
		sdk.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) SDK() *syftsdk.SyftSDK {
	return s.sdk
}

// Identity is the email the server confirmed for the current token.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// EnsureAuth makes sure the next requests carry a usable token. A token
// with an expiry is trusted until shortly before it; any other token is
// checked with the server.
func (s *Session) EnsureAuth(ctx context.Context) error {
	expiry, ok, err := syftsdk.TokenExpiry(s.sdk.AccessToken())
	if err == nil && ok {
		if s.clock.Until(expiry) > tokenRefreshMargin {
			return nil
		}
		slog.Info("session token expiring", "expiry", expiry)
		return s.Reauthenticate(ctx)
	}

	err = s.verify(ctx)
	if errors.Is(err, syftsdk.ErrUnauthorized) {
		return s.Reauthenticate(ctx)
	}
	return err
}

// Reauthenticate acquires a new access token, installs it and verifies it.
// The config is saved so the token survives a restart.
func (s *Session) Reauthenticate(ctx context.Context) error {
	token, err := s.sdk.GetAccessToken(ctx, s.config.Email)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}
	if err := s.sdk.SetAccessToken(token); err != nil {
		return err
	}
	if err := s.verify(ctx); err != nil {
		return err
	}

	s.config.AccessToken = token
	if s.config.Path != "" {
		if err := s.config.Save(); err != nil {
			slog.Warn("session save token", "path", s.config.Path, "error", err)
		}
	}
	slog.Info("session authenticated", "email", s.Identity())
	return nil
}

func (s *Session) verify(ctx context.Context) error {
	email, err := s.sdk.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("whoami: %w", err)
	}
	if !strings.EqualFold(email, s.config.Email) {
		return fmt.Errorf("%w: %s, expected %s", ErrIdentityMismatch, email, s.config.Email)
	}

	s.mu.Lock()
	s.identity = email
	s.mu.Unlock()
	return nil
}

func (s *Session) Close() {
	s.sdk.Close()
}
