package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/syftsync/internal/client/config"
	"github.com/openmined/syftsync/internal/syftsdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEmail = "alice@example.com"

// authServer issues tokens for one identity and accepts only the latest one.
type authServer struct {
	t      *testing.T
	srv    *httptest.Server
	mu     gosync.Mutex
	issued []string
	valid  string
	whoami string
	expiry time.Time
	whoCnt int
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	as := &authServer{t: t, whoami: testEmail, expiry: time.Now().Add(time.Hour)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/request_email_token", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]string{"email_token": "email-token"})
	})
	mux.HandleFunc("POST /auth/validate_email_token", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer email-token" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"detail": "bad email token"})
			return
		}
		as.mu.Lock()
		defer as.mu.Unlock()
		token := as.signToken(len(as.issued))
		as.issued = append(as.issued, token)
		as.valid = token
		writeTestJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
	})
	mux.HandleFunc("POST /auth/whoami", func(w http.ResponseWriter, r *http.Request) {
		as.mu.Lock()
		defer as.mu.Unlock()
		as.whoCnt++
		if strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != as.valid {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid token"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]string{"email": as.whoami})
	})

	as.srv = httptest.NewServer(mux)
	t.Cleanup(as.srv.Close)
	return as
}

func (as *authServer) signToken(n int) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": as.whoami,
		"exp": as.expiry.Unix(),
		"n":   n,
	}).SignedString([]byte("test-secret"))
	require.NoError(as.t, err)
	return token
}

func (as *authServer) issuedCount() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return len(as.issued)
}

func (as *authServer) token(i int) string {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.issued[i]
}

func (as *authServer) whoamiCount() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.whoCnt
}

func (as *authServer) config(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:   dir,
		Email:     testEmail,
		ServerURL: as.srv.URL,
		Path:      filepath.Join(dir, "config.json"),
	}
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewSessionAcquiresToken(t *testing.T) {
	as := newAuthServer(t)
	cfg := as.config(t)

	s, err := NewSession(t.Context(), cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, testEmail, s.Identity())
	assert.Equal(t, 1, as.issuedCount())
	assert.Equal(t, as.token(0), s.SDK().AccessToken())

	// persisted for the next start
	saved, err := config.LoadFromFile(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, as.token(0), saved.AccessToken)
}

func TestNewSessionReusesValidToken(t *testing.T) {
	as := newAuthServer(t)
	first, err := NewSession(t.Context(), as.config(t))
	require.NoError(t, err)
	first.Close()

	cfg := as.config(t)
	cfg.AccessToken = first.SDK().AccessToken()

	s, err := NewSession(t.Context(), cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, as.issuedCount())
}

func TestNewSessionReplacesRefusedToken(t *testing.T) {
	as := newAuthServer(t)
	cfg := as.config(t)
	cfg.AccessToken = "stale"

	s, err := NewSession(t.Context(), cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1, as.issuedCount())
	assert.Equal(t, as.token(0), cfg.AccessToken)
}

func TestNewSessionIdentityMismatch(t *testing.T) {
	as := newAuthServer(t)
	as.mu.Lock()
	as.whoami = "mallory@example.com"
	as.mu.Unlock()

	_, err := NewSession(t.Context(), as.config(t))
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestNewSessionServerUnreachable(t *testing.T) {
	as := newAuthServer(t)
	cfg := as.config(t)
	as.srv.Close()

	_, err := NewSession(t.Context(), cfg)
	assert.ErrorIs(t, err, syftsdk.ErrTransport)
}

func TestEnsureAuthKeepsFreshToken(t *testing.T) {
	as := newAuthServer(t)
	clock := clockwork.NewFakeClockAt(time.Now())

	s, err := NewSession(t.Context(), as.config(t), WithSessionClock(clock))
	require.NoError(t, err)
	defer s.Close()

	calls := as.whoamiCount()
	require.NoError(t, s.EnsureAuth(t.Context()))
	assert.Equal(t, 1, as.issuedCount())
	assert.Equal(t, calls, as.whoamiCount(), "an unexpired jwt needs no round trip")
}

func TestEnsureAuthRefreshesExpiringToken(t *testing.T) {
	as := newAuthServer(t)
	clock := clockwork.NewFakeClockAt(time.Now())

	s, err := NewSession(t.Context(), as.config(t), WithSessionClock(clock))
	require.NoError(t, err)
	defer s.Close()

	clock.Advance(time.Hour - time.Minute)
	require.NoError(t, s.EnsureAuth(t.Context()))
	assert.Equal(t, 2, as.issuedCount())
	assert.Equal(t, as.token(1), s.SDK().AccessToken())
}

func TestEnsureAuthChecksOpaqueToken(t *testing.T) {
	as := newAuthServer(t)
	s, err := NewSession(t.Context(), as.config(t))
	require.NoError(t, err)
	defer s.Close()

	// a token the client cannot parse is verified with the server, and
	// replaced once refused
	require.NoError(t, s.SDK().SetAccessToken("opaque"))
	require.NoError(t, s.EnsureAuth(t.Context()))
	assert.Equal(t, 2, as.issuedCount())
}
