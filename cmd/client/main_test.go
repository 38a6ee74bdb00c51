package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/syftsync/internal/client/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigEnv(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	dataDir := filepath.Join(dir, "data")

	t.Setenv("SYFTSYNC_CONFIG_PATH", configPath)
	t.Setenv("SYFTSYNC_EMAIL", "Test@Example.com")
	t.Setenv("SYFTSYNC_DATA_DIR", dataDir)
	t.Setenv("SYFTSYNC_SERVER_URL", "https://test.syftbox.net/")
	t.Setenv("SYFTSYNC_ACCESS_TOKEN", "test-access-token")
	t.Setenv("SYFTSYNC_INTERVAL", "30s")
	t.Setenv("SYFTSYNC_WORKERS", "4")
	t.Setenv("SYFTSYNC_CONTROL_PLANE_ADDR", "localhost:9000")

	cfg, err := loadConfig(newRootCmd())
	require.NoError(t, err)

	assert.Equal(t, configPath, cfg.Path)
	assert.Equal(t, "test@example.com", cfg.Email)
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "https://test.syftbox.net", cfg.ServerURL)
	assert.Equal(t, "test-access-token", cfg.AccessToken)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "localhost:9000", cfg.ControlPlane.Addr)
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	saved := &config.Config{
		Path:          configPath,
		Email:         "test@example.com",
		DataDir:       filepath.Join(dir, "data"),
		ServerURL:     "https://test-json.syftbox.net",
		AccessToken:   "test-access-token-json",
		BulkThreshold: 16,
		Interval:      time.Minute,
		ControlPlane:  config.ControlPlane{Addr: "127.0.0.1:8080", Token: "cp-token"},
	}
	require.NoError(t, saved.Save())

	cmd := newRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("config", configPath))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, configPath, cfg.Path)
	assert.Equal(t, saved.Email, cfg.Email)
	assert.Equal(t, saved.DataDir, cfg.DataDir)
	assert.Equal(t, saved.ServerURL, cfg.ServerURL)
	assert.Equal(t, saved.AccessToken, cfg.AccessToken)
	assert.Equal(t, 16, cfg.BulkThreshold)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, saved.ControlPlane, cfg.ControlPlane)
}

func TestLoadConfigFlagsBeatFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"email":"file@example.com","server_url":"https://file.example.com"}`), 0o600))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", configPath,
		"--email", "flag@example.com",
		"--http-addr", "localhost:7000",
	}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "flag@example.com", cfg.Email)
	assert.Equal(t, "https://file.example.com", cfg.ServerURL)
	assert.Equal(t, "localhost:7000", cfg.ControlPlane.Addr)
}

func TestLoadConfigDefaults(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", filepath.Join(t.TempDir(), "missing.json"),
		"--email", "alice@example.com",
	}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultDataDir, cfg.DataDir)
	assert.Equal(t, config.DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, config.DefaultControlPlaneAddr, cfg.ControlPlane.Addr)
	assert.Empty(t, cfg.AccessToken)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		file string
	}{
		{"missing email", `{"server_url":"https://example.com"}`},
		{"bad server", `{"email":"alice@example.com","server_url":"ftp://example.com"}`},
		{"unknown backend", `{"email":"alice@example.com","storage_backend":"postgres"}`},
		{"malformed", `{"email":`},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(dir, "config"+string(rune('a'+i))+".json")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.file), 0o600))

			cmd := newRootCmd()
			require.NoError(t, cmd.PersistentFlags().Set("config", configPath))

			_, err := loadConfig(cmd)
			assert.Error(t, err)
		})
	}
}

func TestRootCommand_FlagsAndDefaults(t *testing.T) {
	cmd := newRootCmd()

	httpAddr := cmd.Flags().Lookup("http-addr")
	require.NotNil(t, httpAddr)
	require.Equal(t, "a", httpAddr.Shorthand)
	require.Equal(t, config.DefaultControlPlaneAddr, httpAddr.DefValue)

	httpToken := cmd.Flags().Lookup("http-token")
	require.NotNil(t, httpToken)
	require.Equal(t, "t", httpToken.Shorthand)
	require.Equal(t, "", httpToken.DefValue)

	for _, name := range []string{"email", "datadir", "server", "config"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestLoginSavesConfig(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/request_email_token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"email_token": "email-token"})
	})
	mux.HandleFunc("POST /auth/validate_email_token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "access-token"})
	})
	mux.HandleFunc("POST /auth/whoami", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"email": "alice@example.com"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	root := newRootCmd()
	root.AddCommand(newLoginCmd())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"login",
		"--config", configPath,
		"--email", "alice@example.com",
		"--server", srv.URL,
		"--datadir", filepath.Join(dir, "data"),
	})

	require.NoError(t, root.Execute())
	assert.Contains(t, stripANSI(out.String()), "alice@example.com")

	saved, err := config.LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", saved.Email)
	assert.Equal(t, "access-token", saved.AccessToken)
	assert.Equal(t, srv.URL, saved.ServerURL)

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSyncWithoutEmailFails(t *testing.T) {
	t.Setenv("SYFTSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "config.json"))
	t.Setenv("SYFTSYNC_EMAIL", "")

	out, code := runCLI(t, "sync")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "email")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
