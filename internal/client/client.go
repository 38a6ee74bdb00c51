package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/syftsync/internal/client/config"
	"github.com/openmined/syftsync/internal/client/controlplane"
	"github.com/openmined/syftsync/internal/client/storage"
	"github.com/openmined/syftsync/internal/client/sync"
	"github.com/openmined/syftsync/internal/client/workspace"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Client is one sync node: the session of its identity, its workspace and
// state, the engine moving files between them and the server, and
// optionally the control plane.
type Client struct {
	config       *config.Config
	session      *Session
	workspace    *workspace.Workspace
	storage      storage.Storage
	engine       *sync.SyncEngine
	watcher      *sync.FileWatcher
	controlPlane *controlplane.Server
}

type Option func(*options)

type options struct {
	watch        bool
	controlPlane bool
}

// WithWatcher feeds local writes of the workspace into the engine.
func WithWatcher() Option {
	return func(o *options) {
		o.watch = true
	}
}

// WithControlPlane serves the local api on the configured address.
func WithControlPlane() Option {
	return func(o *options) {
		o.controlPlane = true
	}
}

// New sets up the workspace, opens the state and authenticates. The
// workspace stays locked until Close.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ws, err := workspace.NewWorkspace(cfg.DataDir, cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := ws.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup workspace: %w", err)
	}

	c := &Client{config: cfg, workspace: ws}
	if err := c.init(ctx, o); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) init(ctx context.Context, o options) error {
	store, err := storage.New(c.config.StorageBackend, c.workspace.StatePath())
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	c.storage = store

	session, err := NewSession(ctx, c.config)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	c.session = session

	engineOpts := []sync.EngineOption{
		sync.WithAuthenticator(session),
	}
	if o.watch {
		c.watcher = sync.NewFileWatcher(c.workspace.DatasitesDir)
		engineOpts = append(engineOpts, sync.WithFileWatcher(c.watcher))
	}

	c.engine, err = sync.NewSyncEngine(sync.SyncEngineConfig{
		Owner:         session.Identity(),
		Workers:       c.config.Workers,
		BulkThreshold: c.config.BulkThreshold,
		Interval:      c.config.Interval,
	}, session.SDK().Sync, store, c.workspace, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}

	if o.controlPlane {
		addr := c.config.ControlPlane.Addr
		if addr == "" {
			addr = config.DefaultControlPlaneAddr
		}
		c.controlPlane = controlplane.New(&controlplane.Config{
			Addr:      addr,
			AuthToken: c.config.ControlPlane.Token,
		}, c.engine)
	}

	return nil
}

func (c *Client) Engine() *sync.SyncEngine {
	return c.engine
}

func (c *Client) Session() *Session {
	return c.session
}

// SyncOnce runs a single cycle.
func (c *Client) SyncOnce(ctx context.Context, pull, push bool) (*sync.SyncReport, error) {
	return c.engine.Sync(ctx, pull, push)
}

// Start runs periodic sync, and the control plane if enabled, until ctx is
// done.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("syftsync client start",
		"datadir", c.config.DataDir,
		"email", c.session.Identity(),
		"server", c.config.ServerURL,
	)

	eg, egCtx := errgroup.WithContext(ctx)

	if err := c.engine.Start(egCtx); err != nil {
		return fmt.Errorf("failed to start sync engine: %w", err)
	}

	if c.controlPlane != nil {
		eg.Go(func() error {
			return c.controlPlane.Start(egCtx)
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("stopping client")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var err error
		if c.controlPlane != nil {
			err = c.controlPlane.Stop(shutdownCtx)
		}
		c.engine.Stop()
		return err
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client failure", "error", err)
		return err
	}

	slog.Info("syftsync client stop")
	return nil
}

// Close releases the state, the session and the workspace lock.
func (c *Client) Close() {
	if c.storage != nil {
		if err := c.storage.Close(); err != nil {
			slog.Warn("close state", "error", err)
		}
	}
	if c.session != nil {
		c.session.Close()
	}
	if err := c.workspace.Unlock(); err != nil {
		slog.Warn("unlock workspace", "error", err)
	}
}
