// Package session manages viewer sessions for nodes: loading the
// node's data through the cache, handing it to the viewer, waiting for
// the session to come up, and tearing it down again.
package session

import (
	"context"
	"log/slog"
	"time"

	"datadesk/internal/cache"
	"datadesk/internal/fault"
	"datadesk/internal/frame"
	"datadesk/internal/logging"
	"datadesk/internal/source"
	"datadesk/internal/viewer"
)

// Manager coordinates the viewer, the artifact cache, and node state.
// Safe for concurrent use; per-node interleavings are tolerated the
// same way the viewer tolerates duplicate launches.
type Manager struct {
	viewer viewer.Service
	cache  *cache.Store

	// readyInterval and readyBudget bound the post-launch poll for the
	// session to come up.
	readyInterval time.Duration
	readyBudget   time.Duration

	logger *slog.Logger
}

// Config configures a Manager.
type Config struct {
	Viewer viewer.Service
	Cache  *cache.Store

	// ReadyInterval defaults to 1s, ReadyBudget to 3m.
	ReadyInterval time.Duration
	ReadyBudget   time.Duration

	Logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = time.Second
	}
	if cfg.ReadyBudget <= 0 {
		cfg.ReadyBudget = 3 * time.Minute
	}
	return &Manager{
		viewer:        cfg.Viewer,
		cache:         cfg.Cache,
		readyInterval: cfg.ReadyInterval,
		readyBudget:   cfg.ReadyBudget,
		logger:        logging.Default(cfg.Logger).With("component", "sessions"),
	}
}

// Data returns the node's dataset, serving the cached artifact when one
// exists. A miss (or ignoreCache) runs the source's get_data script and
// persists the result, stamping the node's cache timestamp.
func (m *Manager) Data(ctx context.Context, src *source.DataSource, n *source.Node, ignoreCache bool) (*frame.Frame, error) {
	if !ignoreCache && m.cache.HasData(n.DataID) {
		return m.cache.ReadData(n.DataID)
	}

	f, err := src.Runner().GetData(ctx, n.Path)
	if err != nil {
		n.SetError(err.Error())
		return nil, err
	}
	if err := m.cache.SaveData(n.DataID, f); err != nil {
		n.SetError(err.Error())
		return nil, err
	}
	if at, ok := m.cache.LastCachedAt(n.DataID); ok {
		n.SetLastCachedAt(at)
	}
	n.SetError("")
	return f, nil
}

// Launch gets or creates the viewer session for the node. An already
// live session only refreshes the URLs. Otherwise the data is loaded,
// handed to the viewer, and the session polled until it answers or the
// budget runs out. Failures land on the node's error field as well as
// the returned fault.
func (m *Manager) Launch(ctx context.Context, src *source.DataSource, n *source.Node) error {
	urls := m.viewer.PageURLs(n.DataID)
	if m.viewer.Alive(ctx, n.DataID) {
		n.SetViewerURLs(urls.Main, urls.Charts, urls.Describe, urls.Correlations)
		return nil
	}

	f, err := m.Data(ctx, src, n, false)
	if err != nil {
		return err
	}
	if err := m.viewer.Launch(ctx, n.DataID, f); err != nil {
		n.SetError(err.Error())
		return err
	}
	n.SetViewerURLs(urls.Main, urls.Charts, urls.Describe, urls.Correlations)

	if err := m.awaitReady(ctx, n.DataID); err != nil {
		n.SetError(err.Error())
		return err
	}
	n.SetError("")
	m.logger.Info("session launched", "dataId", n.DataID)
	return nil
}

func (m *Manager) awaitReady(ctx context.Context, dataID string) error {
	deadline := time.Now().Add(m.readyBudget)
	for {
		if m.viewer.Alive(ctx, dataID) {
			return nil
		}
		if time.Now().After(deadline) {
			return fault.New(fault.Timeout, "viewer session %s timed out coming up", dataID)
		}
		select {
		case <-ctx.Done():
			return fault.Wrap(fault.Timeout, ctx.Err(), "waiting for viewer session")
		case <-time.After(m.readyInterval):
		}
	}
}

// Kill shuts the node's viewer session down and clears its URLs.
func (m *Manager) Kill(ctx context.Context, n *source.Node) error {
	if err := m.viewer.Kill(ctx, n.DataID); err != nil {
		return err
	}
	n.ClearViewerURLs()
	m.logger.Info("session killed", "dataId", n.DataID)
	return nil
}

// Teardown is Kill as a registry hook: best effort, errors logged.
func (m *Manager) Teardown(ctx context.Context, n *source.Node) {
	if err := m.Kill(ctx, n); err != nil {
		m.logger.Warn("session teardown", "dataId", n.DataID, "error", err)
	}
}

// ClearCache removes the node's cached artifacts. A live session keeps
// running; only the artifacts go.
func (m *Manager) ClearCache(n *source.Node) error {
	if err := m.cache.Clear(n.DataID); err != nil {
		return err
	}
	n.SetLastCachedAt(0)
	return nil
}
