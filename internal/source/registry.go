package source

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"datadesk/internal/fault"
	"datadesk/internal/home"
	"datadesk/internal/logging"
	"datadesk/internal/plugin"
)

// Artifacts is the slice of the artifact cache the registry needs:
// timestamp lookup for node construction and clearing on invalidation.
type Artifacts interface {
	CacheInfo
	Clear(dataID string) error
}

// SessionTeardown shuts down whatever viewer session a node owns. Wired
// in after construction because sessions sit above sources.
type SessionTeardown func(ctx context.Context, n *Node)

// Registry holds every registered data source in registration order.
// It owns the create-or-replace flow: staged install, validation, and
// the invalidation that a code change forces.
//
// Concurrency model:
//   - Get/List/FindNode are in-memory under a read lock
//   - CreateOrReplace stages and validates without the lock, then
//     commits under the write lock
//   - per-source state is guarded separately by the source's own mutex
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*DataSource
	order []string

	store     *plugin.Store
	home      home.Dir
	artifacts Artifacts
	teardown  SessionTeardown

	logger *slog.Logger
}

// NewRegistry creates an empty registry. artifacts must not be nil.
func NewRegistry(store *plugin.Store, h home.Dir, artifacts Artifacts, logger *slog.Logger) *Registry {
	logger = logging.Default(logger).With("component", "source-registry")
	return &Registry{
		byID:      map[string]*DataSource{},
		store:     store,
		home:      h,
		artifacts: artifacts,
		logger:    logger,
	}
}

// SetSessionTeardown wires the session shutdown hook. Called once
// during startup wiring, before the registry serves requests.
func (r *Registry) SetSessionTeardown(fn SessionTeardown) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardown = fn
}

// Register adds src unless a source with the same id is already
// present, in which case the present one wins. A zero sort value gets
// the next free rank. The second return is true for a first-time
// registration.
func (r *Registry) Register(src *DataSource) (*DataSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(src)
}

// RegisterPackage registers a loaded package as a source. When the id
// is already registered, the package is treated as the on-disk truth:
// changed scripts invalidate the source the same way an update through
// the API would, and metadata edits are adopted in place. Rescans go
// through here, so out-of-band edits to a package directory take
// effect on the next scan.
func (r *Registry) RegisterPackage(ctx context.Context, pkg *plugin.Package, editable bool) (*DataSource, bool) {
	id := DeriveID(pkg.Path)

	r.mu.RLock()
	existing, exists := r.byID[id]
	r.mu.RUnlock()

	if !exists {
		return r.Register(FromPackage(pkg, editable, r.artifacts))
	}

	doomed, changed := existing.doomedNodes(pkg.ListPathsCode, pkg.GetDataCode)
	if changed {
		r.killNodes(ctx, doomed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing.mu.Lock()
	if changed {
		r.invalidateLocked(existing)
	}
	existing.adopt(pkg)
	existing.mu.Unlock()
	if changed {
		r.logger.Info("source reloaded from disk", "id", id, "name", pkg.Meta.DisplayName)
	}
	return existing, false
}

func (r *Registry) registerLocked(src *DataSource) (*DataSource, bool) {
	if existing, ok := r.byID[src.id]; ok {
		return existing, false
	}
	src.mu.Lock()
	if src.sortValue == 0 {
		src.sortValue = r.maxSortLocked() + 1
	}
	name := src.name
	src.mu.Unlock()
	r.byID[src.id] = src
	r.order = append(r.order, src.id)
	r.logger.Info("source registered", "id", src.id, "name", name)
	return src, true
}

func (r *Registry) maxSortLocked() int {
	max := 0
	for _, src := range r.byID {
		src.mu.Lock()
		if src.sortValue > max {
			max = src.sortValue
		}
		src.mu.Unlock()
	}
	return max
}

// Get retrieves a source by id.
func (r *Registry) Get(id string) (*DataSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.byID[id]
	return src, ok
}

// List returns all sources in registration order.
func (r *Registry) List() []*DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DataSource, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Count returns the number of registered sources.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// FindNode locates a node by data id across all sources.
func (r *Registry) FindNode(dataID string) (*DataSource, *Node, bool) {
	for _, src := range r.List() {
		if n, ok := src.Node(dataID); ok {
			return src, n, true
		}
	}
	return nil, nil, false
}

// ArtifactLive reports whether a cached artifact may still belong to a
// node. Materialization is lazy, so after a restart a source has no
// nodes until load-nodes runs, yet its node ids are deterministic and
// will come back. An id is only dead once every source has finished
// enumerating and none of them owns it. The artifact sweeper uses this
// as its liveness check.
func (r *Registry) ArtifactLive(dataID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, src := range r.byID {
		if src.mayOwnArtifact(dataID) {
			return true
		}
	}
	return false
}

// LayoutChange is one entry of an update-layout request.
type LayoutChange struct {
	ID        string `json:"id"`
	Visible   bool   `json:"visible"`
	SortValue int    `json:"sortValue"`
}

// ApplyLayout applies display ordering and visibility changes. An
// unknown id fails the whole batch before anything is touched.
func (r *Registry) ApplyLayout(changes []LayoutChange) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range changes {
		if _, ok := r.byID[c.ID]; !ok {
			return fault.New(fault.NotFound, "unknown source %q", c.ID)
		}
	}
	for _, c := range changes {
		r.byID[c.ID].SetLayout(c.Visible, c.SortValue)
	}
	return nil
}

// CreateOrReplace installs the described source package. The scripts
// are staged and validated before any permanent state moves, so a bad
// descriptor leaves both the registry and the loaders directory
// untouched.
//
// Without overwrite, an already-registered id returns the existing
// source untouched; the registry is the source of truth.
//
// With overwrite set, an existing editable source is updated in place.
// A script change invalidates everything derived from the old code:
// running sessions are shut down, cached artifacts cleared, and the
// node tree reset for re-enumeration. Identical scripts keep the nodes
// as they are.
func (r *Registry) CreateOrReplace(ctx context.Context, desc Descriptor, overwrite bool) (*DataSource, error) {
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return nil, fault.New(fault.Validation, "display name is required")
	}

	pkgName := desc.PackageName
	if pkgName == "" {
		pkgName = r.store.UniqueName(name)
	}
	finalPath := filepath.Join(r.store.LoadersDir(), pkgName)
	id := DeriveID(finalPath)

	r.mu.RLock()
	existing, exists := r.byID[id]
	r.mu.RUnlock()
	if exists && !overwrite {
		return existing, nil
	}
	if exists && !existing.Editable() {
		return nil, fault.New(fault.Permission, "source %q is not editable", existing.Name())
	}

	staging, err := r.home.StagingDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	meta := plugin.Metadata{DisplayName: name, Interpreter: desc.Interpreter}
	staged, err := r.store.Create(staging, pkgName, desc.ListPaths, desc.GetData, meta)
	if err != nil {
		return nil, err
	}
	if err := plugin.Validate(ctx, staged); err != nil {
		return nil, err
	}

	// Session teardown can block on slow viewer shutdowns, so it runs
	// before any registry lock is taken.
	var changed bool
	if existing != nil {
		var doomed []*Node
		doomed, changed = existing.doomedNodes(desc.ListPaths, desc.GetData)
		if changed {
			r.killNodes(ctx, doomed)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing != nil && changed {
		existing.mu.Lock()
		r.invalidateLocked(existing)
		existing.mu.Unlock()
	}

	installed, err := r.store.Move(staged, r.store.LoadersDir(), true)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		existing.mu.Lock()
		existing.adopt(installed)
		existing.mu.Unlock()
		r.logger.Info("source updated", "id", id, "name", name)
		return existing, nil
	}

	src, _ := r.registerLocked(FromPackage(installed, true, r.artifacts))
	return src, nil
}

// KillAllNodes shuts down every live viewer session of the source.
// Nodes and cached artifacts stay.
func (r *Registry) KillAllNodes(ctx context.Context, id string) error {
	src, ok := r.Get(id)
	if !ok {
		return fault.New(fault.NotFound, "unknown source %q", id)
	}
	r.killNodes(ctx, src.Nodes())
	return nil
}

// killNodes runs the session teardown hook over the nodes. It holds no
// registry or source lock: one teardown is a viewer HTTP call and can
// be slow, and the hook is free to read the registry.
func (r *Registry) killNodes(ctx context.Context, nodes []*Node) {
	r.mu.RLock()
	fn := r.teardown
	r.mu.RUnlock()
	if fn == nil {
		return
	}
	for _, n := range nodes {
		fn(ctx, n)
	}
}

// invalidateLocked clears the cached artifacts of every node and
// resets the node tree. Sessions must already be down; see killNodes.
// Caller holds both the registry lock and src.mu.
func (r *Registry) invalidateLocked(src *DataSource) {
	for _, nodeID := range src.order {
		n := src.nodes[nodeID]
		if err := r.artifacts.Clear(n.DataID); err != nil {
			r.logger.Warn("clear artifacts", "dataId", n.DataID, "error", err)
		}
	}
	src.resetNodes()
	r.logger.Info("source invalidated", "id", src.id)
}
