// Package source maintains the registry of data sources and the node
// trees they enumerate. A source wraps a loaded plugin package; its
// nodes materialize incrementally from the package's path cursor and
// survive until the source's code changes.
package source

import (
	"context"
	"errors"
	"io"
	"sync"

	"datadesk/internal/plugin"
)

// CacheInfo answers whether a node's data artifact exists and when it
// was written. The cache store satisfies it.
type CacheInfo interface {
	LastCachedAt(dataID string) (int64, bool)
}

// DataSource is one registered data source. Its id is derived from the
// package path, so re-registering the same package lands on the same
// source. All state behind mu; LoadNodes may hold it across subprocess
// reads, serializing enumeration against replacement.
type DataSource struct {
	mu sync.Mutex

	id          string
	name        string
	packageName string
	packagePath string

	listPathsCode string
	getDataCode   string

	runner   plugin.Runner
	visible  bool
	editable bool

	sortValue int
	errMsg    string

	nodes       map[string]*Node
	order       []string
	fullyLoaded bool
	cursor      plugin.Cursor
	nextSort    int

	cache CacheInfo
}

// Config carries the construction parameters for a DataSource.
type Config struct {
	Name          string
	PackageName   string
	PackagePath   string
	ListPathsCode string
	GetDataCode   string
	Runner        plugin.Runner
	Visible       bool
	Editable      bool
	SortValue     int
	Cache         CacheInfo
}

// New builds a DataSource from cfg. The id is the hash of the package
// path.
func New(cfg Config) *DataSource {
	return &DataSource{
		id:            DeriveID(cfg.PackagePath),
		name:          cfg.Name,
		packageName:   cfg.PackageName,
		packagePath:   cfg.PackagePath,
		listPathsCode: cfg.ListPathsCode,
		getDataCode:   cfg.GetDataCode,
		runner:        cfg.Runner,
		visible:       cfg.Visible,
		editable:      cfg.Editable,
		sortValue:     cfg.SortValue,
		nodes:         map[string]*Node{},
		cache:         cfg.Cache,
	}
}

// FromPackage builds a DataSource directly from a loaded package.
// Editable distinguishes user sources from built-ins.
func FromPackage(pkg *plugin.Package, editable bool, cache CacheInfo) *DataSource {
	return New(Config{
		Name:          pkg.Meta.DisplayName,
		PackageName:   pkg.Name,
		PackagePath:   pkg.Path,
		ListPathsCode: pkg.ListPathsCode,
		GetDataCode:   pkg.GetDataCode,
		Runner:        pkg.Runner(),
		Visible:       true,
		Editable:      editable,
		Cache:         cache,
	})
}

// ID returns the stable source id.
func (s *DataSource) ID() string { return s.id }

// Name returns the display name.
func (s *DataSource) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// PackagePath returns the package directory backing this source.
func (s *DataSource) PackagePath() string { return s.packagePath }

// Editable reports whether update operations may touch this source.
func (s *DataSource) Editable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editable
}

// LoadNodes pulls up to limit further paths from the enumeration
// cursor and materializes them as nodes. limit <= 0 means drain to the
// end. Enumeration suspends between calls; once the cursor reports a
// clean end the source is fully loaded and later calls are no-ops.
//
// A terminal cursor error is recorded on the source and discards the
// cursor, so the next call restarts enumeration from scratch.
func (s *DataSource) LoadNodes(ctx context.Context, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fullyLoaded {
		return nil
	}
	if s.cursor == nil {
		// The cursor suspends between calls and must outlive the
		// request that started it; resetNodes is what stops it.
		cur, err := s.runner.ListPaths(context.WithoutCancel(ctx))
		if err != nil {
			s.errMsg = err.Error()
			return err
		}
		s.cursor = cur
		s.errMsg = ""
	}

	pulled := 0
	for limit <= 0 || pulled < limit {
		path, err := s.cursor.Next()
		if errors.Is(err, io.EOF) {
			s.fullyLoaded = true
			s.cursor = nil
			break
		}
		if err != nil {
			s.errMsg = err.Error()
			s.cursor = nil
			return err
		}
		pulled++
		s.materialize(path)
	}
	return nil
}

// materialize records path as a node. Re-seeing a known path is a no-op
// so enumeration stays idempotent. Caller holds mu.
func (s *DataSource) materialize(path string) {
	id := DeriveID(s.id, path)
	if _, ok := s.nodes[id]; ok {
		return
	}
	s.nextSort++
	n := newNode(s.id, path, s.nextSort)
	if s.cache != nil {
		if at, ok := s.cache.LastCachedAt(id); ok {
			n.lastCachedAt = at
		}
	}
	s.nodes[id] = n
	s.order = append(s.order, id)
}

// Node returns the node with the given data id.
func (s *DataSource) Node(dataID string) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[dataID]
	return n, ok
}

// Nodes returns the materialized nodes in discovery order.
func (s *DataSource) Nodes() []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id])
	}
	return out
}

// NodesFullyLoaded reports whether enumeration has completed.
func (s *DataSource) NodesFullyLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullyLoaded
}

// Runner returns the source's script runner.
func (s *DataSource) Runner() plugin.Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner
}

// SetLayout applies a display layout change.
func (s *DataSource) SetLayout(visible bool, sortValue int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = visible
	s.sortValue = sortValue
}

// codeChanged reports whether either script differs from the source's
// current code. Caller holds mu.
func (s *DataSource) codeChanged(listPaths, getData string) bool {
	return s.listPathsCode != listPaths || s.getDataCode != getData
}

// doomedNodes snapshots the nodes whose sessions have to go down
// before the source can adopt the given scripts. changed is false, and
// the snapshot empty, when the scripts match the current code.
func (s *DataSource) doomedNodes(listPaths, getData string) (doomed []*Node, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.codeChanged(listPaths, getData) {
		return nil, false
	}
	doomed = make([]*Node, 0, len(s.order))
	for _, id := range s.order {
		doomed = append(doomed, s.nodes[id])
	}
	return doomed, true
}

// mayOwnArtifact reports whether dataID names one of the source's
// nodes, or still could: until enumeration completes the node set is
// open, and node ids are deterministic, so an artifact written before
// a restart belongs to a node that will rematerialize.
func (s *DataSource) mayOwnArtifact(dataID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[dataID]; ok {
		return true
	}
	return !s.fullyLoaded
}

// adopt swaps in a freshly installed package, keeping identity and
// layout. resetNodes must have run first when the code changed. Caller
// holds mu.
func (s *DataSource) adopt(pkg *plugin.Package) {
	s.name = pkg.Meta.DisplayName
	s.packageName = pkg.Name
	s.listPathsCode = pkg.ListPathsCode
	s.getDataCode = pkg.GetDataCode
	s.runner = pkg.Runner()
}

// resetNodes abandons enumeration state: live cursor, node map, the
// fully-loaded mark. Caller holds mu and has already torn down any
// sessions and artifacts the nodes owned.
func (s *DataSource) resetNodes() {
	if s.cursor != nil {
		s.cursor.Close()
		s.cursor = nil
	}
	s.nodes = map[string]*Node{}
	s.order = nil
	s.fullyLoaded = false
	s.nextSort = 0
	s.errMsg = ""
}
