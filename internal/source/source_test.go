package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"datadesk/internal/fault"
	"datadesk/internal/frame"
	"datadesk/internal/home"
	"datadesk/internal/plugin"
)

// sliceCursor yields canned paths, optionally failing partway through.
type sliceCursor struct {
	paths  []string
	i      int
	failAt int
	err    error
}

func (c *sliceCursor) Next() (string, error) {
	if c.err != nil && c.i == c.failAt {
		return "", c.err
	}
	if c.i >= len(c.paths) {
		return "", io.EOF
	}
	p := c.paths[c.i]
	c.i++
	return p, nil
}

func (c *sliceCursor) Close() error { return nil }

type stubRunner struct {
	paths     []string
	failAt    int
	err       error
	listCalls int
}

func (r *stubRunner) ListPaths(ctx context.Context) (plugin.Cursor, error) {
	r.listCalls++
	return &sliceCursor{paths: r.paths, failAt: r.failAt, err: r.err}, nil
}

func (r *stubRunner) GetData(ctx context.Context, path string) (*frame.Frame, error) {
	return &frame.Frame{Columns: []string{"col"}, Rows: [][]string{{path}}}, nil
}

func numberedPaths(n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("bucket/part-%03d.csv", i)
	}
	return paths
}

func newTestSource(r *stubRunner) *DataSource {
	return New(Config{
		Name:        "Test Source",
		PackageName: "test_source",
		PackagePath: "/loaders/test_source",
		Runner:      r,
		Visible:     true,
		Editable:    true,
	})
}

func TestLoadNodesPagination(t *testing.T) {
	src := newTestSource(&stubRunner{paths: numberedPaths(99)})

	if err := src.LoadNodes(context.Background(), 30); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	if got := len(src.Nodes()); got != 30 {
		t.Fatalf("expected 30 nodes, got %d", got)
	}
	if src.NodesFullyLoaded() {
		t.Fatal("should not be fully loaded after partial pull")
	}

	if err := src.LoadNodes(context.Background(), 0); err != nil {
		t.Fatalf("LoadNodes drain: %v", err)
	}
	if got := len(src.Nodes()); got != 99 {
		t.Fatalf("expected 99 nodes after drain, got %d", got)
	}
	if !src.NodesFullyLoaded() {
		t.Fatal("should be fully loaded after drain")
	}

	before := src.Serialize()
	if err := src.LoadNodes(context.Background(), 0); err != nil {
		t.Fatalf("LoadNodes after completion: %v", err)
	}
	after := src.Serialize()
	if len(after.Nodes) != len(before.Nodes) || !after.NodesFullyLoaded {
		t.Fatal("repeat load after completion must be a no-op")
	}
}

func TestLoadNodesResumesAcrossCalls(t *testing.T) {
	r := &stubRunner{paths: []string{"a", "b", "c"}}
	src := newTestSource(r)

	if err := src.LoadNodes(context.Background(), 2); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	if err := src.LoadNodes(context.Background(), 2); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	if r.listCalls != 1 {
		t.Fatalf("enumeration restarted: %d list calls", r.listCalls)
	}
	if got := len(src.Nodes()); got != 3 {
		t.Fatalf("expected 3 nodes, got %d", got)
	}
}

func TestNodeIdentityIsStable(t *testing.T) {
	src := newTestSource(&stubRunner{paths: []string{"x/y.csv", "x/y.csv", "x/z.csv"}})
	if err := src.LoadNodes(context.Background(), 0); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	nodes := src.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("duplicate path produced a duplicate node: %d nodes", len(nodes))
	}
	want := DeriveID(src.ID(), "x/y.csv")
	if nodes[0].DataID != want {
		t.Fatalf("node id = %s, want %s", nodes[0].DataID, want)
	}
	if nodes[0].SortValue() != 1 || nodes[1].SortValue() != 2 {
		t.Fatalf("sort values %d,%d; want 1,2", nodes[0].SortValue(), nodes[1].SortValue())
	}
}

func TestLoadNodesErrorRestartsEnumeration(t *testing.T) {
	r := &stubRunner{
		paths:  []string{"a", "b", "c"},
		failAt: 2,
		err:    fault.New(fault.Execution, "list_paths exited"),
	}
	src := newTestSource(r)

	if err := src.LoadNodes(context.Background(), 0); err == nil {
		t.Fatal("expected enumeration error")
	}
	ser := src.Serialize()
	if ser.Error == nil {
		t.Fatal("error not recorded on source")
	}

	// Retry starts a fresh cursor; already-seen paths stay idempotent.
	r.err = nil
	if err := src.LoadNodes(context.Background(), 0); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if r.listCalls != 2 {
		t.Fatalf("expected a fresh enumeration on retry, got %d calls", r.listCalls)
	}
	if got := len(src.Nodes()); got != 3 {
		t.Fatalf("expected 3 nodes after retry, got %d", got)
	}
	if ser := src.Serialize(); ser.Error != nil {
		t.Fatalf("stale error survived retry: %s", *ser.Error)
	}
}

// fakeArtifacts records Clear calls and serves canned timestamps.
type fakeArtifacts struct {
	stamps  map[string]int64
	cleared []string
}

func (f *fakeArtifacts) LastCachedAt(dataID string) (int64, bool) {
	at, ok := f.stamps[dataID]
	return at, ok
}

func (f *fakeArtifacts) Clear(dataID string) error {
	f.cleared = append(f.cleared, dataID)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeArtifacts, home.Dir) {
	t.Helper()
	h := home.New(t.TempDir())
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	store := plugin.NewStore(h.LoadersDir(), "sh")
	arts := &fakeArtifacts{stamps: map[string]int64{}}
	return NewRegistry(store, h, arts, nil), arts, h
}

func shDescriptor(name, listPaths, getData string) Descriptor {
	return Descriptor{
		Name:        name,
		ListPaths:   listPaths,
		GetData:     getData,
		Interpreter: []string{"sh"},
	}
}

func TestCreateRegistersSource(t *testing.T) {
	reg, _, h := newTestRegistry(t)

	desc := shDescriptor("My Buckets", "echo a\necho b\n", "echo col\necho 1\n")
	src, err := reg.CreateOrReplace(context.Background(), desc, false)
	if err != nil {
		t.Fatalf("CreateOrReplace: %v", err)
	}
	if src.Name() != "My Buckets" {
		t.Fatalf("name = %q", src.Name())
	}
	if got, ok := reg.Get(src.ID()); !ok || got != src {
		t.Fatal("source not retrievable by id")
	}
	if _, err := os.Stat(filepath.Join(h.LoadersDir(), "My_Buckets", "metadata.json")); err != nil {
		t.Fatalf("package not installed: %v", err)
	}

	if err := src.LoadNodes(context.Background(), 0); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	if got := len(src.Nodes()); got != 2 {
		t.Fatalf("expected 2 nodes, got %d", got)
	}
}

func TestCreateInvalidScriptLeavesNothingBehind(t *testing.T) {
	reg, _, h := newTestRegistry(t)

	desc := shDescriptor("Broken", "echo 'unterminated\n", "echo ok\n")
	if _, err := reg.CreateOrReplace(context.Background(), desc, false); err == nil {
		t.Fatal("expected validation failure")
	} else if !fault.Is(err, fault.Validation) {
		t.Fatalf("kind = %v, want Validation", fault.KindOf(err))
	}

	if reg.Count() != 0 {
		t.Fatalf("registry not empty: %d sources", reg.Count())
	}
	entries, err := os.ReadDir(h.LoadersDir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("loaders dir not empty: %v", entries)
	}
}

func TestCreateDuplicateWithoutOverwrite(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	desc := shDescriptor("Dup", "echo a\n", "echo col\n")

	first, err := reg.CreateOrReplace(ctx, desc, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Re-creating an existing id hands back the registered source
	// untouched instead of reinstalling the submitted code.
	desc.PackageName = "Dup"
	desc.ListPaths = "echo something-else\n"
	again, err := reg.CreateOrReplace(ctx, desc, false)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if again != first {
		t.Fatal("duplicate create must return the existing source")
	}
	if again.Serialize().ListPaths != "echo a\n" {
		t.Fatal("duplicate create must not replace code")
	}
}

func TestLoadNodesSurvivesRequestCancellation(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	// The sleep keeps the enumeration process alive past the first
	// page so a request-scoped process would get killed.
	listPaths := "echo a\necho b\nsleep 0.3\necho c\necho d\n"
	src, err := reg.CreateOrReplace(context.Background(), shDescriptor("Slow", listPaths, "echo col\n"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// First page under a context that ends with its request, as over
	// HTTP.
	reqCtx, cancel := context.WithCancel(context.Background())
	if err := src.LoadNodes(reqCtx, 2); err != nil {
		t.Fatalf("first page: %v", err)
	}
	if got := len(src.Nodes()); got != 2 {
		t.Fatalf("expected 2 nodes from first page, got %d", got)
	}
	cancel()
	time.Sleep(50 * time.Millisecond)

	if err := src.LoadNodes(context.Background(), 0); err != nil {
		t.Fatalf("resume after first request ended: %v", err)
	}
	if got := len(src.Nodes()); got != 4 {
		t.Fatalf("expected 4 nodes after drain, got %d", got)
	}
	if !src.NodesFullyLoaded() {
		t.Fatal("enumeration did not finish")
	}
}

func TestArtifactLiveTracksEnumeration(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	src, err := reg.CreateOrReplace(ctx, shDescriptor("Lazy", "echo a\necho b\n", "echo col\n"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Until enumeration finishes any id could still belong to this
	// source, e.g. an artifact written before a restart. Nothing may
	// be swept.
	if !reg.ArtifactLive("feedfeedfeedfeed") {
		t.Fatal("artifact declared dead while enumeration is open")
	}

	if err := src.LoadNodes(ctx, 0); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	if !reg.ArtifactLive(src.Nodes()[0].DataID) {
		t.Fatal("materialized node's artifact declared dead")
	}
	if reg.ArtifactLive("feedfeedfeedfeed") {
		t.Fatal("orphaned artifact still live after full enumeration")
	}
}

func TestUpdateTeardownRunsUnlocked(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	desc := shDescriptor("Busy", "echo a\n", "echo col\n")
	src, err := reg.CreateOrReplace(ctx, desc, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := src.LoadNodes(ctx, 0); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}

	// The teardown hook makes viewer HTTP calls and may consult the
	// registry; it must run with no registry or source lock held.
	calls := 0
	reg.SetSessionTeardown(func(ctx context.Context, n *Node) {
		calls++
		for _, s := range reg.List() {
			s.Serialize()
		}
	})

	desc.PackageName = "Busy"
	desc.ListPaths = "echo b\n"
	if _, err := reg.CreateOrReplace(ctx, desc, true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if calls != 1 {
		t.Fatalf("teardown calls = %d, want 1", calls)
	}
}

func TestKillAllNodes(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	src, err := reg.CreateOrReplace(ctx, shDescriptor("Live", "echo a\necho b\n", "echo col\n"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := src.LoadNodes(ctx, 0); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}

	var torndown []string
	reg.SetSessionTeardown(func(ctx context.Context, n *Node) {
		torndown = append(torndown, n.DataID)
	})

	if err := reg.KillAllNodes(ctx, src.ID()); err != nil {
		t.Fatalf("KillAllNodes: %v", err)
	}
	if len(torndown) != 2 {
		t.Fatalf("torndown = %v, want both nodes", torndown)
	}
	if len(src.Nodes()) != 2 {
		t.Fatal("KillAllNodes must not remove nodes")
	}

	if err := reg.KillAllNodes(ctx, "nope"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("expected NotFound for unknown source, got %v", err)
	}
}

func TestUpdateChangedCodeInvalidates(t *testing.T) {
	reg, arts, _ := newTestRegistry(t)
	ctx := context.Background()

	desc := shDescriptor("Trips", "echo a\necho b\n", "echo col\n")
	src, err := reg.CreateOrReplace(ctx, desc, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := src.LoadNodes(ctx, 0); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	nodeIDs := make([]string, 0, 2)
	for _, n := range src.Nodes() {
		nodeIDs = append(nodeIDs, n.DataID)
	}

	var torndown []string
	reg.SetSessionTeardown(func(ctx context.Context, n *Node) {
		torndown = append(torndown, n.DataID)
	})

	desc.PackageName = "Trips"
	desc.ListPaths = "echo a\necho b\necho c\n"
	updated, err := reg.CreateOrReplace(ctx, desc, true)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated != src {
		t.Fatal("update must keep source identity")
	}
	if len(src.Nodes()) != 0 || src.NodesFullyLoaded() {
		t.Fatal("nodes not reset after code change")
	}
	if len(torndown) != 2 || len(arts.cleared) != 2 {
		t.Fatalf("teardown=%v cleared=%v, want both node ids", torndown, arts.cleared)
	}

	if err := src.LoadNodes(ctx, 0); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := len(src.Nodes()); got != 3 {
		t.Fatalf("expected 3 nodes from new code, got %d", got)
	}
	// Same source id and path still derive the same node id.
	if src.Nodes()[0].DataID != nodeIDs[0] {
		t.Fatal("node identity changed across update")
	}
}

func TestUpdateIdenticalCodeKeepsNodes(t *testing.T) {
	reg, arts, _ := newTestRegistry(t)
	ctx := context.Background()

	desc := shDescriptor("Stable", "echo a\n", "echo col\n")
	src, err := reg.CreateOrReplace(ctx, desc, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := src.LoadNodes(ctx, 0); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}

	desc.PackageName = "Stable"
	desc.Name = "Stable Renamed"
	if _, err := reg.CreateOrReplace(ctx, desc, true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if src.Name() != "Stable Renamed" {
		t.Fatalf("name = %q", src.Name())
	}
	if len(src.Nodes()) != 1 || !src.NodesFullyLoaded() {
		t.Fatal("identical code must keep nodes")
	}
	if len(arts.cleared) != 0 {
		t.Fatalf("artifacts cleared on identical code: %v", arts.cleared)
	}
}

func TestUpdateNonEditableRejected(t *testing.T) {
	reg, arts, h := newTestRegistry(t)
	ctx := context.Background()

	store := plugin.NewStore(h.LoadersDir(), "sh")
	pkg, err := store.Create(h.LoadersDir(), "builtin_csv",
		"echo a\n", "echo col\n",
		plugin.Metadata{DisplayName: "CSV Files", Interpreter: []string{"sh"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, added := reg.Register(FromPackage(pkg, false, arts)); !added {
		t.Fatal("builtin registration reported as duplicate")
	}

	desc := shDescriptor("CSV Files", "echo hacked\n", "echo col\n")
	desc.PackageName = "builtin_csv"
	if _, err := reg.CreateOrReplace(ctx, desc, true); !fault.Is(err, fault.Permission) {
		t.Fatalf("expected Permission, got %v", err)
	}
}

func TestApplyLayout(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	a, err := reg.CreateOrReplace(ctx, shDescriptor("A", "echo a\n", "echo col\n"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := reg.CreateOrReplace(ctx, shDescriptor("B", "echo b\n", "echo col\n"), false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = reg.ApplyLayout([]LayoutChange{
		{ID: a.ID(), Visible: false, SortValue: 2},
		{ID: b.ID(), Visible: true, SortValue: 1},
	})
	if err != nil {
		t.Fatalf("ApplyLayout: %v", err)
	}
	if ser := a.Serialize(); ser.Visible || ser.SortValue != 2 {
		t.Fatalf("layout not applied: %+v", ser)
	}

	err = reg.ApplyLayout([]LayoutChange{{ID: "nope", Visible: true, SortValue: 1}})
	if !fault.Is(err, fault.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestNodeCacheTimestampFromArtifacts(t *testing.T) {
	arts := &fakeArtifacts{stamps: map[string]int64{}}
	src := New(Config{
		Name:        "Stamped",
		PackageName: "stamped",
		PackagePath: "/loaders/stamped",
		Runner:      &stubRunner{paths: []string{"p"}},
		Visible:     true,
		Editable:    true,
		Cache:       arts,
	})
	arts.stamps[DeriveID(src.ID(), "p")] = 1234

	if err := src.LoadNodes(context.Background(), 0); err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	ser := src.Nodes()[0].Serialize()
	if ser.LastCachedAt == nil || *ser.LastCachedAt != 1234 {
		t.Fatalf("lastCachedAt = %v, want 1234", ser.LastCachedAt)
	}
}
