package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"datadesk/internal/fault"
)

// writeTestPackage lays out a loadable sh-based package under dir/name.
func writeTestPackage(t *testing.T, dir, name, listPaths, getData string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(path, 0o750); err != nil {
		t.Fatal(err)
	}
	meta := `{"displayName": "` + name + `", "interpreter": ["sh"]}`
	files := map[string]string{
		MetadataFile:    meta,
		"list_paths.sh": listPaths,
		"get_data.sh":   getData,
	}
	for f, content := range files {
		if err := os.WriteFile(filepath.Join(path, f), []byte(content), 0o640); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestStoreCreateAndLoad(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "loaders"), "sh")

	staging := filepath.Join(root, "staging")
	pkg, err := store.Create(staging, "demo", "echo one\n", "echo a,b\n", Metadata{
		DisplayName: "Demo",
		Interpreter: []string{"sh"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if pkg.Name != "demo" {
		t.Errorf("got name %q", pkg.Name)
	}
	if pkg.Meta.DisplayName != "Demo" {
		t.Errorf("got display name %q", pkg.Meta.DisplayName)
	}
	if filepath.Base(pkg.ListPathsFile) != "list_paths.sh" {
		t.Errorf("got script %q, want sh extension for sh interpreter", pkg.ListPathsFile)
	}
	if pkg.ListPathsCode != "echo one\n" || pkg.GetDataCode != "echo a,b\n" {
		t.Errorf("code text not round-tripped: %q / %q", pkg.ListPathsCode, pkg.GetDataCode)
	}

	// Load is independent of Create.
	again, err := store.Load(pkg.Path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if again.Name != "demo" || again.GetDataCode != pkg.GetDataCode {
		t.Errorf("reload mismatch: %+v", again)
	}
}

func TestLoadMissingMetadata(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "sh")
	_, err := store.Load(filepath.Join(dir, "nope"), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if fault.KindOf(err) != fault.Load {
		t.Errorf("got kind %v, want Load", fault.KindOf(err))
	}
}

func TestLoadMissingScript(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, "sh")
	path := writeTestPackage(t, root, "broken", "echo x\n", "echo y\n")
	if err := os.Remove(filepath.Join(path, "get_data.sh")); err != nil {
		t.Fatal(err)
	}
	_, err := store.Load(path, "")
	if err == nil || !strings.Contains(err.Error(), "get_data") {
		t.Fatalf("expected get_data load error, got %v", err)
	}
}

func TestLoadAmbiguousScript(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, "sh")
	path := writeTestPackage(t, root, "dupes", "echo x\n", "echo y\n")
	if err := os.WriteFile(filepath.Join(path, "list_paths.py"), []byte("print()"), 0o640); err != nil {
		t.Fatal(err)
	}
	_, err := store.Load(path, "")
	if err == nil || !strings.Contains(err.Error(), "expected exactly one") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
}

func TestUniqueName(t *testing.T) {
	loaders := t.TempDir()
	store := NewStore(loaders, "sh")

	if got := store.UniqueName("Foo"); got != "Foo" {
		t.Errorf("got %q, want Foo", got)
	}

	for _, name := range []string{"Foo", "Foo1"} {
		if err := os.MkdirAll(filepath.Join(loaders, name), 0o750); err != nil {
			t.Fatal(err)
		}
	}
	if got := store.UniqueName("Foo"); got != "Foo2" {
		t.Errorf("got %q, want Foo2", got)
	}

	// Deterministic.
	if got := store.UniqueName("Foo"); got != "Foo2" {
		t.Errorf("second call got %q, want Foo2", got)
	}
}

func TestUniqueNameSanitizes(t *testing.T) {
	store := NewStore(t.TempDir(), "sh")
	if got := store.UniqueName("My S3 Data (prod)"); got != "My_S3_Data_prod" {
		t.Errorf("got %q", got)
	}

	// Nothing identifier-safe left: a generated name, but still usable.
	got := store.UniqueName("!!!")
	if got == "" || strings.ContainsAny(got, "! ") {
		t.Errorf("got %q", got)
	}
}

func TestMoveOverwritesAndRemovesOld(t *testing.T) {
	root := t.TempDir()
	loaders := filepath.Join(root, "loaders")
	store := NewStore(loaders, "sh")

	stagingPath := writeTestPackage(t, filepath.Join(root, "staging"), "demo", "echo new\n", "echo a\n")

	// Pre-existing package of the same name with an extra stale file.
	oldPath := writeTestPackage(t, loaders, "demo", "echo old\n", "echo b\n")
	if err := os.WriteFile(filepath.Join(oldPath, "stale.txt"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}

	pkg, err := store.Load(stagingPath, "")
	if err != nil {
		t.Fatalf("Load staging: %v", err)
	}
	moved, err := store.Move(pkg, loaders, true)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}

	if moved.Path != filepath.Join(loaders, "demo") {
		t.Errorf("got path %q", moved.Path)
	}
	if moved.ListPathsCode != "echo new\n" {
		t.Errorf("destination has old code: %q", moved.ListPathsCode)
	}
	if _, err := os.Stat(filepath.Join(moved.Path, "stale.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("overwrite should fully replace the destination, not merge")
	}
	if _, err := os.Stat(stagingPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("old copy should be removed")
	}
}

func TestMoveKeepOld(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "loaders"), "sh")
	stagingPath := writeTestPackage(t, filepath.Join(root, "staging"), "keep", "echo x\n", "echo y\n")

	pkg, err := store.Load(stagingPath, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Move(pkg, store.LoadersDir(), false); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := os.Stat(stagingPath); err != nil {
		t.Error("source should survive with removeOld=false")
	}
}

func TestScriptExt(t *testing.T) {
	cases := map[string]string{
		"python3":         ".py",
		"/usr/bin/python": ".py",
		"node":            ".js",
		"bash":            ".sh",
		"weirdlang":       ".script",
	}
	for interp, want := range cases {
		if got := scriptExt(interp); got != want {
			t.Errorf("scriptExt(%q) = %q, want %q", interp, got, want)
		}
	}
}
