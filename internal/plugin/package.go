// Package plugin manages data source packages: the on-disk directories
// holding user-supplied scripts, their loading and validation, and the
// subprocess runner that executes them.
//
// A package directory contains exactly three files:
//
//	metadata.json     display name + interpreter argv (also the marker
//	                  that distinguishes a package from a stray dir)
//	list_paths.<ext>  run with no arguments; prints one path per line
//	get_data.<ext>    run with a path argument;  prints CSV
//
// Scripts execute with full host privileges. There is no sandbox.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	petname "github.com/dustinkirkland/golang-petname"

	"datadesk/internal/fault"
)

// Package is a loaded data source package. It is always reconstructed
// from disk by Load; nothing holds one across operations.
type Package struct {
	// Path is the package directory.
	Path string
	// Name is the directory basename (the package name).
	Name string
	// Meta is the parsed metadata file.
	Meta Metadata

	// ListPathsFile and GetDataFile are absolute script paths.
	ListPathsFile string
	GetDataFile   string

	// ListPathsCode and GetDataCode are the script texts, kept for
	// serialization and change detection.
	ListPathsCode string
	GetDataCode   string

	// Interpreter is the resolved argv prefix (metadata or store default).
	Interpreter []string
}

// Runner returns the subprocess runner bound to this package's scripts.
func (p *Package) Runner() *ExecRunner {
	return &ExecRunner{
		Interpreter:   p.Interpreter,
		ListPathsFile: p.ListPathsFile,
		GetDataFile:   p.GetDataFile,
	}
}

// Store manages package directories under a loaders root.
type Store struct {
	loadersDir         string
	defaultInterpreter string
}

// NewStore creates a Store rooted at loadersDir. defaultInterpreter is
// used for packages whose metadata does not name one.
func NewStore(loadersDir, defaultInterpreter string) *Store {
	if defaultInterpreter == "" {
		defaultInterpreter = "python3"
	}
	return &Store{loadersDir: loadersDir, defaultInterpreter: defaultInterpreter}
}

// LoadersDir returns the permanent package root.
func (s *Store) LoadersDir() string { return s.loadersDir }

// Load reads the package at path. name defaults to the directory
// basename. Missing or ambiguous files are load failures with messages
// fit for user-facing diagnostics.
func (s *Store) Load(path, name string) (*Package, error) {
	if name == "" {
		name = filepath.Base(path)
	}

	meta, err := readMetadata(filepath.Join(path, MetadataFile))
	if err != nil {
		return nil, err
	}

	listFile, err := findScript(path, "list_paths")
	if err != nil {
		return nil, err
	}
	getFile, err := findScript(path, "get_data")
	if err != nil {
		return nil, err
	}

	listCode, err := os.ReadFile(listFile)
	if err != nil {
		return nil, fault.Wrap(fault.Load, err, "read list_paths")
	}
	getCode, err := os.ReadFile(getFile)
	if err != nil {
		return nil, fault.Wrap(fault.Load, err, "read get_data")
	}

	interp := meta.Interpreter
	if len(interp) == 0 {
		interp = []string{s.defaultInterpreter}
	}

	return &Package{
		Path:          path,
		Name:          name,
		Meta:          meta,
		ListPathsFile: listFile,
		GetDataFile:   getFile,
		ListPathsCode: string(listCode),
		GetDataCode:   string(getCode),
		Interpreter:   interp,
	}, nil
}

// Create writes a new package under directory/name and loads it back.
// directory is typically a staging dir, not the permanent store.
func (s *Store) Create(directory, name, listPathsCode, getDataCode string, meta Metadata) (*Package, error) {
	path := filepath.Join(directory, name)
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fault.Wrap(fault.IO, err, "create package directory")
	}

	interp := meta.Interpreter
	if len(interp) == 0 {
		interp = []string{s.defaultInterpreter}
	}
	ext := scriptExt(interp[0])

	if err := writeMetadata(filepath.Join(path, MetadataFile), meta); err != nil {
		return nil, fault.Wrap(fault.IO, err, "write package metadata")
	}
	if err := os.WriteFile(filepath.Join(path, "list_paths"+ext), []byte(listPathsCode), 0o640); err != nil {
		return nil, fault.Wrap(fault.IO, err, "write list_paths")
	}
	if err := os.WriteFile(filepath.Join(path, "get_data"+ext), []byte(getDataCode), 0o640); err != nil {
		return nil, fault.Wrap(fault.IO, err, "write get_data")
	}

	return s.Load(path, name)
}

// Move copies a package into destDir/<name>, fully replacing any package
// already there, and returns the freshly loaded result. The copy lands
// before the source is removed, so a crash mid-move leaves the old copy
// intact rather than neither.
func (s *Store) Move(pkg *Package, destDir string, removeOld bool) (*Package, error) {
	newPath := filepath.Join(destDir, pkg.Name)
	if err := os.RemoveAll(newPath); err != nil {
		return nil, fault.Wrap(fault.IO, err, "remove existing package")
	}
	if err := os.MkdirAll(newPath, 0o750); err != nil {
		return nil, fault.Wrap(fault.IO, err, "create package directory")
	}
	if err := os.CopyFS(newPath, os.DirFS(pkg.Path)); err != nil {
		return nil, fault.Wrap(fault.IO, err, "copy package")
	}
	if removeOld {
		if err := os.RemoveAll(pkg.Path); err != nil {
			return nil, fault.Wrap(fault.IO, err, "remove old package")
		}
	}
	return s.Load(newPath, pkg.Name)
}

// Delete removes a package directory.
func (s *Store) Delete(pkg *Package) error {
	return fault.Wrap(fault.IO, os.RemoveAll(pkg.Path), "delete package")
}

// UniqueName sanitizes a display name into a package name that does not
// collide with any existing package. Deterministic for a given display
// name and existing-package set: "Foo" taken yields "Foo1", then "Foo2".
func (s *Store) UniqueName(displayName string) string {
	base := sanitizeName(displayName)
	if !s.nameTaken(base) {
		return base
	}
	for count := 1; ; count++ {
		candidate := fmt.Sprintf("%s%d", base, count)
		if !s.nameTaken(candidate) {
			return candidate
		}
	}
}

func (s *Store) nameTaken(name string) bool {
	_, err := os.Stat(filepath.Join(s.loadersDir, name))
	return err == nil
}

// sanitizeName collapses a display name to an identifier-safe package
// name: spaces become underscores, everything else non-alphanumeric is
// dropped. Names with nothing left get a generated one so the directory
// still has a sane basename.
func sanitizeName(displayName string) string {
	var b strings.Builder
	for _, r := range strings.ReplaceAll(displayName, " ", "_") {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return petname.Generate(2, "_")
	}
	return b.String()
}

// findScript locates the single entry-point script with the given stem.
func findScript(dir, stem string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
	if err != nil {
		return "", fault.Wrap(fault.Load, err, "scan package")
	}
	// The metadata file shares no stem, but editors may leave backups.
	var scripts []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			scripts = append(scripts, m)
		}
	}
	switch len(scripts) {
	case 0:
		return "", fault.New(fault.Load, "package is missing a %s script", stem)
	case 1:
		return scripts[0], nil
	default:
		return "", fault.New(fault.Load, "package has %d %s scripts, expected exactly one", len(scripts), stem)
	}
}

// scriptExt picks the file extension for scripts created from raw code,
// based on the interpreter the package declares.
func scriptExt(interpreter string) string {
	base := filepath.Base(interpreter)
	switch {
	case strings.HasPrefix(base, "python"):
		return ".py"
	case base == "node" || base == "nodejs":
		return ".js"
	case base == "ruby":
		return ".rb"
	case base == "perl":
		return ".pl"
	case base == "sh" || base == "bash" || base == "dash" || base == "zsh":
		return ".sh"
	default:
		return ".script"
	}
}
