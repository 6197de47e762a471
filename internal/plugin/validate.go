package plugin

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"datadesk/internal/fault"
)

// syntaxCheckTimeout bounds each interpreter syntax check. The checks
// parse a file; anything slower than this is itself a problem.
const syntaxCheckTimeout = 15 * time.Second

// Validate shape-checks a loaded package before it is trusted:
// the metadata names a display name, the interpreter resolves, both
// scripts are non-empty, and, when the interpreter has a known check
// mode, the scripts at least parse. This is advisory: it catches
// obvious mistakes early, it is not a sandbox.
func Validate(ctx context.Context, pkg *Package) error {
	if strings.TrimSpace(pkg.Meta.DisplayName) == "" {
		return fault.New(fault.Validation, "metadata must declare a display name")
	}
	if len(pkg.Interpreter) == 0 || strings.TrimSpace(pkg.Interpreter[0]) == "" {
		return fault.New(fault.Validation, "metadata declares an empty interpreter")
	}
	if _, err := exec.LookPath(pkg.Interpreter[0]); err != nil {
		return fault.New(fault.Validation, "interpreter %q not found on PATH", pkg.Interpreter[0])
	}

	if err := checkScript(ctx, pkg, "list_paths", pkg.ListPathsFile); err != nil {
		return err
	}
	return checkScript(ctx, pkg, "get_data", pkg.GetDataFile)
}

func checkScript(ctx context.Context, pkg *Package, contract, file string) error {
	info, err := os.Stat(file)
	if err != nil {
		return fault.New(fault.Validation, "%s: script missing", contract)
	}
	if info.Size() == 0 {
		return fault.New(fault.Validation, "%s: script is empty", contract)
	}

	argv := syntaxCheckArgs(pkg.Interpreter[0], file)
	if argv == nil {
		// Unknown interpreter: no check mode we can run.
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, syntaxCheckTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fault.New(fault.Validation, "%s: %s", contract, msg)
	}
	return nil
}

// syntaxCheckArgs returns the interpreter's parse-only invocation for a
// script, or nil when none is known.
func syntaxCheckArgs(interpreter, script string) []string {
	base := filepath.Base(interpreter)
	switch {
	case strings.HasPrefix(base, "python"):
		return []string{interpreter, "-m", "py_compile", script}
	case base == "sh" || base == "bash" || base == "dash" || base == "zsh":
		return []string{interpreter, "-n", script}
	case base == "node" || base == "nodejs":
		return []string{interpreter, "--check", script}
	default:
		return nil
	}
}
