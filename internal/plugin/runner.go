package plugin

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"slices"
	"strings"

	"datadesk/internal/fault"
	"datadesk/internal/frame"
)

// Runner executes a package's two entry points. The production
// implementation is ExecRunner; tests substitute stubs.
type Runner interface {
	// ListPaths starts path enumeration and returns a resumable cursor.
	ListPaths(ctx context.Context) (Cursor, error)

	// GetData loads the dataset behind one path. There is no timeout
	// beyond the caller's context: user code may legitimately be slow.
	GetData(ctx context.Context, path string) (*frame.Frame, error)
}

// Cursor is a pull-based, possibly-suspending sequence of paths.
// Next returns io.EOF when enumeration completes cleanly; any other
// error is terminal. Cursors are not safe for concurrent use.
type Cursor interface {
	Next() (string, error)
	Close() error
}

// ExecRunner runs entry points as interpreter subprocesses.
type ExecRunner struct {
	Interpreter   []string
	ListPathsFile string
	GetDataFile   string
}

var _ Runner = (*ExecRunner)(nil)

// ListPaths starts the list_paths script and returns a cursor over its
// stdout. The process stays alive between pulls, so a script may print
// eagerly and exit (a plain list) or print as it discovers (a stream);
// the cursor reads both the same way.
func (r *ExecRunner) ListPaths(ctx context.Context) (Cursor, error) {
	argv := append(slices.Clone(r.Interpreter), r.ListPathsFile)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fault.Wrap(fault.Execution, err, "list_paths")
	}
	if err := cmd.Start(); err != nil {
		return nil, fault.Wrap(fault.Execution, err, "list_paths")
	}

	return &PathCursor{
		cmd:     cmd,
		scanner: bufio.NewScanner(stdout),
		stderr:  &stderr,
	}, nil
}

// GetData runs the get_data script with the path as its single argument
// and parses its stdout as CSV.
func (r *ExecRunner) GetData(ctx context.Context, path string) (*frame.Frame, error) {
	argv := append(slices.Clone(r.Interpreter), r.GetDataFile, path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fault.New(fault.Execution, "get_data: %s", execFailure(err, &stderr))
	}

	f, err := frame.ReadCSV(&stdout)
	if err != nil {
		return nil, fault.Wrap(fault.Execution, err, "get_data output")
	}
	return f, nil
}

// PathCursor is the resumable enumeration state for one list_paths run:
// a live subprocess and a scanner over its stdout. Not safe for
// concurrent use; callers hold the owning source's lock.
type PathCursor struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *bytes.Buffer
	done    bool
	err     error
}

// Next returns the next path. io.EOF means the script finished cleanly
// and enumeration is complete. Any other error is terminal for the
// cursor and repeats on subsequent calls.
func (c *PathCursor) Next() (string, error) {
	if c.done {
		if c.err != nil {
			return "", c.err
		}
		return "", io.EOF
	}

	for c.scanner.Scan() {
		if line := strings.TrimSpace(c.scanner.Text()); line != "" {
			return line, nil
		}
	}

	// Stream ended: settle the process and classify.
	c.done = true
	scanErr := c.scanner.Err()
	waitErr := c.cmd.Wait()

	switch {
	case scanErr != nil:
		c.err = fault.Wrap(fault.Execution, scanErr, "list_paths")
	case waitErr != nil:
		c.err = fault.New(fault.Execution, "list_paths: %s", execFailure(waitErr, c.stderr))
	}
	if c.err != nil {
		return "", c.err
	}
	return "", io.EOF
}

// Close terminates the cursor, killing the script if still running.
// Safe to call after exhaustion.
func (c *PathCursor) Close() error {
	if c.done {
		return nil
	}
	c.done = true
	c.err = fault.New(fault.Execution, "list_paths: enumeration abandoned")
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
	return nil
}

// execFailure builds a user-facing message from a subprocess failure,
// preferring the script's own stderr over the bare exit status.
func execFailure(err error, stderr *bytes.Buffer) string {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return err.Error()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return msg
	}
	return err.Error() + ": " + msg
}
