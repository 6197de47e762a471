// Package report builds profiling reports for cached datasets by
// shelling out to an external builder command. Building can take
// minutes, so it runs as a separate process under a completion budget.
package report

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"datadesk/internal/cache"
	"datadesk/internal/fault"
	"datadesk/internal/logging"
)

// Builder runs the configured report command with three trailing
// arguments: the cached data path, the output path, and the report
// title.
type Builder struct {
	command []string
	budget  time.Duration
	cache   *cache.Store
	logger  *slog.Logger
}

// Config configures a Builder.
type Config struct {
	// Command is the builder argv prefix. Empty disables building.
	Command []string

	// Budget bounds one build. Defaults to 10m.
	Budget time.Duration

	Cache  *cache.Store
	Logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.Budget <= 0 {
		cfg.Budget = 10 * time.Minute
	}
	return &Builder{
		command: cfg.Command,
		budget:  cfg.Budget,
		cache:   cfg.Cache,
		logger:  logging.Default(cfg.Logger).With("component", "reports"),
	}
}

// Build produces the report for dataID unless one already exists. The
// node's data must already be cached. A builder that exits cleanly
// without producing the output file is still a failure.
func (b *Builder) Build(ctx context.Context, dataID, title string) error {
	if b.cache.HasProfileReport(dataID) {
		return nil
	}
	if len(b.command) == 0 {
		return fault.New(fault.Validation, "no profile report builder configured")
	}
	if !b.cache.HasData(dataID) {
		return fault.New(fault.NotFound, "no cached data for %s", dataID)
	}

	ctx, cancel := context.WithTimeout(ctx, b.budget)
	defer cancel()

	args := append(append([]string{}, b.command[1:]...),
		b.cache.DataPath(dataID), b.cache.ProfileReportPath(dataID), title)
	cmd := exec.CommandContext(ctx, b.command[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.New(fault.Timeout, "profile report for %s timed out after %s", dataID, b.budget)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fault.New(fault.Execution, "profile report builder: %s", msg)
	}
	if !b.cache.HasProfileReport(dataID) {
		return fault.New(fault.External, "the profile report failed to build")
	}
	b.logger.Info("report built", "dataId", dataID, "elapsed", time.Since(start))
	return nil
}
