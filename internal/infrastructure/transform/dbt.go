// Package transform rebuilds the reporting schema, either through an
// external dbt project or through the built-in SQL models.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"ChannelPipeline/internal/ports"
)

// DefaultTimeout bounds every dbt invocation.
const DefaultTimeout = 5 * time.Minute

// CommandResult captures one dbt invocation. ReturnCode is -1 when the
// process could not run to completion.
type CommandResult struct {
	Command    string
	Success    bool
	Stdout     string
	Stderr     string
	ReturnCode int
}

// DBTExecutor shells out to the dbt CLI.
type DBTExecutor struct {
	binary      string
	projectDir  string
	profilesDir string
	timeout     time.Duration
	logger      *slog.Logger
}

var _ ports.Transformer = (*DBTExecutor)(nil)

// NewDBTExecutor builds an executor; empty values fall back to defaults.
func NewDBTExecutor(binary, projectDir, profilesDir string, timeout time.Duration, logger *slog.Logger) *DBTExecutor {
	if binary == "" {
		binary = "dbt"
	}
	if profilesDir == "" {
		profilesDir = projectDir
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DBTExecutor{
		binary:      binary,
		projectDir:  projectDir,
		profilesDir: profilesDir,
		timeout:     timeout,
		logger:      logger.With("component", "dbt"),
	}
}

// Available reports whether the dbt binary can be found.
func (d *DBTExecutor) Available() bool {
	_, err := exec.LookPath(d.binary)
	return err == nil
}

// Debug checks the dbt configuration and connection.
func (d *DBTExecutor) Debug(ctx context.Context) CommandResult {
	return d.Exec(ctx, "debug")
}

// Deps installs package dependencies.
func (d *DBTExecutor) Deps(ctx context.Context) CommandResult {
	return d.Exec(ctx, "deps")
}

// Run builds models, optionally restricted by a selector.
func (d *DBTExecutor) Run(ctx context.Context, selectors ...string) CommandResult {
	args := []string{"run"}
	if len(selectors) > 0 {
		args = append(args, "--select")
		args = append(args, selectors...)
	}
	return d.Exec(ctx, args...)
}

// Test runs data tests, optionally restricted by a selector.
func (d *DBTExecutor) Test(ctx context.Context, selectors ...string) CommandResult {
	args := []string{"test"}
	if len(selectors) > 0 {
		args = append(args, "--select")
		args = append(args, selectors...)
	}
	return d.Exec(ctx, args...)
}

// Seed loads CSV seeds.
func (d *DBTExecutor) Seed(ctx context.Context) CommandResult {
	return d.Exec(ctx, "seed")
}

// DocsGenerate builds the documentation site.
func (d *DBTExecutor) DocsGenerate(ctx context.Context) CommandResult {
	return d.Exec(ctx, "docs", "generate")
}

// Exec runs one dbt command in the project directory. It never returns an
// error; failures are reported through the result.
func (d *DBTExecutor) Exec(ctx context.Context, args ...string) CommandResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result := CommandResult{Command: strings.Join(append([]string{d.binary}, args...), " "), ReturnCode: -1}

	cmd := exec.CommandContext(ctx, d.binary, args...)
	cmd.Dir = d.projectDir
	cmd.Env = append(os.Environ(), "DBT_PROFILES_DIR="+d.profilesDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Stderr = fmt.Sprintf("command timed out after %s", d.timeout)
	case err == nil:
		result.ReturnCode = 0
		result.Success = true
	case errors.As(err, &exitErr):
		result.ReturnCode = exitErr.ExitCode()
	default:
		result.Stderr = err.Error()
	}

	d.logger.Debug("dbt command finished", "command", result.Command, "success", result.Success, "code", result.ReturnCode)
	return result
}

// Transform runs debug, deps, run and test. Failing tests are logged but
// do not fail the transform.
func (d *DBTExecutor) Transform(ctx context.Context) error {
	for _, step := range []func(context.Context) CommandResult{
		d.Debug,
		d.Deps,
		func(ctx context.Context) CommandResult { return d.Run(ctx) },
	} {
		if res := step(ctx); !res.Success {
			return fmt.Errorf("%s: exit %d: %s", res.Command, res.ReturnCode, strings.TrimSpace(res.Stderr))
		}
	}

	if res := d.Test(ctx); !res.Success {
		d.logger.Warn("dbt tests failed", "code", res.ReturnCode, "stderr", strings.TrimSpace(res.Stderr))
	}
	d.logger.Info("dbt transform finished")
	return nil
}

// Fallback prefers the dbt project and uses the built-in models when the
// dbt binary is not installed.
type Fallback struct {
	DBT    *DBTExecutor
	Models *Models
}

var _ ports.Transformer = Fallback{}

// Transform implements ports.Transformer.
func (f Fallback) Transform(ctx context.Context) error {
	if f.DBT != nil && f.DBT.Available() {
		return f.DBT.Transform(ctx)
	}
	if f.Models == nil {
		return errors.New("no transformer available")
	}
	if f.DBT != nil {
		f.Models.logger.Warn("dbt binary not found, using built-in models", "binary", f.DBT.binary)
	}
	return f.Models.Transform(ctx)
}
