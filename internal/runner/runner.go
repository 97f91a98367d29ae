// Package runner executes external commands with captured output, timeouts
// and controlled environment composition. Calibre's command line tools ship
// a bundled Python interpreter that breaks when host Python toolchain
// variables leak into it, so invocations can run with a cleaned environment.
package runner

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

	"github.com/lepinkainen/seshat/internal/config"
)

// Result holds the captured output of a finished command. Stderr is kept
// even on failure so callers can classify the error.
type Result struct {
	Stdout string
	Stderr string
}

// Options control a single invocation.
type Options struct {
	// Mode selects the environment composition: inherit, clean or override.
	Mode string
	// Extra entries (KEY=VALUE) are appended last and win over earlier ones.
	Extra []string
	// Timeout bounds the command's runtime; zero means no limit.
	Timeout time.Duration
	// DebugEnv logs the composed environment before running.
	DebugEnv bool
}

// Run executes name with args and returns its captured output.
// The returned Result is valid even when err is non-nil.
func Run(ctx context.Context, name string, args []string, opts Options) (Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = BuildEnv(opts.Mode, opts.Extra)

	if opts.DebugEnv {
		slog.Debug("Composed subprocess environment", "command", name, "mode", opts.Mode, "env", cmd.Env)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%s timed out after %s", name, opts.Timeout)
		}
		if trail := lastStderrLine(result.Stderr); trail != "" {
			return result, fmt.Errorf("%s: %w: %s", name, err, trail)
		}
		return result, fmt.Errorf("%s: %w", name, err)
	}

	return result, nil
}

// Python toolchain variables stripped in clean mode. Prefix match against
// the variable name.
var strippedEnvPrefixes = []string{
	"PYTHON",
	"VIRTUAL_ENV",
	"UV_",
	"PIP_",
	"CONDA",
	"POETRY_",
	"PYENV_",
}

// BuildEnv composes the process environment for the given mode, appending
// extra KEY=VALUE entries last so they override inherited values.
func BuildEnv(mode string, extra []string) []string {
	var env []string
	switch mode {
	case config.EnvModeClean:
		env = CleanEnv(os.Environ())
	case config.EnvModeOverride:
		env = append(CleanEnv(os.Environ()), "LC_ALL=C.UTF-8", "LANG=C.UTF-8")
	default:
		env = os.Environ()
	}
	return append(env, extra...)
}

// CleanEnv returns base minus Python toolchain variables.
func CleanEnv(base []string) []string {
	out := make([]string, 0, len(base))
	for _, entry := range base {
		if isStrippedEnv(entry) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func isStrippedEnv(entry string) bool {
	name, _, ok := strings.Cut(entry, "=")
	if !ok {
		return false
	}
	for _, prefix := range strippedEnvPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func lastStderrLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
