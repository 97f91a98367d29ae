package calibre

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/lepinkainen/seshat/internal/config"
	seshaterrors "github.com/lepinkainen/seshat/internal/errors"
	"github.com/lepinkainen/seshat/internal/runner"
)

// Stubbed in tests.
var (
	runCommand = runner.Run
	lookPath   = exec.LookPath
)

// Locale fallbacks tried in order when calibredb fails in override mode.
// Calibre's bundled Python crashes on some hosts when the locale is not
// UTF-8 capable.
var calibreLocaleEnvs = [][]string{
	{"LC_ALL=en_US.utf8", "LANG=en_US.utf8", "LANGUAGE=en_US:en", "CALIBRE_OVERRIDE_LANG=en"},
	{"LC_ALL=C.utf8", "LANG=C.utf8", "LANGUAGE=en", "CALIBRE_OVERRIDE_LANG=en"},
	{"LC_ALL=C", "LANG=C", "LANGUAGE=en", "CALIBRE_OVERRIDE_LANG=en"},
}

var listFields = strings.Join([]string{
	"id", "title", "authors", "series", "publisher", "pubdate", "languages",
	"formats", "isbn", "identifiers", "tags", "comments", "cover", "last_modified",
}, ",")

// Options configure a Client.
type Options struct {
	// Library is the value passed to calibredb --with-library: a local
	// library path or a content-server URL.
	Library  string
	Username string
	Password string

	// Formats are the lowercase target formats used for listing and embedding.
	Formats []string

	EnvMode       string
	DebugEnv      bool
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration

	FetchTimeout time.Duration
	Headless     bool
	HeadlessEnv  []string
}

// Client wraps the calibredb and fetch-ebook-metadata command line tools.
type Client struct {
	opts Options
}

// New verifies the Calibre command line tools are installed and returns a
// client for them.
func New(opts Options) (*Client, error) {
	for _, tool := range []string{"calibredb", "fetch-ebook-metadata"} {
		if _, err := lookPath(tool); err != nil {
			return nil, seshaterrors.NewFatalErrorHint(
				"locate "+tool,
				"install Calibre and make sure its command line tools are on PATH",
				err,
			)
		}
	}
	return &Client{opts: opts}, nil
}

func (c *Client) remote() bool {
	return strings.HasPrefix(c.opts.Library, "http://") || strings.HasPrefix(c.opts.Library, "https://")
}

// calibredbArgs prepends the library selector and content-server credentials.
// Auth flags only apply to remote libraries.
func (c *Client) calibredbArgs(sub ...string) []string {
	args := []string{"--with-library", c.opts.Library}
	if c.remote() && c.opts.Username != "" {
		args = append(args, "--username", c.opts.Username)
		if c.opts.Password != "" {
			args = append(args, "--password", c.opts.Password)
		}
	}
	return append(args, sub...)
}

// runCalibredb executes calibredb with the configured environment mode,
// retrying transient database lock errors.
func (c *Client) runCalibredb(ctx context.Context, args []string) (runner.Result, error) {
	attempts := c.opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var result runner.Result
	err := retry.Do(
		func() error {
			var err error
			result, err = c.runCalibredbOnce(ctx, args)
			if err != nil && !isLockContention(result.Stderr) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(c.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("Calibre database locked, retrying", "attempt", n+1, "error", err)
		}),
	)
	return result, err
}

// runCalibredbOnce applies the environment-mode fallbacks: inherit retries
// once with a cleaned environment when calibre's bundled Python picked up a
// host interpreter, override walks the locale ladder on any failure.
func (c *Client) runCalibredbOnce(ctx context.Context, args []string) (runner.Result, error) {
	base := runner.Options{
		Mode:     config.EnvModeInherit,
		Timeout:  c.opts.Timeout,
		DebugEnv: c.opts.DebugEnv,
	}

	switch c.opts.EnvMode {
	case config.EnvModeClean:
		base.Mode = config.EnvModeClean
		return runCommand(ctx, "calibredb", args, base)

	case config.EnvModeOverride:
		result, err := runCommand(ctx, "calibredb", args, base)
		if err == nil {
			return result, nil
		}
		for _, localeEnv := range calibreLocaleEnvs {
			attempt := base
			attempt.Extra = localeEnv
			result, err = runCommand(ctx, "calibredb", args, attempt)
			if err == nil {
				slog.Debug("calibredb succeeded with locale override", "env", localeEnv)
				return result, nil
			}
		}
		return result, err

	default:
		result, err := runCommand(ctx, "calibredb", args, base)
		if err != nil && strings.Contains(result.Stderr, "No module named") {
			clean := base
			clean.Mode = config.EnvModeClean
			retryResult, retryErr := runCommand(ctx, "calibredb", args, clean)
			if retryErr == nil {
				slog.Info("calibredb succeeded after cleaning Python environment variables")
			}
			return retryResult, retryErr
		}
		return result, err
	}
}

func isLockContention(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "database is locked")
}

// ListBooks returns the books that have at least one of the target formats.
// An empty library match is not an error.
func (c *Client) ListBooks(ctx context.Context) ([]Book, error) {
	search := make([]string, 0, len(c.opts.Formats))
	for _, format := range c.opts.Formats {
		search = append(search, "formats:"+format)
	}

	args := c.calibredbArgs(
		"list", "--for-machine",
		"--fields", listFields,
		"--search", strings.Join(search, " or "),
	)

	result, err := c.runCalibredb(ctx, args)
	if err != nil {
		stderr := strings.ToLower(result.Stderr)
		if strings.Contains(stderr, "no books matching the search expression") {
			return nil, nil
		}
		return nil, c.listError(stderr, err)
	}

	if strings.TrimSpace(result.Stdout) == "" {
		return nil, nil
	}
	books, err := ParseBooks([]byte(result.Stdout))
	if err != nil {
		return nil, seshaterrors.NewFatalError("parse calibredb list output", err)
	}

	kept := make([]Book, 0, len(books))
	for _, book := range books {
		if book.HasAnyFormat(c.opts.Formats) {
			kept = append(kept, book)
		}
	}
	return kept, nil
}

func (c *Client) listError(stderr string, err error) error {
	if strings.Contains(stderr, "another calibre program such as calibre-server") ||
		strings.Contains(stderr, "another calibre program such as calibre server") {
		return seshaterrors.NewFatalErrorHint(
			"calibredb list",
			"close Calibre, or set library.url to the running content server",
			err,
		)
	}
	if c.remote() && strings.Contains(stderr, "not found") {
		return seshaterrors.NewFatalErrorHint(
			"calibredb list",
			"check the content server URL and library id, without a trailing slash after the fragment",
			err,
		)
	}
	return seshaterrors.NewFatalError("calibredb list", err)
}

// GetBook returns a single book by id, or nil when it no longer matches.
func (c *Client) GetBook(ctx context.Context, id int64) (*Book, error) {
	args := c.calibredbArgs(
		"list", "--for-machine",
		"--fields", listFields,
		"--search", fmt.Sprintf("id:%d", id),
	)

	result, err := c.runCalibredb(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("calibredb list id:%d: %w", id, err)
	}
	if strings.TrimSpace(result.Stdout) == "" {
		return nil, nil
	}

	books, err := ParseBooks([]byte(result.Stdout))
	if err != nil {
		return nil, fmt.Errorf("parse calibredb list output for id:%d: %w", id, err)
	}
	if len(books) == 0 {
		return nil, nil
	}
	return &books[0], nil
}
