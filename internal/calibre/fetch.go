package calibre

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lepinkainen/seshat/internal/config"
	"github.com/lepinkainen/seshat/internal/cover"
	seshaterrors "github.com/lepinkainen/seshat/internal/errors"
	"github.com/lepinkainen/seshat/internal/metadata"
	"github.com/lepinkainen/seshat/internal/runner"
)

// Covers wider than this get downscaled before they are handed to calibredb.
const maxCoverWidth = 1200

// Fetch looks the book up online with fetch-ebook-metadata and returns the
// fields it found. Lookup prefers the ISBN; without one it falls back to the
// other identifiers plus title and authors. The returned CoverPath, when
// set, points at a temporary file the caller must remove after use.
func (c *Client) Fetch(ctx context.Context, book *Book) (*metadata.Fetched, error) {
	dir, err := os.MkdirTemp("", "seshat-fetch-")
	if err != nil {
		return nil, fmt.Errorf("create fetch workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	opfPath := filepath.Join(dir, "metadata.opf")
	coverPath := filepath.Join(dir, "cover.jpg")

	args := []string{"--opf", opfPath, "--cover", coverPath}
	if book.ISBN != "" {
		args = append(args, "--isbn", book.ISBN)
	} else {
		for _, scheme := range sortedKeys(book.Identifiers) {
			args = append(args, "--identifier", scheme+":"+book.Identifiers[scheme])
		}
		if book.Title != "" {
			args = append(args, "--title", book.Title)
		}
		if len(book.Authors) > 0 {
			args = append(args, "--authors", strings.Join(book.Authors, ", "))
		}
	}

	slog.Info("Fetching metadata", "book_id", book.ID, "title", book.Title, "timeout", c.opts.FetchTimeout)
	result, err := runCommand(ctx, "fetch-ebook-metadata", args, runner.Options{
		Mode:    config.EnvModeInherit,
		Extra:   c.headlessExtra(),
		Timeout: c.opts.FetchTimeout,
	})
	if err != nil {
		combined := strings.ToLower(result.Stdout + result.Stderr)
		if strings.Contains(combined, "no results found") {
			return nil, seshaterrors.NewNotFoundError(fetchQuery(book))
		}
		return nil, err
	}

	data, err := os.ReadFile(opfPath)
	if err != nil || len(data) == 0 {
		return nil, fmt.Errorf("fetch-ebook-metadata produced no OPF for %s", fetchQuery(book))
	}
	fetched, err := ParseOPF(data)
	if err != nil {
		return nil, fmt.Errorf("fetched metadata for %s: %w", fetchQuery(book), err)
	}

	if info, err := os.Stat(coverPath); err == nil && info.Size() > 0 {
		stashed, err := c.stashCover(coverPath)
		if err != nil {
			slog.Warn("Discarding fetched cover", "book_id", book.ID, "error", err)
		} else {
			fetched.CoverPath = stashed
		}
	}

	return fetched, nil
}

// headlessExtra returns the headless Qt environment entries that are not
// already set in the surrounding environment. Explicitly exported variables
// win over the configured defaults.
func (c *Client) headlessExtra() []string {
	if !c.opts.Headless {
		return nil
	}
	extra := make([]string, 0, len(c.opts.HeadlessEnv))
	for _, entry := range c.opts.HeadlessEnv {
		if key, _, ok := strings.Cut(entry, "="); ok {
			if _, exists := os.LookupEnv(key); exists {
				continue
			}
		}
		extra = append(extra, entry)
	}
	return extra
}

// stashCover normalizes the downloaded cover into a standalone temporary
// file that outlives the fetch workdir. Images that cannot be decoded are
// copied through untouched.
func (c *Client) stashCover(src string) (string, error) {
	dst, err := os.CreateTemp("", "seshat-cover-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create cover file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("create cover file: %w", err)
	}

	if err := cover.Normalize(src, dst.Name(), maxCoverWidth); err != nil {
		slog.Debug("Cover normalization failed, keeping original", "error", err)
		if err := copyFile(src, dst.Name()); err != nil {
			os.Remove(dst.Name())
			return "", err
		}
	}
	return dst.Name(), nil
}

func fetchQuery(book *Book) string {
	if book.ISBN != "" {
		return "isbn:" + book.ISBN
	}
	if book.Title != "" {
		return fmt.Sprintf("%q", book.Title)
	}
	return fmt.Sprintf("book %d", book.ID)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
