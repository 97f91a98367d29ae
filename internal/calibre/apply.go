package calibre

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/lepinkainen/seshat/internal/metadata"
)

// ApplyMetadata writes the snapshot into the book's database record via a
// temporary OPF file and calibredb set_metadata.
func (c *Client) ApplyMetadata(ctx context.Context, id int64, snap metadata.Snapshot) error {
	opf, err := BuildOPF(snap)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", fmt.Sprintf("seshat-%d-*.opf", id))
	if err != nil {
		return fmt.Errorf("create temp opf: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(opf); err != nil {
		f.Close()
		return fmt.Errorf("write temp opf: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write temp opf: %w", err)
	}

	slog.Debug("Applying metadata", "book_id", id)
	args := c.calibredbArgs("set_metadata", strconv.FormatInt(id, 10), f.Name())
	if _, err := c.runCalibredb(ctx, args); err != nil {
		return fmt.Errorf("set_metadata: %w", err)
	}
	return nil
}

// ApplyCover sets the book's cover from an image file. A missing or empty
// file means no cover was fetched and is not an error.
func (c *Client) ApplyCover(ctx context.Context, id int64, coverPath string) error {
	info, err := os.Stat(coverPath)
	if err != nil || info.Size() == 0 {
		slog.Debug("No cover to apply", "book_id", id)
		return nil
	}

	slog.Debug("Applying cover", "book_id", id, "cover", coverPath)
	args := c.calibredbArgs("set_metadata", strconv.FormatInt(id, 10), "--field", "cover:"+coverPath)
	if _, err := c.runCalibredb(ctx, args); err != nil {
		return fmt.Errorf("set cover: %w", err)
	}
	return nil
}

// Embed writes the book's database metadata into its files for the given
// formats via calibredb embed_metadata.
func (c *Client) Embed(ctx context.Context, id int64, formats []string) error {
	if len(formats) == 0 {
		return nil
	}

	upper := make([]string, len(formats))
	for i, format := range formats {
		upper[i] = strings.ToUpper(format)
	}

	slog.Debug("Embedding metadata", "book_id", id, "formats", upper)
	args := c.calibredbArgs(
		"embed_metadata",
		"--only-formats", strings.Join(upper, ","),
		strconv.FormatInt(id, 10),
	)
	if _, err := c.runCalibredb(ctx, args); err != nil {
		return fmt.Errorf("embed_metadata: %w", err)
	}
	return nil
}
