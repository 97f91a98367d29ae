// Package dups implements the duplicate finder command: it scans a directory
// tree for book files with identical content and reports the groups.
package dups

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/viper"

	"github.com/lepinkainen/seshat/internal/config"
	"github.com/lepinkainen/seshat/internal/dedup"
	"github.com/lepinkainen/seshat/internal/tui"
)

// Cmd is the dups command. The root defaults to the configured library path.
type Cmd struct {
	Root string `short:"r" help:"Directory tree to scan (defaults to the library path)" type:"path" placeholder:"PATH"`

	Ext             []string `short:"e" help:"File extensions to scan (repeatable, defaults to common ebook formats)"`
	MinSize         int64    `help:"Skip files smaller than this many bytes" placeholder:"BYTES"`
	IncludeSidecars bool     `help:"Also scan Calibre sidecar files (metadata.opf, cover images)"`
	FollowSymlinks  bool     `help:"Hash the targets of symlinked files"`
	Workers         int      `short:"w" help:"Number of hashing workers (defaults to the CPU count)"`
	Format          string   `help:"Output format: text, json or yaml"`
	Out             string   `short:"o" help:"Write the report to a file instead of stdout" type:"path" placeholder:"PATH"`
	NoProgress      bool     `help:"Disable the progress bar"`
}

// Run scans the tree and writes the duplicate report.
func (c *Cmd) Run() error {
	c.applyOverrides()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	root := c.Root
	if root == "" {
		root = cfg.Library.Path
	}
	if root == "" {
		return fmt.Errorf("no directory to scan: pass one as an argument or set library.path")
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("scan root is not a directory: %s", root)
	}

	opts := dedup.Options{
		Extensions:      cfg.Dups.Extensions,
		MinSize:         cfg.Dups.MinSize,
		IncludeSidecars: cfg.Dups.IncludeSidecars,
		FollowSymlinks:  cfg.Dups.FollowSymlinks,
		Workers:         cfg.Dups.Workers,
	}

	var progress *tui.ScanProgress
	if c.showProgress() {
		progress = tui.NewScanProgress("Hashing")
		opts.OnProgress = progress.Update
	}

	result, err := dedup.Find(context.Background(), root, opts)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	out := os.Stdout
	if c.Out != "" {
		f, err := os.Create(c.Out)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := render(out, result, cfg.Dups.Format); err != nil {
		return err
	}

	slog.Info("Scan complete",
		"root", root,
		"scanned", result.FilesScanned,
		"skipped", result.FilesSkipped,
		"duplicate_groups", len(result.Groups),
		"reclaimable", humanBytes(result.ReclaimableBytes))

	return nil
}

// showProgress reports whether to draw the progress bar. The bar shuts down
// before the report is rendered, so the two never interleave on stdout.
func (c *Cmd) showProgress() bool {
	return !c.NoProgress && isatty.IsTerminal(os.Stdout.Fd())
}

func (c *Cmd) applyOverrides() {
	if len(c.Ext) > 0 {
		viper.Set("dups.extensions", c.Ext)
	}
	if c.MinSize > 0 {
		viper.Set("dups.min_size", c.MinSize)
	}
	if c.IncludeSidecars {
		viper.Set("dups.include_sidecars", true)
	}
	if c.FollowSymlinks {
		viper.Set("dups.follow_symlinks", true)
	}
	if c.Workers > 0 {
		viper.Set("dups.workers", c.Workers)
	}
	if c.Format != "" {
		viper.Set("dups.format", c.Format)
	}
}
