// Package dedup finds duplicate book files by full-content hash. A bounded
// worker pool hashes candidate files in parallel; files are duplicates when
// both their size and their SHA-256 digest match.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

const hashBufferSize = 1 << 20 // 1 MiB reads

// Sidecar files Calibre keeps next to book files.
var sidecarNames = map[string]bool{
	"metadata.opf": true,
	"cover.jpg":    true,
	"cover.jpeg":   true,
	"cover.png":    true,
}

// DefaultExtensions is the default extension filter: common ebook formats.
func DefaultExtensions() []string {
	return []string{
		"epub", "pdf", "mobi", "azw", "azw3", "djvu", "fb2",
		"rtf", "txt", "doc", "docx", "cbz", "cbr",
	}
}

// Options control a duplicate scan.
type Options struct {
	// Extensions to consider, without dots. Empty means DefaultExtensions.
	Extensions []string
	// MinSize skips files smaller than this many bytes.
	MinSize int64
	// IncludeSidecars also scans Calibre sidecar files (metadata.opf,
	// cover images) regardless of the extension filter.
	IncludeSidecars bool
	// FollowSymlinks hashes the targets of symlinked files.
	FollowSymlinks bool
	// Workers sizes the hashing pool. Non-positive means runtime.NumCPU.
	Workers int
	// OnProgress, when set, is called after each file is hashed or skipped.
	OnProgress func(done, total int)
}

// Group is one set of identical files.
type Group struct {
	Size  int64    `json:"bytes" yaml:"bytes"`
	Hash  string   `json:"sha256" yaml:"sha256"`
	Paths []string `json:"files" yaml:"files"`
}

// Result is the outcome of one scan.
type Result struct {
	Groups       []Group
	FilesScanned int // files hashed
	FilesSkipped int // files that could not be read
	// ReclaimableBytes is the space freed by keeping one copy per group.
	ReclaimableBytes int64
}

type fileInfo struct {
	path string
	size int64
	hash string
	err  error
}

// Find scans the tree under root and returns the duplicate groups. Unreadable
// files are skipped with a warning; only an unreadable root or a cancelled
// context abort the scan. Output ordering is deterministic for any worker
// count: groups sort by path count descending, then size descending, then
// hash, and paths within a group sort lexicographically.
func Find(ctx context.Context, root string, opts Options) (Result, error) {
	var result Result

	candidates, err := collectCandidates(root, opts)
	if err != nil {
		return result, err
	}
	slog.Debug("Collected candidate files", "root", root, "count", len(candidates))

	infos, err := hashAll(ctx, candidates, opts)
	if err != nil {
		return result, err
	}

	byKey := make(map[string][]fileInfo)
	for _, info := range infos {
		if info.err != nil {
			slog.Warn("Skipping unreadable file", "path", info.path, "error", info.err)
			result.FilesSkipped++
			continue
		}
		result.FilesScanned++
		key := fmt.Sprintf("%d/%s", info.size, info.hash)
		byKey[key] = append(byKey[key], info)
	}

	for _, files := range byKey {
		if len(files) < 2 {
			continue
		}
		group := Group{
			Size:  files[0].size,
			Hash:  files[0].hash,
			Paths: make([]string, len(files)),
		}
		for i, f := range files {
			group.Paths[i] = f.path
		}
		sort.Strings(group.Paths)
		result.Groups = append(result.Groups, group)
		result.ReclaimableBytes += group.Size * int64(len(group.Paths)-1)
	}

	sort.Slice(result.Groups, func(i, j int) bool {
		a, b := result.Groups[i], result.Groups[j]
		if len(a.Paths) != len(b.Paths) {
			return len(a.Paths) > len(b.Paths)
		}
		if a.Size != b.Size {
			return a.Size > b.Size
		}
		return a.Hash < b.Hash
	})

	return result, nil
}

// collectCandidates walks the tree and applies the extension, size and
// sidecar filters. Walk errors below the root are warnings.
func collectCandidates(root string, opts Options) ([]string, error) {
	exts := extensionSet(opts.Extensions)

	var candidates []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			slog.Warn("Cannot read directory entry", "path", path, "error", err)
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				return nil
			}
			// Only symlinks to regular files are followed; linked
			// directories are not descended into.
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
			d = fs.FileInfoToDirEntry(info)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		name := strings.ToLower(d.Name())
		if opts.IncludeSidecars && sidecarNames[name] {
			candidates = append(candidates, path)
			return nil
		}

		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		if !exts[ext] {
			return nil
		}

		if opts.MinSize > 0 {
			info, err := d.Info()
			if err != nil || info.Size() < opts.MinSize {
				return nil
			}
		}

		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return candidates, nil
}

// hashAll distributes files over a fixed pool of workers. Results land in a
// preallocated slice indexed by job number, so no ordering depends on worker
// scheduling.
func hashAll(ctx context.Context, paths []string, opts Options) ([]fileInfo, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(paths) {
		workers = len(paths)
	}
	if workers == 0 {
		return nil, nil
	}

	infos := make([]fileInfo, len(paths))
	jobs := make(chan int, len(paths))
	var done atomic.Int64

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, hashBufferSize)
			for i := range jobs {
				select {
				case <-ctx.Done():
					infos[i] = fileInfo{path: paths[i], err: ctx.Err()}
					continue
				default:
				}

				infos[i] = hashFile(paths[i], buf)
				if opts.OnProgress != nil {
					opts.OnProgress(int(done.Add(1)), len(paths))
				}
			}
		}()
	}

	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return infos, nil
}

// hashFile computes the size and full-content SHA-256 of one file. The size
// is taken at hash time so a file that changed since the walk is still
// grouped by what was actually hashed.
func hashFile(path string, buf []byte) fileInfo {
	f, err := os.Open(path)
	if err != nil {
		return fileInfo{path: path, err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fileInfo{path: path, err: err}
	}

	hasher := sha256.New()
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return fileInfo{path: path, err: err}
	}

	return fileInfo{
		path: path,
		size: info.Size(),
		hash: hex.EncodeToString(hasher.Sum(nil)),
	}
}

func extensionSet(extensions []string) map[string]bool {
	if len(extensions) == 0 {
		extensions = DefaultExtensions()
	}
	set := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			set[ext] = true
		}
	}
	return set
}
