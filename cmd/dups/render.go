package dups

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/lepinkainen/seshat/internal/dedup"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// report is the machine-readable envelope for the json and yaml formats.
type report struct {
	Groups           []dedup.Group `json:"duplicate_groups" yaml:"duplicate_groups"`
	FilesScanned     int           `json:"files_scanned" yaml:"files_scanned"`
	FilesSkipped     int           `json:"files_skipped" yaml:"files_skipped"`
	ReclaimableBytes int64         `json:"reclaimable_bytes" yaml:"reclaimable_bytes"`
}

func render(w io.Writer, result dedup.Result, format string) error {
	switch format {
	case "json":
		return renderJSON(w, result)
	case "yaml":
		return renderYAML(w, result)
	default:
		return renderText(w, result)
	}
}

func renderJSON(w io.Writer, result dedup.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report{
		Groups:           result.Groups,
		FilesScanned:     result.FilesScanned,
		FilesSkipped:     result.FilesSkipped,
		ReclaimableBytes: result.ReclaimableBytes,
	})
}

func renderYAML(w io.Writer, result dedup.Result) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(report{
		Groups:           result.Groups,
		FilesScanned:     result.FilesScanned,
		FilesSkipped:     result.FilesSkipped,
		ReclaimableBytes: result.ReclaimableBytes,
	})
}

func renderText(w io.Writer, result dedup.Result) error {
	styled := styledWriter(w)

	if len(result.Groups) == 0 {
		if _, err := fmt.Fprintln(w, "No duplicates found."); err != nil {
			return err
		}
		return nil
	}

	for i, group := range result.Groups {
		header := fmt.Sprintf("%d files, %s each (sha256 %.12s)",
			len(group.Paths), humanBytes(group.Size), group.Hash)
		if styled {
			header = headerStyle.Render(header)
		}
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}
		for _, path := range group.Paths {
			if _, err := fmt.Fprintf(w, "  %s\n", path); err != nil {
				return err
			}
		}
		if i < len(result.Groups)-1 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
	}

	summary := fmt.Sprintf("\n%d duplicate groups, %s reclaimable (%d files scanned, %d skipped)",
		len(result.Groups), humanBytes(result.ReclaimableBytes),
		result.FilesScanned, result.FilesSkipped)
	if styled {
		summary = dimStyle.Render(summary)
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

// styledWriter reports whether w is a terminal worth styling.
func styledWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
