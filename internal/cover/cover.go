// Package cover normalizes downloaded cover images before they are handed
// to the library catalog.
package cover

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const defaultMaxWidth = 1200

// Normalize reads the image at src, corrects its EXIF orientation, downscales
// it to maxWidth when wider, and writes it to dst as JPEG. The aspect ratio
// is preserved.
func Normalize(src, dst string, maxWidth int) error {
	if maxWidth <= 0 {
		maxWidth = defaultMaxWidth
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode cover: %w", err)
	}

	if img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	return imaging.Save(img, dst, imaging.JPEGQuality(85))
}
