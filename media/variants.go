package media

import (
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mediagent/logger"
	"mediagent/models"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const variantQuality = 82

// VariantName is the WordPress-style sized file name: "dir/img.jpg" -> "dir/img-300x200.jpg"
func VariantName(rel string, width, height int) string {
	ext := path.Ext(rel)
	return fmt.Sprintf("%s-%dx%d%s", strings.TrimSuffix(rel, ext), width, height, ext)
}

// generateVariants writes a downscaled copy of abs for every configured size
// the image exceeds. It returns library-relative paths of the files written.
// Failures are logged; a missing variant never blocks the main file.
func (l *Library) generateVariants(abs string) []string {
	if len(l.sizes) == 0 {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(abs))
	if ext == ".avif" {
		logger.Debugf("skipping variants for %s: no in-process avif encoder", abs)
		return nil
	}
	src, err := imaging.Open(abs)
	if err != nil {
		logger.Warnf("cannot build variants for %s: %v", abs, err)
		return nil
	}
	rel, err := l.RelPath(abs)
	if err != nil {
		return nil
	}

	bounds := src.Bounds()
	var variants []string
	for _, size := range l.sizes {
		if bounds.Dx() <= size.Width && bounds.Dy() <= size.Height {
			continue
		}
		resized := imaging.Fit(src, size.Width, size.Height, imaging.Lanczos)
		b := resized.Bounds()
		vrel := VariantName(rel, b.Dx(), b.Dy())
		if err := saveImage(resized, l.AbsPath(vrel)); err != nil {
			logger.Warnf("failed to write variant %s: %v", vrel, err)
			continue
		}
		variants = append(variants, vrel)
	}
	return variants
}

// removeVariants deletes the variant files of item, except any equal to keep
func (l *Library) removeVariants(item models.MediaItem, keep string) {
	for _, v := range item.Variants {
		if v == keep {
			continue
		}
		if err := os.Remove(l.AbsPath(v)); err != nil && !os.IsNotExist(err) {
			logger.Warnf("failed to remove variant %s: %v", v, err)
		}
	}
}

func saveImage(img image.Image, abs string) error {
	if strings.EqualFold(filepath.Ext(abs), ".webp") {
		f, err := os.Create(abs)
		if err != nil {
			return err
		}
		if err := webp.Encode(f, img, &webp.Options{Quality: variantQuality, Exact: true}); err != nil {
			f.Close()
			os.Remove(abs)
			return err
		}
		return f.Close()
	}
	return imaging.Save(img, abs, imaging.JPEGQuality(variantQuality))
}
