package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediagent/logger"

	"github.com/gabriel-vasile/mimetype"
)

// Quality is the fixed compression level used by every backend
const Quality = 82

var (
	ErrNoBackendAvailable = errors.New("no transcoding backend available")
	ErrUnsupportedFormat  = errors.New("unsupported source format")
	ErrConversionFailed   = errors.New("conversion failed")
)

// Format is a source image format the pipeline accepts
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
)

// Extension returns the canonical file extension for the format
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	default:
		return "." + string(f)
	}
}

var mimeFormats = map[string]Format{
	"image/jpeg": FormatJPEG,
	"image/png":  FormatPNG,
	"image/gif":  FormatGIF,
}

// DetectFormat sniffs the file content and maps it to a supported format
func DetectFormat(path string) (Format, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect format of %s: %w", path, err)
	}
	f, ok := mimeFormats[mt.String()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
	}
	return f, nil
}

// Transcoder converts one image file into the target format next to it.
// Implementations never modify or delete the source file.
type Transcoder interface {
	Name() string
	Available() bool
	Convert(ctx context.Context, sourcePath string, sourceFormat Format) (string, error)
}

// Registry picks the first available backend, in capability order, once at construction
type Registry struct {
	candidates []Transcoder
	selected   Transcoder
}

// NewRegistry probes candidates in order and keeps the first available one
func NewRegistry(candidates ...Transcoder) *Registry {
	r := &Registry{candidates: candidates}
	for _, c := range candidates {
		if c.Available() {
			r.selected = c
			logger.Infof("transcoder [%s] selected", c.Name())
			return r
		}
		logger.Warnf("transcoder [%s] skipped: not available", c.Name())
	}
	logger.Warn("no transcoding backend available; conversions will fail")
	return r
}

// DefaultCandidates returns the backends for a target format, best first
func DefaultCandidates(target string) []Transcoder {
	switch target {
	case "avif":
		return []Transcoder{NewAvifEnc("")}
	default:
		return []Transcoder{NewCWebP(""), Native{}}
	}
}

func (r *Registry) Name() string {
	if r.selected == nil {
		return "none"
	}
	return r.selected.Name()
}

func (r *Registry) Available() bool { return r.selected != nil }

// Convert delegates to the selected backend.
// With no backend it fails before any file is touched.
func (r *Registry) Convert(ctx context.Context, sourcePath string, sourceFormat Format) (string, error) {
	if r.selected == nil {
		return "", ErrNoBackendAvailable
	}
	if _, ok := formatSet[sourceFormat]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, sourceFormat)
	}
	return r.selected.Convert(ctx, sourcePath, sourceFormat)
}

var formatSet = map[Format]struct{}{FormatJPEG: {}, FormatPNG: {}, FormatGIF: {}}

// TargetPath returns a free path beside source with the new extension.
// "a/img.jpg" becomes "a/img.webp", or "a/img-1.webp" if that is taken.
func TargetPath(source, ext string) string {
	dir := filepath.Dir(source)
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	candidate := filepath.Join(dir, stem+ext)
	for i := 1; fileExists(candidate); i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
	return candidate
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// removePartial deletes a half-written target after a failed encode
func removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("failed to remove partial target %s: %v", path, err)
	}
}
