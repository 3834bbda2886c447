package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"mediagent/models"

	"github.com/gabriel-vasile/mimetype"
)

const (
	sideloadTimeout  = 30 * time.Second
	sideloadMaxBytes = 32 << 20
)

var ErrNotAnImage = errors.New("remote file is not a supported image")

var sideloadTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Sideloader fetches remote images into the library with a bounded timeout
type Sideloader struct {
	lib    *Library
	client *http.Client
}

func NewSideloader(lib *Library) *Sideloader {
	return &Sideloader{lib: lib, client: &http.Client{Timeout: sideloadTimeout}}
}

// Sideload downloads rawURL and registers it as item id under "sideload/"
func (s *Sideloader) Sideload(ctx context.Context, id, rawURL string) (models.MediaItem, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.MediaItem{}, fmt.Errorf("invalid sideload url %q", rawURL)
	}
	if err := s.lib.converted(id); err != nil {
		return models.MediaItem{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.MediaItem{}, err
	}
	req.Header.Set("User-Agent", "mediagent/1.0")
	resp, err := s.client.Do(req)
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("sideload request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.MediaItem{}, fmt.Errorf("sideload returned non-2xx status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, sideloadMaxBytes+1))
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("read sideload body: %w", err)
	}
	if len(data) > sideloadMaxBytes {
		return models.MediaItem{}, fmt.Errorf("remote file exceeds %d bytes", sideloadMaxBytes)
	}
	mt := mimetype.Detect(data)
	if !sideloadTypes[mt.String()] {
		return models.MediaItem{}, fmt.Errorf("%w: %s", ErrNotAnImage, mt.String())
	}

	name := sanitizeName(path.Base(u.Path))
	if !strings.EqualFold(path.Ext(name), mt.Extension()) {
		name = strings.TrimSuffix(name, path.Ext(name)) + mt.Extension()
	}
	rel := path.Join("sideload", sanitizeName(id)+"-"+name)
	abs := s.lib.AbsPath(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return models.MediaItem{}, err
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return models.MediaItem{}, fmt.Errorf("write sideloaded file: %w", err)
	}
	item, err := s.lib.Register(ctx, id, rel)
	if err != nil {
		os.Remove(abs)
		return models.MediaItem{}, err
	}
	return item, nil
}

func sanitizeName(name string) string {
	var b bytes.Buffer
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), ".-")
	if out == "" {
		return "file"
	}
	return out
}
