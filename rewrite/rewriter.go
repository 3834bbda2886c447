package rewrite

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"mediagent/logger"
)

// TextStore is a place stored text can reference media paths from
type TextStore interface {
	Name() string
	Scan(ctx context.Context, fn func(key string, value []byte) ([]byte, bool)) (int, error)
}

// Rewriter propagates a changed file path into every registered TextStore
type Rewriter struct {
	stores   []TextStore
	reserved []string
}

// New returns a Rewriter that skips keys starting with any reserved prefix.
// Stored keys may be namespaced ("option:_transient_x"); the prefix is matched
// against the key and against the part after its last ':'.
func New(reserved []string, stores ...TextStore) *Rewriter {
	return &Rewriter{stores: stores, reserved: reserved}
}

func (r *Rewriter) isReserved(key string) bool {
	name := key
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		name = key[i+1:]
	}
	for _, prefix := range r.reserved {
		if strings.HasPrefix(key, prefix) || strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Rewrite replaces the path of oldURL with the path of newURL everywhere.
// It returns the number of records changed.
func (r *Rewriter) Rewrite(ctx context.Context, oldURL, newURL string) (int, error) {
	oldPath, newPath := PathOf(oldURL), PathOf(newURL)
	if oldPath == "" || oldPath == "/" || oldPath == newPath {
		return 0, nil
	}

	total := 0
	for _, store := range r.stores {
		n, err := store.Scan(ctx, func(key string, value []byte) ([]byte, bool) {
			if r.isReserved(key) {
				return nil, false
			}
			updated, count := ReplacePath(string(value), oldPath, newPath)
			if count == 0 {
				return nil, false
			}
			return []byte(updated), true
		})
		if err != nil {
			return total, fmt.Errorf("rewrite %s: %w", store.Name(), err)
		}
		if n > 0 {
			logger.Debugf("Rewrote %s -> %s in %d %s record(s)", oldPath, newPath, n, store.Name())
		}
		total += n
	}
	return total, nil
}

// PathOf returns the path component of a URL, or raw itself if it is already a path
func PathOf(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Host == "" && u.Scheme == "" {
		return u.Path
	}
	if u.RawPath != "" {
		return u.RawPath
	}
	return u.Path
}

// ReplacePath replaces whole-path occurrences of oldPath in text, including
// the JSON-escaped form. A match is a different file when a filename character
// follows it, or when it continues a longer path on the left.
func ReplacePath(text, oldPath, newPath string) (string, int) {
	out, n := replaceBounded(text, oldPath, newPath)
	escOld := strings.ReplaceAll(oldPath, "/", `\/`)
	if escOld != oldPath {
		var m int
		out, m = replaceBounded(out, escOld, strings.ReplaceAll(newPath, "/", `\/`))
		n += m
	}
	return out, n
}

func replaceBounded(text, old, repl string) (string, int) {
	if old == "" || !strings.Contains(text, old) {
		return text, 0
	}
	var b strings.Builder
	count, pos := 0, 0
	for {
		i := strings.Index(text[pos:], old)
		if i < 0 {
			b.WriteString(text[pos:])
			break
		}
		i += pos
		end := i + len(old)
		b.WriteString(text[pos:i])
		if startsPath(text[:i]) && (end == len(text) || !isFilenameChar(text[end])) {
			b.WriteString(repl)
			count++
		} else {
			b.WriteString(old)
		}
		pos = end
	}
	return b.String(), count
}

// startsPath reports whether a path beginning right after before is a whole
// path: at the start of text, after a delimiter, or right after "//host".
func startsPath(before string) bool {
	if before == "" {
		return true
	}
	last := before[len(before)-1]
	if last == '/' || last == '\\' {
		return false
	}
	if !isFilenameChar(last) {
		return true
	}
	i := len(before)
	for i > 0 && isHostChar(before[i-1]) {
		i--
	}
	rest := before[:i]
	return strings.HasSuffix(rest, "//") || strings.HasSuffix(rest, `\/\/`)
}

func isHostChar(c byte) bool {
	return isFilenameChar(c) || c == ':' || c == '@'
}

func isFilenameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '.' || c == '-'
}
