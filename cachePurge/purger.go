package cachepurge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"mediagent/logger"
)

// Purger is one optional external cache layer
type Purger interface {
	Name() string
	// Available probes whether the cache layer is present and reachable
	Available(ctx context.Context) bool
	Purge(ctx context.Context, itemID string, urls []string) error
}

// Registry fans a purge out to every configured purger
type Registry struct {
	purgers []Purger
}

func NewRegistry(purgers ...Purger) *Registry {
	return &Registry{purgers: purgers}
}

// Names lists the configured purgers
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.purgers))
	for _, p := range r.purgers {
		names = append(names, p.Name())
	}
	return names
}

// Purge invalidates urls of itemID in every available cache layer.
// An absent or failing layer never stops the rest. Returns the names of the purgers that ran.
func (r *Registry) Purge(ctx context.Context, itemID string, urls []string) []string {
	ran := []string{}
	for _, p := range r.purgers {
		if !p.Available(ctx) {
			logger.Debugf("Cache purger %s not available, skipping", p.Name())
			continue
		}
		if err := p.Purge(ctx, itemID, urls); err != nil {
			logger.Warnf("Cache purger %s failed for item %s: %v", p.Name(), itemID, err)
			continue
		}
		ran = append(ran, p.Name())
	}
	return ran
}

// URLKey is the stable cache key for a URL
func URLKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
