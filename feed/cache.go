package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kiln-host/kiln/netutil"
)

// listExpiry bounds how long a cached version list is trusted; package
// payloads are immutable and never expire.
const listExpiry = 30 * time.Minute

// Cache is the on-disk response cache shared by remote feeds. Entries
// are keyed by the normalized source URL plus a request-specific name,
// so two spellings of the same source share entries.
type Cache struct {
	root    string
	noCache bool
}

// NewCache opens (creating if needed) the cache rooted at dir. The
// default location is ~/.kiln/cache. When noCache is set every read
// misses, but writes still happen so later runs benefit.
func NewCache(dir string, noCache bool) (*Cache, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".kiln", "cache")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create feed cache %s: %w", dir, err)
	}
	return &Cache{root: dir, noCache: noCache}, nil
}

func (c *Cache) path(sourceURL, key string) string {
	sum := sha256.Sum256([]byte(netutil.NormalizeURL(sourceURL) + "\x00" + key))
	return filepath.Join(c.root, hex.EncodeToString(sum[:]))
}

// Get returns the cached bytes for (source, key), or ok=false on a
// miss. Entries older than maxAge are treated as misses; a zero maxAge
// means entries never expire.
func (c *Cache) Get(sourceURL, key string, maxAge time.Duration) ([]byte, bool) {
	if c == nil || c.noCache {
		return nil, false
	}
	p := c.path(sourceURL, key)
	if maxAge > 0 {
		info, err := os.Stat(p)
		if err != nil || time.Since(info.ModTime()) > maxAge {
			return nil, false
		}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores data under (source, key). Failures are swallowed; the
// cache is an optimisation, never a correctness dependency.
func (c *Cache) Put(sourceURL, key string, data []byte) {
	if c == nil {
		return
	}
	p := c.path(sourceURL, key)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, p)
}
