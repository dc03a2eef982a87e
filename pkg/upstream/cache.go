package upstream

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ErrExpired is returned by Cache.Get when an entry exists but exceeded
// its time-to-live.
var ErrExpired = errors.New("cache entry expired")

// Cache is a file-based cache for upstream responses. Entries are JSON
// marshaled, zstd compressed and stored under a SHA-256 hash of the key,
// so arbitrary keys (URLs, identifier/ref pairs) are safe.
//
// The cache is meant primarily for immutable revision-pinned content
// (manifests at a version tag); give those entries a TTL of 0 so they
// never expire. Multiple processes can share a directory, the filesystem
// provides the needed atomicity.
type Cache struct {
	dir string
	ttl time.Duration

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCache creates a Cache rooted at dir with the given TTL. A TTL of 0
// means entries never expire. The directory is created if missing.
func NewCache(dir string, ttl time.Duration) (*Cache, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".cache", "lipindex")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &Cache{dir: dir, ttl: ttl, enc: enc, dec: dec}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Get retrieves a cached value by key and unmarshals it into v.
//
//   - (true, nil): hit, v populated
//   - (false, nil): miss, v unchanged
//   - (false, ErrExpired): entry exists but is stale, v unchanged
//   - (false, other): I/O or decode error
func (c *Cache) Get(key string, v interface{}) (bool, error) {
	path := c.keyPath(key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if c.ttl > 0 && time.Since(info.ModTime()) > c.ttl {
		return false, ErrExpired
	}

	compressed, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	data, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores a value under key, overwriting any previous entry and
// refreshing its TTL.
func (c *Cache) Set(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	compressed := c.enc.EncodeAll(data, nil)
	return os.WriteFile(c.keyPath(key), compressed, 0o644)
}

func (c *Cache) keyPath(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(h[:])+".zst")
}
