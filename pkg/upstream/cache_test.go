package upstream

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"
)

type cachePayload struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
}

func TestCacheRoundTrip(t *testing.T) {
	cache, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}

	in := cachePayload{Name: "endstone", Versions: []string{"0.5.0", "0.6.0"}}
	if err := cache.Set("pypi:release:endstone@0.5.0", in); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	var out cachePayload
	hit, err := cache.Get("pypi:release:endstone@0.5.0", &out)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !hit {
		t.Fatal("Get() missed a stored key")
	}
	if out.Name != in.Name || len(out.Versions) != 2 {
		t.Errorf("Get() = %+v, want %+v", out, in)
	}
}

func TestCacheMiss(t *testing.T) {
	cache, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}

	var out cachePayload
	hit, err := cache.Get("never-stored", &out)
	if err != nil {
		t.Fatalf("Get() error on miss: %v", err)
	}
	if hit {
		t.Error("Get() reported a hit for an absent key")
	}
}

func TestCacheExpiry(t *testing.T) {
	cache, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	if err := cache.Set("stale", cachePayload{Name: "old"}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	// Age the entry past its TTL.
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(cache.keyPath("stale"), past, past); err != nil {
		t.Fatalf("Chtimes() error: %v", err)
	}

	var out cachePayload
	hit, err := cache.Get("stale", &out)
	if hit {
		t.Error("Get() returned an expired entry")
	}
	if !errors.Is(err, ErrExpired) {
		t.Errorf("Get() error = %v, want ErrExpired", err)
	}
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	cache, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	if err := cache.Set("pinned", cachePayload{Name: "immutable"}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	past := time.Now().Add(-24 * 365 * time.Hour)
	if err := os.Chtimes(cache.keyPath("pinned"), past, past); err != nil {
		t.Fatalf("Chtimes() error: %v", err)
	}

	var out cachePayload
	hit, err := cache.Get("pinned", &out)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !hit || out.Name != "immutable" {
		t.Errorf("Get() = hit=%v %+v, want the pinned entry", hit, out)
	}
}

func TestCacheStoresCompressed(t *testing.T) {
	cache, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	if err := cache.Set("key", cachePayload{Name: "compressed"}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	raw, err := os.ReadFile(cache.keyPath("key"))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	zstdMagic := []byte{0x28, 0xb5, 0x2f, 0xfd}
	if !bytes.HasPrefix(raw, zstdMagic) {
		t.Errorf("cache file does not start with the zstd frame magic: % x", raw[:4])
	}
}

func TestCacheOverwriteRefreshes(t *testing.T) {
	cache, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	if err := cache.Set("key", cachePayload{Name: "first"}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := cache.Set("key", cachePayload{Name: "second"}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	var out cachePayload
	hit, err := cache.Get("key", &out)
	if err != nil || !hit {
		t.Fatalf("Get() = hit=%v err=%v", hit, err)
	}
	if out.Name != "second" {
		t.Errorf("Get() = %q, want the overwritten value", out.Name)
	}
}
