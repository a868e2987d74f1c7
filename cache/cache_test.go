package cache

import (
	"testing"
	"time"
)

func TestCache_GetSet(t *testing.T) {
	c := New(10, time.Hour)
	defer c.Stop()

	if _, ok := c.Get("a.com"); ok {
		t.Fatal("empty cache should miss")
	}
	c.Set("a.com", 1)
	if v, ok := c.Get("a.com"); !ok || v != 1 {
		t.Errorf("Get = %d, %v; want 1, true", v, ok)
	}
}

func TestCache_Expiry(t *testing.T) {
	c := New(10, time.Minute)
	defer c.Stop()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("a.com", 0)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := c.Get("a.com"); ok {
		t.Error("expired entry should miss")
	}

	c.evictExpired()
	if c.Len() != 0 {
		t.Errorf("Len = %d after eviction, want 0", c.Len())
	}
}

func TestCache_Capacity(t *testing.T) {
	c := New(2, time.Hour)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 1)
	c.Set("b", 0) // overwrite must not evict
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	c.Set("c", 1)
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2 after eviction", c.Len())
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("newest entry should be present")
	}
}

func TestKey(t *testing.T) {
	if got := Key(" Example.COM. "); got != "example.com" {
		t.Errorf("Key = %q", got)
	}
}

func TestCache_StopIdempotent(t *testing.T) {
	c := New(1, time.Hour)
	c.Stop()
	c.Stop()
}
