package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/vortexhq/vortex/pkg/observability"
)

// setupCacheTest creates a miniredis-backed Cache and a cleanup function
func setupCacheTest(t *testing.T) (*Cache, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	c := New(rdb, logger, nil)

	cleanup := func() {
		rdb.Close()
		mr.Close()
	}

	return c, mr, cleanup
}

func TestSetGetJSON(t *testing.T) {
	c, _, cleanup := setupCacheTest(t)
	defer cleanup()

	ctx := context.Background()
	value := map[string][]string{"violation": {"create", "list"}}

	if !c.SetJSON(ctx, "vortex:role:moderator", value, time.Minute) {
		t.Fatal("SetJSON failed")
	}

	var got map[string][]string
	if !c.GetJSON(ctx, "vortex:role:moderator", &got) {
		t.Fatal("GetJSON missed a key that was just set")
	}

	if len(got["violation"]) != 2 || got["violation"][0] != "create" {
		t.Errorf("unexpected round-trip value: %v", got)
	}
}

func TestGetJSONMiss(t *testing.T) {
	c, _, cleanup := setupCacheTest(t)
	defer cleanup()

	var dest map[string]interface{}
	if c.GetJSON(context.Background(), "vortex:role:missing", &dest) {
		t.Error("expected miss for absent key")
	}
}

func TestGetJSONCorruptEntryIsDiscarded(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	mr.Set("vortex:role:bad", "{not json")

	var dest map[string]interface{}
	if c.GetJSON(context.Background(), "vortex:role:bad", &dest) {
		t.Error("expected corrupt entry to read as miss")
	}

	if mr.Exists("vortex:role:bad") {
		t.Error("expected corrupt entry to be deleted")
	}
}

func TestMGetJSON(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	mr.Set("vortex:role:a", `{"violation":["list"]}`)
	mr.Set("vortex:role:b", `{"moderation":["view"]}`)

	got := c.MGetJSON(context.Background(), []string{"vortex:role:a", "vortex:role:missing", "vortex:role:b"})

	if len(got) != 2 {
		t.Fatalf("expected 2 present values, got %d", len(got))
	}
	if _, ok := got["vortex:role:missing"]; ok {
		t.Error("missing key should be omitted")
	}
}

func TestMGetJSONEmptyKeys(t *testing.T) {
	c, _, cleanup := setupCacheTest(t)
	defer cleanup()

	if got := c.MGetJSON(context.Background(), nil); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestDelKeys(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	mr.Set("vortex:role:a", "{}")
	mr.Set("vortex:role:b", "{}")

	if deleted := c.DelKeys(context.Background(), []string{"vortex:role:a", "vortex:role:b", "vortex:role:missing"}); deleted != 2 {
		t.Errorf("expected 2 deletions, got %d", deleted)
	}
}

func TestScanKeys(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	mr.Set("vortex:role:a", "{}")
	mr.Set("vortex:role:b", "{}")
	mr.Set("vortex:session:x", "{}")

	keys := c.ScanKeys(context.Background(), "vortex:role:*")
	if len(keys) != 2 {
		t.Errorf("expected 2 role keys, got %v", keys)
	}
}

func TestIncr(t *testing.T) {
	c, _, cleanup := setupCacheTest(t)
	defer cleanup()

	ctx := context.Background()
	if n := c.Incr(ctx, "vortex:roles:version"); n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
	if n := c.Incr(ctx, "vortex:roles:version"); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	if n := c.GetInt64(ctx, "vortex:roles:version"); n != 2 {
		t.Errorf("expected counter read of 2, got %d", n)
	}
}

func TestOperationsDegradeWhenRedisDown(t *testing.T) {
	c, mr, cleanup := setupCacheTest(t)
	defer cleanup()

	mr.Close()

	ctx := context.Background()
	if c.SetJSON(ctx, "k", "v", 0) {
		t.Error("SetJSON should report failure when redis is down")
	}
	var dest string
	if c.GetJSON(ctx, "k", &dest) {
		t.Error("GetJSON should miss when redis is down")
	}
	if got := c.MGetJSON(ctx, []string{"k"}); len(got) != 0 {
		t.Error("MGetJSON should return empty when redis is down")
	}
	if got := c.DelKeys(ctx, []string{"k"}); got != 0 {
		t.Error("DelKeys should return 0 when redis is down")
	}
	if got := c.ScanKeys(ctx, "*"); len(got) != 0 {
		t.Error("ScanKeys should return empty when redis is down")
	}
	if got := c.Incr(ctx, "k"); got != 0 {
		t.Error("Incr should return 0 when redis is down")
	}
}
