package redisstore

import (
	"context"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetGetDel_HappyPath(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if err := rc.Set(ctx, "k1", []byte("v1"), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := rc.Get(ctx, "k1")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("Get got %q ok=%v err=%v", got, ok, err)
	}
	if ttl := mr.TTL("k1"); ttl != 5*time.Minute {
		t.Fatalf("ttl got %v", ttl)
	}

	if _, ok, err := rc.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	if err := rc.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if mr.Exists("k1") {
		t.Fatal("k1 should be gone")
	}
	if err := rc.Del(ctx); err != nil {
		t.Fatalf("empty Del: %v", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()
	if err := rc.Set(ctx, "short", []byte("x"), time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if _, ok, _ := rc.Get(ctx, "short"); ok {
		t.Fatal("expected key to expire")
	}
}

func TestDelPrefix(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()
	for i := range 300 {
		_ = mr.Set("fi:ar5:"+strconv.Itoa(i), "x")
	}
	_ = mr.Set("fi:dtm:1", "y")

	n, err := rc.DelPrefix(ctx, "fi:ar5:")
	if err != nil {
		t.Fatalf("DelPrefix: %v", err)
	}
	if n != 300 {
		t.Fatalf("deleted %d want 300", n)
	}
	if !mr.Exists("fi:dtm:1") || len(mr.Keys()) != 1 {
		t.Fatalf("remaining keys %v", mr.Keys())
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}
