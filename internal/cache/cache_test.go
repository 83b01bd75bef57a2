package cache

import (
	"context"
	"testing"
	"time"

	"brightcart/internal/testsupport/redisstub"
)

type cachedProduct struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

func startCache(t *testing.T) (*Cache, *redisstub.Server) {
	t.Helper()
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })
	facade := New(Config{Addr: stub.Addr(), DialTimeout: time.Second})
	if !facade.Enabled() {
		t.Fatalf("expected cache to connect to stub at %s", stub.Addr())
	}
	t.Cleanup(func() { _ = facade.Close() })
	return facade, stub
}

func TestSetGetRoundTrip(t *testing.T) {
	facade, _ := startCache(t)
	ctx := context.Background()
	stored := cachedProduct{ID: "66f2a1b83c9d4e5f6a7b8c9d", Name: "Desk Lamp", Price: "34.99"}
	if !facade.Set(ctx, "product:"+stored.ID, stored, time.Minute) {
		t.Fatalf("expected set to succeed")
	}
	var loaded cachedProduct
	if !facade.Get(ctx, "product:"+stored.ID, &loaded) {
		t.Fatalf("expected get to hit")
	}
	if loaded != stored {
		t.Fatalf("round trip mismatch: got %+v want %+v", loaded, stored)
	}
}

func TestGetMissOnAbsentKey(t *testing.T) {
	facade, _ := startCache(t)
	var dest cachedProduct
	if facade.Get(context.Background(), "product:missing", &dest) {
		t.Fatalf("expected miss for absent key")
	}
	if dest != (cachedProduct{}) {
		t.Fatalf("destination modified on miss: %+v", dest)
	}
}

func TestGetMissOnUndecodablePayload(t *testing.T) {
	facade, _ := startCache(t)
	ctx := context.Background()
	if !facade.Set(ctx, "product:weird", "not-an-object", time.Minute) {
		t.Fatalf("expected set to succeed")
	}
	var dest cachedProduct
	if facade.Get(ctx, "product:weird", &dest) {
		t.Fatalf("expected undecodable payload to read as miss")
	}
}

func TestGetMissAfterExpiry(t *testing.T) {
	facade, stub := startCache(t)
	ctx := context.Background()
	if !facade.Set(ctx, "session:abc", "payload", time.Minute) {
		t.Fatalf("expected set to succeed")
	}
	stub.Expire("session:abc")
	var dest string
	if facade.Get(ctx, "session:abc", &dest) {
		t.Fatalf("expected expired entry to read as miss")
	}
}

func TestDeleteReportsRemoval(t *testing.T) {
	facade, _ := startCache(t)
	ctx := context.Background()
	if !facade.Set(ctx, "products:list", []string{"a", "b"}, 0) {
		t.Fatalf("expected set to succeed")
	}
	if !facade.Delete(ctx, "products:list") {
		t.Fatalf("expected delete of existing key to report true")
	}
	if facade.Delete(ctx, "products:list") {
		t.Fatalf("expected second delete to report false")
	}
	var dest []string
	if facade.Get(ctx, "products:list", &dest) {
		t.Fatalf("expected get after delete to miss")
	}
}

func TestDisabledWithoutAddress(t *testing.T) {
	facade := New(Config{})
	if facade.Enabled() {
		t.Fatalf("expected facade without address to be disabled")
	}
	ctx := context.Background()
	if facade.Set(ctx, "k", "v", time.Minute) {
		t.Fatalf("disabled set must report false")
	}
	var dest string
	if facade.Get(ctx, "k", &dest) {
		t.Fatalf("disabled get must report miss")
	}
	if facade.Delete(ctx, "k") {
		t.Fatalf("disabled delete must report false")
	}
	if err := facade.Close(); err != nil {
		t.Fatalf("close disabled facade: %v", err)
	}
}

func TestDisabledWhenUnreachable(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	addr := stub.Addr()
	_ = stub.Close()
	facade := New(Config{Addr: addr, DialTimeout: 200 * time.Millisecond})
	if facade.Enabled() {
		t.Fatalf("expected facade to disable itself when redis is unreachable")
	}
}

func TestAuthenticatedConnection(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{Password: "sesame"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })
	facade := New(Config{Addr: stub.Addr(), Password: "sesame", DialTimeout: time.Second})
	if !facade.Enabled() {
		t.Fatalf("expected authenticated facade to connect")
	}
	t.Cleanup(func() { _ = facade.Close() })
	wrong := New(Config{Addr: stub.Addr(), Password: "nope", DialTimeout: time.Second})
	if wrong.Enabled() {
		t.Fatalf("expected facade with wrong password to be disabled")
	}
}
