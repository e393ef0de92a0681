package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestFileKVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	kv := NewFileKV(path)
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("missing file Get = (ok=%v, err=%v)", ok, err)
	}

	if err := kv.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if v, ok, err := kv.Get(ctx, "k"); err != nil || !ok || v != "v1" {
		t.Fatalf("get = (%q, %v, %v)", v, ok, err)
	}

	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Fatal("key survived delete")
	}
	// Deleting again is a no-op.
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
}

func TestFileKVPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	if err := NewFileKV(path).Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if v, ok, err := NewFileKV(path).Get(ctx, "k"); err != nil || !ok || v != "v1" {
		t.Fatalf("reloaded get = (%q, %v, %v)", v, ok, err)
	}
}

func TestFileKVCorruptFileReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o600); err != nil {
		t.Fatal(err)
	}

	kv := NewFileKV(path)
	if _, ok, err := kv.Get(context.Background(), "k"); err != nil || ok {
		t.Fatalf("corrupt file Get = (ok=%v, err=%v)", ok, err)
	}
}

func TestFileBackedStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	first := New(NewFileKV(path), "c", "r", zerolog.Nop())
	first.SetSession(ctx, "cred-1", "cap-1")

	second := New(NewFileKV(path), "c", "r", zerolog.Nop())
	if cred, ok := second.Credential(ctx); !ok || cred != "cred-1" {
		t.Fatalf("credential after restart = (%q, %v)", cred, ok)
	}
	if cap, ok := second.RefreshCapability(ctx); !ok || cap != "cap-1" {
		t.Fatalf("capability after restart = (%q, %v)", cap, ok)
	}
}
