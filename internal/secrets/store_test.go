package secrets

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

func newTestStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	b := NewMemoryBackend()
	s, err := NewStore(b, testKey, StoreOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.AddActor(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	return s, b
}

func TestNewStore_RejectsBadKey(t *testing.T) {
	if _, err := NewStore(NewMemoryBackend(), []byte("short"), StoreOptions{}); err == nil {
		t.Error("expected error for non-256-bit key")
	}
	// Local mode needs no key at all.
	if _, err := NewStore(nil, nil, StoreOptions{}); err != nil {
		t.Errorf("local mode: %v", err)
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "ws-1", "openai", "sk-upstream-secret", "alice", "prod key", 30, "10.1.2.3"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "ws-1", "openai", "alice", "10.1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if got != "sk-upstream-secret" {
		t.Errorf("got %q", got)
	}

	// Plaintext must never appear in the stored payload.
	sec, err := b.GetSecret(ctx, "ws-1", "openai")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(sec.Ciphertext, []byte("sk-upstream-secret")) {
		t.Error("ciphertext contains plaintext")
	}
	if sec.Version != 1 {
		t.Errorf("version = %d, want 1", sec.Version)
	}
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "ws-1", "openai", "alice", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGet_CorruptedCiphertextFailsIntegrity(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "ws-1", "openai", "sk-secret", "alice", "", 30, ""); err != nil {
		t.Fatal(err)
	}

	sec, _ := b.GetSecret(ctx, "ws-1", "openai")
	sec.Ciphertext[0] ^= 0xFF
	if err := b.PutSecret(ctx, "ws-1", "openai", sec); err != nil {
		t.Fatal(err)
	}

	_, err := s.Get(ctx, "ws-1", "openai", "alice", "")
	if !errors.Is(err, ErrIntegrity) {
		t.Errorf("err = %v, want ErrIntegrity", err)
	}

	entries, _ := s.AccessLog(ctx, "ws-1", 10)
	found := false
	for _, e := range entries {
		if e.Reason == ReasonIntegrity && !e.Success {
			found = true
		}
	}
	if !found {
		t.Error("integrity failure should be audited")
	}
}

func TestUnauthorizedActor_DeniedAndAudited(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "ws-1", "openai", "sk-secret", "alice", "", 30, ""); err != nil {
		t.Fatal(err)
	}

	_, err := s.Get(ctx, "ws-1", "openai", "mallory", "203.0.113.9")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("err = %v, want ErrNotAuthorized", err)
	}

	entries, _ := s.AccessLog(ctx, "ws-1", 10)
	found := false
	for _, e := range entries {
		if e.Actor == "mallory" && e.Reason == ReasonNotAuthorized && !e.Success {
			found = true
		}
	}
	if !found {
		t.Error("denial should appear in the access log")
	}
}

func TestSystemActor_AlwaysAuthorizedStillAudited(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "ws-1", "openai", "sk-secret", "alice", "", 30, ""); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "ws-1", "openai", SystemActor, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "sk-secret" {
		t.Errorf("got %q", got)
	}

	entries, _ := s.AccessLog(ctx, "ws-1", 10)
	found := false
	for _, e := range entries {
		if e.Actor == SystemActor && e.Action == ActionRead && e.Success {
			found = true
		}
	}
	if !found {
		t.Error("system reads must still be audited")
	}
}

func TestRotate_FreshIVAndVersionBump(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "ws-1", "openai", "sk-old", "alice", "", 30, ""); err != nil {
		t.Fatal(err)
	}
	before, _ := b.GetSecret(ctx, "ws-1", "openai")

	if err := s.Rotate(ctx, "ws-1", "openai", "sk-new", "alice", ""); err != nil {
		t.Fatal(err)
	}
	after, _ := b.GetSecret(ctx, "ws-1", "openai")

	if after.Version != before.Version+1 {
		t.Errorf("version = %d, want %d", after.Version, before.Version+1)
	}
	if bytes.Equal(after.IV, before.IV) {
		t.Error("rotation must use a fresh IV")
	}

	got, err := s.Get(ctx, "ws-1", "openai", "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "sk-new" {
		t.Errorf("got %q after rotation", got)
	}
}

func TestRotate_MissingSecret(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.Rotate(context.Background(), "ws-1", "openai", "sk-new", "alice", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPut_ReplaceBumpsVersion(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "ws-1", "openai", "sk-one", "alice", "", 30, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "ws-1", "openai", "sk-two", "alice", "", 30, ""); err != nil {
		t.Fatal(err)
	}

	sec, _ := b.GetSecret(ctx, "ws-1", "openai")
	if sec.Version != 2 {
		t.Errorf("version = %d, want 2", sec.Version)
	}
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "ws-1", "openai", "sk-secret", "alice", "", 30, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "ws-1", "openai", "alice", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, "ws-1", "openai", "alice", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v after delete, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "ws-1", "openai", "alice", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestListDueForRotation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "ws-1", "openai", "sk-a", "alice", "", 10, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "ws-1", "anthropic", "sk-b", "alice", "", 90, ""); err != nil {
		t.Fatal(err)
	}

	near, err := s.ListDueForRotation(ctx, 15)
	if err != nil {
		t.Fatal(err)
	}
	if len(near) != 1 || near[0].Provider != "openai" {
		t.Errorf("near = %+v, want just the 10-day secret", near)
	}

	far, err := s.ListDueForRotation(ctx, 120)
	if err != nil {
		t.Fatal(err)
	}
	if len(far) != 2 {
		t.Errorf("far = %d entries, want 2", len(far))
	}

	none, err := s.ListDueForRotation(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("none = %+v, want empty", none)
	}
}

func TestEnvFallback_LocalMode(t *testing.T) {
	s, err := NewStore(nil, nil, StoreOptions{
		EnvFallback: map[string]string{"openai": "sk-from-env"},
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, err := s.Get(ctx, "anything", "openai", SystemActor, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "sk-from-env" {
		t.Errorf("got %q", got)
	}

	if _, err := s.Get(ctx, "anything", "mistral", SystemActor, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unconfigured provider: err = %v, want ErrNotFound", err)
	}
}

func TestAuthorizeRevoke(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Authorize(ctx, "bob", "alice", ""); err != nil {
		t.Fatal(err)
	}
	actors, err := s.Actors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	hasBob := false
	for _, a := range actors {
		if a == "bob" {
			hasBob = true
		}
	}
	if !hasBob {
		t.Errorf("actors = %v, want bob present", actors)
	}

	if err := s.Revoke(ctx, "bob", "alice", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "ws-1", "openai", "sk-x", "bob", "", 30, ""); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("revoked actor write: err = %v, want ErrNotAuthorized", err)
	}
}
