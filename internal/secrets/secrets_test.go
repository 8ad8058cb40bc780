package secrets

import (
	"strings"
	"testing"

	"practicum/internal/store"
)

func TestRegisterAndVerify(t *testing.T) {
	st := store.NewMemStore()
	r := NewRegistry(st)

	if err := r.Register("alice@example.com", "http://alice/build", "correct-horse-battery"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if !r.Verify("alice@example.com", "correct-horse-battery") {
		t.Error("correct secret rejected")
	}
	if r.Verify("alice@example.com", "wrong-secret-here") {
		t.Error("wrong secret accepted")
	}
	if r.Verify("unknown@example.com", "correct-horse-battery") {
		t.Error("unknown participant accepted")
	}

	// The stored row carries a hash, never the secret.
	p, err := st.GetParticipant("alice@example.com")
	if err != nil || p == nil {
		t.Fatalf("GetParticipant: %+v err %v", p, err)
	}
	if strings.Contains(p.SecretHash, "correct-horse") {
		t.Error("secret stored in plaintext")
	}
	if p.SecretHash != HashSecret("alice@example.com", "correct-horse-battery") {
		t.Error("stored hash does not match HashSecret")
	}
}

func TestHashSecret_SaltedByParticipant(t *testing.T) {
	a := HashSecret("alice@example.com", "shared-secret-1")
	b := HashSecret("bob@example.com", "shared-secret-1")
	if a == b {
		t.Error("same secret hashed identically for different participants")
	}
}

func TestRegister_RejectsShortSecret(t *testing.T) {
	r := NewRegistry(store.NewMemStore())
	if err := r.Register("alice@example.com", "http://alice", "short"); err == nil {
		t.Error("short secret accepted")
	}
	if err := r.Register("", "http://alice", "long-enough-secret"); err == nil {
		t.Error("empty participant accepted")
	}
}

func TestVerify_ReadsThroughToStore(t *testing.T) {
	st := store.NewMemStore()
	if err := st.UpsertParticipant(&store.Participant{
		ID:         "bob@example.com",
		Endpoint:   "http://bob/build",
		SecretHash: HashSecret("bob@example.com", "bobs-long-secret"),
	}); err != nil {
		t.Fatalf("UpsertParticipant: %v", err)
	}

	// Fresh registry with a cold cache must still verify.
	r := NewRegistry(st)
	if !r.Verify("bob@example.com", "bobs-long-secret") {
		t.Error("store-backed secret rejected on cold cache")
	}
}

func TestRemove(t *testing.T) {
	st := store.NewMemStore()
	r := NewRegistry(st)
	if err := r.Register("alice@example.com", "http://alice", "correct-horse-battery"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Remove("alice@example.com"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.Verify("alice@example.com", "correct-horse-battery") {
		t.Error("removed participant still verifies")
	}
}

func TestImportRoster(t *testing.T) {
	csvData := `timestamp,email,endpoint,secret
2026-08-29T10:00:00Z,alice@example.com,http://alice/build,alice-long-secret
2026-08-29T10:05:00Z,bob@example.com,http://bob/build,short
2026-08-29T10:10:00Z,carol@example.com,http://carol/build,carol-long-secret
`
	st := store.NewMemStore()
	r := NewRegistry(st)

	n, err := r.ImportRoster(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ImportRoster: %v", err)
	}
	if n != 2 {
		t.Errorf("registered %d, want 2 (short secret row skipped)", n)
	}
	if !r.Verify("alice@example.com", "alice-long-secret") || !r.Verify("carol@example.com", "carol-long-secret") {
		t.Error("imported participants do not verify")
	}
	if r.Verify("bob@example.com", "short") {
		t.Error("short-secret row was registered")
	}

	p, _ := st.GetParticipant("alice@example.com")
	if p == nil || p.Endpoint != "http://alice/build" {
		t.Errorf("endpoint not imported: %+v", p)
	}
}

func TestImportRoster_MissingColumn(t *testing.T) {
	r := NewRegistry(store.NewMemStore())
	_, err := r.ImportRoster(strings.NewReader("timestamp,email,endpoint\n2026-08-29,a@x.io,http://a\n"))
	if err == nil || !strings.Contains(err.Error(), "secret") {
		t.Fatalf("want missing column error, got %v", err)
	}
}
