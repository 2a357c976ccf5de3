package session

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	cerr "github.com/metavault/custodian/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "sessions.db"), filepath.Join(dir, "sessions.lock"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGetOrCreateRoundTrip(t *testing.T) {
	store := openTestStore(t)

	id := NewSessionID()
	sess, err := store.GetOrCreate(id, "0xAbc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID != id || sess.Wallet != "0xAbc" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if len(sess.Messages) != 0 {
		t.Fatalf("fresh session should have no history, got %d", len(sess.Messages))
	}

	// Re-creating keeps the original wallet binding.
	again, err := store.GetOrCreate(id, "0xDef")
	if err != nil {
		t.Fatalf("get existing: %v", err)
	}
	if again.Wallet != "0xAbc" {
		t.Fatalf("wallet rebound to %q", again.Wallet)
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	store := openTestStore(t)
	id := NewSessionID()
	if _, err := store.GetOrCreate(id, "0xAbc"); err != nil {
		t.Fatalf("create: %v", err)
	}

	turns := []struct{ role, content string }{
		{"user", "deposit 5"},
		{"assistant", "approval required"},
		{"user", "deposit 5"},
		{"assistant", "deposit prepared"},
	}
	for _, turn := range turns {
		if err := store.Append(id, turn.role, turn.content); err != nil {
			t.Fatalf("append %q: %v", turn.content, err)
		}
	}

	sess, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(sess.Messages) != len(turns) {
		t.Fatalf("history length = %d, want %d", len(sess.Messages), len(turns))
	}
	for i, turn := range turns {
		if sess.Messages[i].Role != turn.role || sess.Messages[i].Content != turn.content {
			t.Errorf("message %d = %q/%q, want %q/%q",
				i, sess.Messages[i].Role, sess.Messages[i].Content, turn.role, turn.content)
		}
	}
}

func TestAppendUnknownSession(t *testing.T) {
	store := openTestStore(t)
	err := store.Append("sess_missing", "user", "hello")
	if cerr.CodeOf(err) != cerr.CodeNotFound {
		t.Fatalf("code = %v, want not found", cerr.CodeOf(err))
	}
}

func TestGetUnknownSession(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("sess_missing")
	if cerr.CodeOf(err) != cerr.CodeNotFound {
		t.Fatalf("code = %v, want not found", cerr.CodeOf(err))
	}
}

func TestResetClearsHistoryAndKeepsID(t *testing.T) {
	store := openTestStore(t)
	id := NewSessionID()
	if _, err := store.GetOrCreate(id, "0xAbc"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Append(id, "user", "balance"); err != nil {
		t.Fatalf("append: %v", err)
	}

	sess, err := store.Reset(id, "0xAbc")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if sess.ID != id {
		t.Fatalf("reset changed id to %q", sess.ID)
	}
	if len(sess.Messages) != 0 {
		t.Fatalf("history survived reset: %d messages", len(sess.Messages))
	}
}

func TestResetCreatesUnknownSession(t *testing.T) {
	store := openTestStore(t)

	sess, err := store.Reset("sess_fresh", "0xAbc")
	if err != nil {
		t.Fatalf("reset unknown: %v", err)
	}
	if sess.ID != "sess_fresh" || len(sess.Messages) != 0 {
		t.Fatalf("unexpected session after reset: %+v", sess)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	store := openTestStore(t)
	a, _ := store.GetOrCreate(NewSessionID(), "0xAaa")
	b, _ := store.GetOrCreate(NewSessionID(), "0xBbb")

	if err := store.Append(a.ID, "user", "deposit 1"); err != nil {
		t.Fatalf("append a: %v", err)
	}

	got, err := store.Get(b.ID)
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if len(got.Messages) != 0 {
		t.Fatalf("session b picked up session a's history: %+v", got.Messages)
	}
}

func TestWriteTimesOutOnContendedLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "sessions.lock")
	store, err := Open(filepath.Join(dir, "sessions.db"), lockPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	holder := flock.New(lockPath)
	if err := holder.Lock(); err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	t.Cleanup(func() { _ = holder.Unlock() })

	old := lockTimeout
	lockTimeout = 200 * time.Millisecond
	t.Cleanup(func() { lockTimeout = old })

	_, err = store.GetOrCreate(NewSessionID(), "0xAbc")
	if err == nil {
		t.Fatal("write should fail while another process holds the lock")
	}
	if !strings.Contains(err.Error(), "lock session store") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewSessionIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
