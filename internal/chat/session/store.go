package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	cerr "github.com/metavault/custodian/internal/errors"
)

// Message is one turn of a conversation, user or assistant.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is a conversation bound to one wallet. History order is append
// order.
type Session struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// Store persists sessions in sqlite, guarded by a file lock so concurrent
// processes do not interleave writes.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create session lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			wallet TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);`,
		"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init session schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "sess-unknown"
	}
	return fmt.Sprintf("sess_%s", hex.EncodeToString(b))
}

// GetOrCreate returns the session for id, creating it bound to wallet if it
// does not exist. An existing session keeps its original wallet binding.
func (s *Store) GetOrCreate(id, wallet string) (Session, error) {
	if id == "" {
		return Session{}, cerr.New(cerr.CodeValidation, "session id is required")
	}
	if err := s.withLock(func() error {
		_, err := s.db.Exec(`
			INSERT INTO sessions (session_id, wallet, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(session_id) DO NOTHING
		`, id, wallet, time.Now().UTC().Unix())
		return err
	}); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return s.Get(id)
}

// Count returns the number of sessions in the store.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Get returns the session and its full history, oldest first.
func (s *Store) Get(id string) (Session, error) {
	var (
		sess        Session
		createdUnix int64
	)
	err := s.db.QueryRow(
		"SELECT session_id, wallet, created_at FROM sessions WHERE session_id = ?", id,
	).Scan(&sess.ID, &sess.Wallet, &createdUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return Session{}, cerr.New(cerr.CodeNotFound, fmt.Sprintf("session not found: %s", id))
		}
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	sess.CreatedAt = time.Unix(createdUnix, 0).UTC()

	rows, err := s.db.Query(
		"SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC", id,
	)
	if err != nil {
		return Session{}, fmt.Errorf("read session history: %w", err)
	}
	defer rows.Close()

	sess.Messages = make([]Message, 0)
	for rows.Next() {
		var (
			m      Message
			atUnix int64
		)
		if err := rows.Scan(&m.Role, &m.Content, &atUnix); err != nil {
			return Session{}, fmt.Errorf("scan message row: %w", err)
		}
		m.At = time.Unix(atUnix, 0).UTC()
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return Session{}, fmt.Errorf("iterate message rows: %w", err)
	}
	return sess, nil
}

// Append records one message at the end of the session's history.
func (s *Store) Append(id, role, content string) error {
	if id == "" {
		return cerr.New(cerr.CodeValidation, "session id is required")
	}
	return s.withLock(func() error {
		res, err := s.db.Exec(`
			INSERT INTO messages (session_id, role, content, created_at)
			SELECT session_id, ?, ?, ? FROM sessions WHERE session_id = ?
		`, role, content, time.Now().UTC().Unix(), id)
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		if n == 0 {
			return cerr.New(cerr.CodeNotFound, fmt.Sprintf("session not found: %s", id))
		}
		return nil
	})
}

// Reset clears the session's history. A session that does not exist yet is
// created empty, so resetting an unknown id yields a usable blank session.
func (s *Store) Reset(id, wallet string) (Session, error) {
	if id == "" {
		return Session{}, cerr.New(cerr.CodeValidation, "session id is required")
	}
	if err := s.withLock(func() error {
		if _, err := s.db.Exec(`
			INSERT INTO sessions (session_id, wallet, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(session_id) DO NOTHING
		`, id, wallet, time.Now().UTC().Unix()); err != nil {
			return err
		}
		_, err := s.db.Exec("DELETE FROM messages WHERE session_id = ?", id)
		return err
	}); err != nil {
		return Session{}, fmt.Errorf("reset session: %w", err)
	}
	return s.Get(id)
}

// lockTimeout bounds how long a write waits on a contended store lock.
var lockTimeout = 5 * time.Second

func (s *Store) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock session store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock session store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}
