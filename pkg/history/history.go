// Package history persists finalized threads and messages to a local SQLite
// database so a restarted client can show something before the first REST
// round-trip. Writes are best-effort; a failed write is logged and the
// session carries on.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/strandtui/strand/pkg/observability"
	"github.com/strandtui/strand/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	preview    TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER NOT NULL,
	thread_id  TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (thread_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
`

// DB wraps the history database.
type DB struct {
	db  *sql.DB
	log *observability.Logger
}

// Open opens (and migrates) the history database at path, creating parent
// directories as needed.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &DB{db: db, log: observability.NewLogger("history")}, nil
}

// Close releases the database handle.
func (h *DB) Close() error {
	return h.db.Close()
}

// SaveThread upserts one thread's metadata.
func (h *DB) SaveThread(thread store.Thread) {
	_, err := h.db.Exec(`
		INSERT INTO threads (id, title, preview, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			preview = excluded.preview,
			updated_at = excluded.updated_at`,
		thread.ID, thread.Title, thread.Preview, thread.UpdatedAt.Unix())
	if err != nil {
		h.log.Warn("thread write failed", "thread_id", thread.ID, "error", err)
	}
}

// SaveMessage upserts one finalized message. Streaming placeholders are
// skipped; they are not durable state yet.
func (h *DB) SaveMessage(msg store.Message) {
	if msg.Streaming || msg.ID <= 0 {
		return
	}
	_, err := h.db.Exec(`
		INSERT INTO messages (id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, id) DO UPDATE SET
			content = excluded.content`,
		msg.ID, msg.ThreadID, string(msg.Role), msg.Content, msg.CreatedAt.Unix())
	if err != nil {
		h.log.Warn("message write failed", "thread_id", msg.ThreadID, "message_id", msg.ID, "error", err)
	}
}

// RenameThread rewrites a thread's id in place, keeping its messages. Used
// when a pending thread is adopted under the backend's canonical id.
func (h *DB) RenameThread(oldID, newID string) {
	tx, err := h.db.Begin()
	if err != nil {
		h.log.Warn("rename begin failed", "error", err)
		return
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE OR REPLACE threads SET id = ? WHERE id = ?`, newID, oldID); err != nil {
		h.log.Warn("thread rename failed", "thread_id", oldID, "error", err)
		return
	}
	if _, err := tx.Exec(`UPDATE OR REPLACE messages SET thread_id = ? WHERE thread_id = ?`, newID, oldID); err != nil {
		h.log.Warn("message rename failed", "thread_id", oldID, "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		h.log.Warn("rename commit failed", "error", err)
	}
}

// LoadThreads returns all saved threads, most recently updated first.
func (h *DB) LoadThreads() ([]store.Thread, error) {
	rows, err := h.db.Query(`SELECT id, title, preview, updated_at FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("history: load threads: %w", err)
	}
	defer rows.Close()

	var threads []store.Thread
	for rows.Next() {
		var t store.Thread
		var updated int64
		if err := rows.Scan(&t.ID, &t.Title, &t.Preview, &updated); err != nil {
			return nil, fmt.Errorf("history: scan thread: %w", err)
		}
		t.UpdatedAt = time.Unix(updated, 0).UTC()
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// LoadMessages returns one thread's saved messages, oldest first.
func (h *DB) LoadMessages(threadID string) ([]store.Message, error) {
	rows, err := h.db.Query(`
		SELECT id, thread_id, role, content, created_at
		FROM messages WHERE thread_id = ? ORDER BY id ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("history: load messages: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		var role string
		var created int64
		if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("history: scan message: %w", err)
		}
		m.Role = store.Role(role)
		m.CreatedAt = time.Unix(created, 0).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Seed loads everything from disk into the store. Missing history is not an
// error.
func (h *DB) Seed(st *store.Store) error {
	threads, err := h.LoadThreads()
	if err != nil {
		return err
	}
	for i := len(threads) - 1; i >= 0; i-- {
		st.UpsertThread(threads[i])
		msgs, err := h.LoadMessages(threads[i].ID)
		if err != nil {
			return err
		}
		st.SetMessages(threads[i].ID, msgs)
	}
	return nil
}
