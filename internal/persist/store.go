package persist

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kayz/thespian/internal/logger"
	"github.com/kayz/thespian/internal/narrative"
)

// ErrSessionNotFound is returned when no session has the requested id.
var ErrSessionNotFound = errors.New("session not found")

// Store handles persistence of exploration sessions and their collapse
// history using SQLite
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new SQLite-backed persistence store at the given path
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}

	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Debug("[Persist] Opened session store %s", path)
	return s, nil
}

// init creates the necessary tables if they don't exist
func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			title            TEXT NOT NULL DEFAULT '',
			mode             TEXT NOT NULL DEFAULT '',
			active_count     INTEGER NOT NULL DEFAULT 0,
			pruned_count     INTEGER NOT NULL DEFAULT 0,
			collapse_count   INTEGER NOT NULL DEFAULT 0,
			snapshot         TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS collapses (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id   TEXT NOT NULL,
			seq          INTEGER NOT NULL,
			selected_id  TEXT NOT NULL,
			probability  REAL NOT NULL,
			trigger_json TEXT,
			alternatives TEXT,
			created_at   TEXT NOT NULL,
			UNIQUE(session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
		CREATE INDEX IF NOT EXISTS idx_collapses_session ON collapses(session_id);
	`)
	return err
}

// SaveSession inserts or replaces a session and rewrites its collapse
// history from the tree snapshot. An empty ID is assigned a new one.
func (s *Store) SaveSession(session *Session) error {
	if session == nil || session.Tree == nil {
		return fmt.Errorf("session has no tree")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tree := session.Tree
	_, err = tx.Exec(`
		INSERT INTO sessions (id, title, mode, active_count, pruned_count, collapse_count, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			mode = excluded.mode,
			active_count = excluded.active_count,
			pruned_count = excluded.pruned_count,
			collapse_count = excluded.collapse_count,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, session.ID, session.Title, session.Mode, len(tree.Active), len(tree.Pruned), len(tree.History),
		toJSON(tree), session.CreatedAt.Format(time.RFC3339), session.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM collapses WHERE session_id = ?`, session.ID); err != nil {
		return fmt.Errorf("failed to clear collapses of %s: %w", session.ID, err)
	}
	for i, rec := range tree.History {
		_, err := tx.Exec(`
			INSERT INTO collapses (session_id, seq, selected_id, probability, trigger_json, alternatives, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, session.ID, i, rec.SelectedID, rec.Probability, toJSON(rec.Trigger), toJSON(rec.Alternatives), rec.Timestamp.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to save collapse %d of %s: %w", i, session.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", session.ID, err)
	}
	logger.Debug("[Persist] Saved session %s (%d active, %d collapses)", session.ID, len(tree.Active), len(tree.History))
	return nil
}

// LoadSession returns the stored session, or ErrSessionNotFound.
func (s *Store) LoadSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, title, mode, snapshot, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, id)

	var session Session
	var snapshot, createdAt, updatedAt string
	err := row.Scan(&session.ID, &session.Title, &session.Mode, &snapshot, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var tree narrative.TreeSnapshot
	if err := fromJSON(snapshot, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	session.Tree = &tree
	session.CreatedAt = parseTime(createdAt)
	session.UpdatedAt = parseTime(updatedAt)
	return &session, nil
}

// ListSessions returns the most recently updated sessions first. limit <= 0
// returns all of them.
func (s *Store) ListSessions(limit int) ([]*SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, title, mode, active_count, pruned_count, collapse_count, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionInfo
	for rows.Next() {
		info, err := scanSessionInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

func scanSessionInfo(sc scanner) (*SessionInfo, error) {
	var info SessionInfo
	var createdAt, updatedAt string
	if err := sc.Scan(&info.ID, &info.Title, &info.Mode, &info.ActiveBranches, &info.PrunedBranches, &info.Collapses, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	info.CreatedAt = parseTime(createdAt)
	info.UpdatedAt = parseTime(updatedAt)
	return &info, nil
}

// ListCollapses returns the collapse history of a session in decision order.
func (s *Store) ListCollapses(sessionID string) ([]*CollapseEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT session_id, seq, selected_id, probability, trigger_json, alternatives, created_at
		FROM collapses
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collapses of %s: %w", sessionID, err)
	}
	defer rows.Close()

	var entries []*CollapseEntry
	for rows.Next() {
		var e CollapseEntry
		var trigger, alternatives sql.NullString
		var createdAt string
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.SelectedID, &e.Probability, &trigger, &alternatives, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan collapse: %w", err)
		}
		if trigger.Valid {
			var t narrative.CollapseTrigger
			if trigger.String != "null" && fromJSON(trigger.String, &t) == nil {
				e.Trigger = &t
			}
		}
		if alternatives.Valid {
			_ = fromJSON(alternatives.String, &e.Alternatives)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteSession removes a session and its collapse history.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM collapses WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete collapses of %s: %w", id, err)
	}
	result, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return tx.Commit()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
