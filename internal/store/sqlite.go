package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/paygate/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	inMemory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")

	db, err := sql.Open("sqlite3", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if inMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db, opts: newOptions(opts)}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// withPragmas enables foreign keys and a busy timeout on every pooled connection.
func withPragmas(dsn string) string {
	params := []string{"_foreign_keys=on", "_busy_timeout=5000"}
	if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
		params = append(params, "_journal_mode=WAL")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			is_paid INTEGER NOT NULL DEFAULT 0,
			payment_ref TEXT,
			job_id TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, message_id)`,
		`CREATE TABLE IF NOT EXISTS file_refs (
			ref_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			file_ref TEXT NOT NULL,
			UNIQUE (session_id, file_ref),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context) (*domain.Session, error) {
	session := &domain.Session{
		ID:        s.opts.newID(),
		Messages:  []domain.ChatMessage{},
		FileRefs:  []string{},
		CreatedAt: s.opts.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, is_paid, created_at) VALUES (?, 0, ?)`,
		session.ID, session.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	session.CreatedAt = time.UnixMilli(session.CreatedAt.UnixMilli())
	return session, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()
	return loadSession(ctx, tx, sessionID)
}

func loadSession(ctx context.Context, q queryer, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var isPaid int
	var paymentRef, jobID sql.NullString
	var createdAt int64
	err := q.QueryRowContext(ctx,
		`SELECT session_id, is_paid, payment_ref, job_id, created_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.ID, &isPaid, &paymentRef, &jobID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	session.IsPaid = isPaid == 1
	session.PaymentRef = paymentRef.String
	session.JobID = jobID.String
	session.CreatedAt = time.UnixMilli(createdAt)

	if session.Messages, err = loadMessages(ctx, q, sessionID); err != nil {
		return nil, err
	}
	if session.FileRefs, err = loadFileRefs(ctx, q, sessionID); err != nil {
		return nil, err
	}
	return &session, nil
}

func loadMessages(ctx context.Context, q queryer, sessionID string) ([]domain.ChatMessage, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY message_id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var msg domain.ChatMessage
		var ts int64
		if err := rows.Scan(&msg.Role, &msg.Content, &ts); err != nil {
			return nil, err
		}
		msg.Timestamp = time.UnixMilli(ts)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func loadFileRefs(ctx context.Context, q queryer, sessionID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT file_ref FROM file_refs WHERE session_id = ? ORDER BY ref_id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("select file refs: %w", err)
	}
	defer rows.Close()

	refs := []string{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ListSessions lists all sessions ordered by creation time.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT session_id FROM sessions ORDER BY created_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sessions := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := loadSession(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if session != nil {
			sessions = append(sessions, *session)
		}
	}
	return sessions, nil
}

// DeleteSession removes a session with its messages and file refs.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM file_refs WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return false, fmt.Errorf("delete session children: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return n > 0, nil
}

// MarkPaid marks a session as paid unless it already is.
func (s *SQLiteStore) MarkPaid(ctx context.Context, sessionID, paymentRef, jobID string) (*domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mark paid: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET is_paid = 1, payment_ref = ?, job_id = ? WHERE session_id = ? AND is_paid = 0`,
		paymentRef, jobID, sessionID); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	session, err := loadSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.SessionNotFound(sessionID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mark paid: %w", err)
	}
	return session, nil
}

// AppendMessage appends a message to the session transcript.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	msg = s.opts.stamp(msg)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at)
		 SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM sessions WHERE session_id = ?)`,
		sessionID, msg.Role, msg.Content, msg.Timestamp.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.SessionNotFound(sessionID)
	}
	return nil
}

// AppendFileRef attaches a file reference to the session.
func (s *SQLiteStore) AppendFileRef(ctx context.Context, sessionID, fileRef string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append file: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionNotFound(sessionID)
	}
	if err != nil {
		return fmt.Errorf("select session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO file_refs (session_id, file_ref) VALUES (?, ?)`,
		sessionID, fileRef); err != nil {
		return fmt.Errorf("insert file ref: %w", err)
	}
	return tx.Commit()
}

// EvictOlderThan removes expired sessions together with their messages and file refs
// in a single transaction.
func (s *SQLiteStore) EvictOlderThan(ctx context.Context, maxAge time.Duration, keep ...string) (int, error) {
	cutoff := s.opts.now().Add(-maxAge).UnixMilli()
	filter := `created_at <= ?`
	args := []any{cutoff}
	if len(keep) > 0 {
		filter += ` AND session_id NOT IN (?` + strings.Repeat(`, ?`, len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin eviction: %w", err)
	}
	defer tx.Rollback()

	children := []string{
		`DELETE FROM messages WHERE session_id IN (SELECT session_id FROM sessions WHERE ` + filter + `)`,
		`DELETE FROM file_refs WHERE session_id IN (SELECT session_id FROM sessions WHERE ` + filter + `)`,
	}
	for _, q := range children {
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("evict children: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE `+filter, args...)
	if err != nil {
		return 0, fmt.Errorf("evict sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit eviction: %w", err)
	}
	return int(n), nil
}
