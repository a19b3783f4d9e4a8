// Package database provides the session archive for sermon.
//
// It implements the Store interface using SQLite in WAL mode. A session
// row is written when the console starts and closed when it exits; every
// received and transmitted chunk is stored as a record with its arrival
// time. The DBService struct is the primary entry point for all database
// operations.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Mr-Dark-debug/sermon/pkg/jsonutil"
)

//go:embed schema.sql
var schemaFS embed.FS

// Session statuses.
const (
	StatusRunning     = "running"
	StatusClosed      = "closed"
	StatusInterrupted = "interrupted"
)

// Store defines the interface for session archive persistence.
type Store interface {
	// InsertSession persists a new session and assigns its SessionID.
	InsertSession(session *Session) error
	// EndSession records the end time and final status of a session.
	EndSession(sessionID int64, endTime int64, status string) error
	// InsertRecord persists one RX or TX chunk.
	InsertRecord(record *Record) error
	// BatchInsertRecords inserts multiple records in a single transaction.
	BatchInsertRecords(records []*Record) error

	// QuerySessions returns sessions matching the filter, newest first.
	QuerySessions(filter SessionFilter) ([]*Session, error)
	// GetSession returns one session by ID.
	GetSession(sessionID int64) (*Session, error)
	// QueryRecords returns the records of a session in arrival order.
	QueryRecords(filter RecordFilter) ([]*Record, error)
	// SearchRecords returns records whose bytes contain needle.
	SearchRecords(sessionID int64, needle []byte, limit int) ([]*Record, error)
	// GetSessionStats returns aggregated statistics for a session.
	GetSessionStats(sessionID int64) (*SessionStats, error)

	// RecoverInterrupted marks sessions left running by a crashed
	// process as interrupted and returns how many were found.
	RecoverInterrupted() (int64, error)

	// Close gracefully shuts down the database connection.
	Close() error
}

// ============================================================
// Domain Models
// ============================================================

// Session is one run of the console against one port.
type Session struct {
	SessionID  int64             `json:"session_id"`
	Port       string            `json:"port"`
	Baud       int               `json:"baud"`
	Format     string            `json:"format"`
	LineEnding string            `json:"line_ending"`
	Mode       string            `json:"mode"`
	StartTime  int64             `json:"start_time"`
	EndTime    *int64            `json:"end_time,omitempty"`
	Status     string            `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Record is one chunk of bytes received from or sent to the device.
type Record struct {
	RecordID  int64  `json:"record_id"`
	SessionID int64  `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
	Direction string `json:"direction"` // "RX" or "TX"
	Data      []byte `json:"data"`
}

// SessionFilter defines query parameters for session listing.
type SessionFilter struct {
	Port   *string `json:"port,omitempty"`
	Status *string `json:"status,omitempty"`
	Since  *int64  `json:"since,omitempty"` // Unix nanoseconds
	Until  *int64  `json:"until,omitempty"` // Unix nanoseconds
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// RecordFilter defines query parameters for record listing.
type RecordFilter struct {
	SessionID int64   `json:"session_id"`
	Direction *string `json:"direction,omitempty"`
	Since     *int64  `json:"since,omitempty"`
	Until     *int64  `json:"until,omitempty"`
	Limit     int     `json:"limit"` // 0 returns every record
	Offset    int     `json:"offset"`
}

// SessionStats holds aggregated statistics for a single session.
type SessionStats struct {
	SessionID  int64  `json:"session_id"`
	RxChunks   int    `json:"rx_chunks"`
	TxChunks   int    `json:"tx_chunks"`
	RxBytes    int64  `json:"rx_bytes"`
	TxBytes    int64  `json:"tx_bytes"`
	FirstAt    *int64 `json:"first_at,omitempty"`
	LastAt     *int64 `json:"last_at,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ============================================================
// DBService Implementation
// ============================================================

// DBService implements the Store interface using SQLite.
// It manages the database connection pool, prepared statements,
// and ensures thread-safe access through a read-write mutex.
type DBService struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	// Prepared statements for hot-path operations
	stmtInsertSession *sql.Stmt
	stmtEndSession    *sql.Stmt
	stmtInsertRecord  *sql.Stmt
}

// NewDBService creates a new database service, initializes the schema,
// and prepares frequently-used statements.
//
// Use ":memory:" for in-memory databases (useful for testing).
func NewDBService(path string) (*DBService, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	svc := &DBService{
		db:   db,
		path: path,
	}

	if err := svc.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	if err := svc.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing statements: %w", err)
	}

	return svc, nil
}

// Path returns the database location passed to NewDBService.
func (s *DBService) Path() string { return s.path }

func (s *DBService) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading embedded schema: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

func (s *DBService) prepareStatements() error {
	var err error

	s.stmtInsertSession, err = s.db.Prepare(`
		INSERT INTO sessions (port, baud, format, line_ending, mode, start_time, end_time, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertSession: %w", err)
	}

	s.stmtEndSession, err = s.db.Prepare(`
		UPDATE sessions SET end_time = ?, status = ? WHERE session_id = ?
	`)
	if err != nil {
		return fmt.Errorf("preparing EndSession: %w", err)
	}

	s.stmtInsertRecord, err = s.db.Prepare(`
		INSERT INTO records (session_id, timestamp, direction, data, size)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertRecord: %w", err)
	}

	return nil
}

// InsertSession persists a new session. A blank status is stored as
// running.
func (s *DBService) InsertSession(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.Status == "" {
		session.Status = StatusRunning
	}

	metadataJSON, err := jsonutil.EncodeStringMap(session.Metadata)
	if err != nil {
		return fmt.Errorf("session metadata: %w", err)
	}

	result, err := s.stmtInsertSession.Exec(
		session.Port, session.Baud, session.Format, session.LineEnding,
		session.Mode, session.StartTime, session.EndTime, session.Status, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting session for %s: %w", session.Port, err)
	}
	session.SessionID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading session id: %w", err)
	}
	return nil
}

// EndSession records the end time and final status of a session.
func (s *DBService) EndSession(sessionID int64, endTime int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.stmtEndSession.Exec(endTime, status, sessionID)
	if err != nil {
		return fmt.Errorf("ending session %d: %w", sessionID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("ending session %d: %w", sessionID, sql.ErrNoRows)
	}
	return nil
}

// InsertRecord persists one chunk.
func (s *DBService) InsertRecord(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.stmtInsertRecord.Exec(
		record.SessionID, record.Timestamp, record.Direction, record.Data, len(record.Data),
	)
	if err != nil {
		return fmt.Errorf("inserting record for session %d: %w", record.SessionID, err)
	}
	record.RecordID, _ = result.LastInsertId()
	return nil
}

// BatchInsertRecords inserts multiple records within a single transaction
// for improved throughput when the archive sink flushes.
func (s *DBService) BatchInsertRecords(records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch record transaction: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt := tx.Stmt(s.stmtInsertRecord)
	for _, r := range records {
		result, err := stmt.Exec(r.SessionID, r.Timestamp, r.Direction, r.Data, len(r.Data))
		if err != nil {
			return fmt.Errorf("batch inserting record for session %d: %w", r.SessionID, err)
		}
		r.RecordID, _ = result.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch record transaction: %w", err)
	}
	return nil
}

// QuerySessions returns sessions matching the given filter criteria.
// Results are ordered by start_time descending (most recent first).
func (s *DBService) QuerySessions(filter SessionFilter) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT session_id, port, baud, format, line_ending, mode, start_time, end_time, status, metadata
		FROM sessions WHERE 1=1`
	args := make([]interface{}, 0)

	if filter.Port != nil {
		query += ` AND port = ?`
		args = append(args, *filter.Port)
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	if filter.Since != nil {
		query += ` AND start_time >= ?`
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += ` AND start_time <= ?`
		args = append(args, *filter.Until)
	}

	query += ` ORDER BY start_time DESC, session_id DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else {
		query += ` LIMIT 100`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSession returns one session, or an error wrapping sql.ErrNoRows.
func (s *DBService) GetSession(sessionID int64) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT session_id, port, baud, format, line_ending, mode, start_time, end_time, status, metadata
		FROM sessions WHERE session_id = ?
	`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("getting session %d: %w", sessionID, err)
	}
	return sess, nil
}

// QueryRecords returns the records of one session in arrival order.
func (s *DBService) QueryRecords(filter RecordFilter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT record_id, session_id, timestamp, direction, data FROM records WHERE session_id = ?`
	args := []interface{}{filter.SessionID}

	if filter.Direction != nil {
		query += ` AND direction = ?`
		args = append(args, *filter.Direction)
	}
	if filter.Since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += ` AND timestamp <= ?`
		args = append(args, *filter.Until)
	}

	query += ` ORDER BY timestamp ASC, record_id ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records for session %d: %w", filter.SessionID, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// SearchRecords returns records containing needle as a byte substring,
// across every session when sessionID is 0.
func (s *DBService) SearchRecords(sessionID int64, needle []byte, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT record_id, session_id, timestamp, direction, data FROM records
		WHERE instr(data, ?) > 0`
	args := []interface{}{needle}
	if sessionID != 0 {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY timestamp DESC, record_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching records for %q: %w", needle, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetSessionStats returns aggregated byte and chunk counts for a session.
func (s *DBService) GetSessionStats(sessionID int64) (*SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &SessionStats{SessionID: sessionID}

	err := s.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'RX' THEN 1 ELSE 0 END), 0) as rx_chunks,
			COALESCE(SUM(CASE WHEN direction = 'TX' THEN 1 ELSE 0 END), 0) as tx_chunks,
			COALESCE(SUM(CASE WHEN direction = 'RX' THEN size ELSE 0 END), 0) as rx_bytes,
			COALESCE(SUM(CASE WHEN direction = 'TX' THEN size ELSE 0 END), 0) as tx_bytes,
			MIN(timestamp) as first_at,
			MAX(timestamp) as last_at
		FROM records
		WHERE session_id = ?
	`, sessionID).Scan(
		&stats.RxChunks, &stats.TxChunks, &stats.RxBytes, &stats.TxBytes,
		&stats.FirstAt, &stats.LastAt,
	)
	if err != nil {
		return nil, fmt.Errorf("querying session stats for %d: %w", sessionID, err)
	}
	if stats.FirstAt != nil && stats.LastAt != nil {
		stats.DurationMs = (*stats.LastAt - *stats.FirstAt) / 1e6
	}

	return stats, nil
}

// RecoverInterrupted closes sessions that a previous process left in the
// running state, using their last record time as the end time.
func (s *DBService) RecoverInterrupted() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE sessions SET
			status = ?,
			end_time = COALESCE(
				(SELECT MAX(timestamp) FROM records r WHERE r.session_id = sessions.session_id),
				start_time)
		WHERE status = ? AND end_time IS NULL
	`, StatusInterrupted, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recovering interrupted sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close gracefully shuts down the database, closing all prepared statements
// and the underlying connection pool.
func (s *DBService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmts := []*sql.Stmt{s.stmtInsertSession, s.stmtEndSession, s.stmtInsertRecord}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}

	return s.db.Close()
}

// ============================================================
// Scan Helpers
// ============================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var metadataStr *string
	if err := row.Scan(
		&sess.SessionID, &sess.Port, &sess.Baud, &sess.Format, &sess.LineEnding,
		&sess.Mode, &sess.StartTime, &sess.EndTime, &sess.Status, &metadataStr,
	); err != nil {
		return nil, fmt.Errorf("scanning session row: %w", err)
	}
	if metadataStr != nil {
		// Non-fatal: metadata is supplementary
		sess.Metadata = jsonutil.DecodeStringMap(*metadataStr)
	}
	return sess, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(&r.RecordID, &r.SessionID, &r.Timestamp, &r.Direction, &r.Data); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
