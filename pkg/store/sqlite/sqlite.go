// Package sqlite provides the SQLite implementation of store.Store.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Zerofisher/hcisnoop/pkg/model"
	"github.com/Zerofisher/hcisnoop/pkg/store"
)

// SQLite schema version for migrations.
const schemaVersion = store.SchemaVersion

// Config holds configuration for the SQLite store.
type Config struct {
	// Path to the SQLite database file.
	// If empty, defaults to <capture>.idx.db
	DBPath string

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// WAL enables WAL mode for better concurrency.
	WAL bool
}

// SQLiteStore is the SQLite implementation of store.Store.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config

	// Write transaction state
	mu    sync.Mutex
	tx    *sql.Tx
	stmts map[string]*sql.Stmt // Prepared statements within tx
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store.
func New(cfg Config) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Build DSN
	dsn := cfg.DBPath
	params := "?_foreign_keys=on"
	if cfg.ReadOnly {
		params += "&mode=ro"
	}
	if cfg.WAL {
		params += "&_journal_mode=WAL"
	}
	dsn += params

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:    db,
		path:  cfg.DBPath,
		cfg:   cfg,
		stmts: make(map[string]*sql.Stmt),
	}

	if !cfg.ReadOnly {
		if err := s.initSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return s, nil
}

// NewFromCapture creates a store with the standard naming convention.
func NewFromCapture(capturePath string, readOnly bool) (*SQLiteStore, error) {
	return New(Config{
		DBPath:   IndexPath(capturePath),
		ReadOnly: readOnly,
	})
}

// IndexPath returns the index database path for a capture file.
func IndexPath(capturePath string) string {
	return capturePath + ".idx.db"
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema Initialization
// ────────────────────────────────────────────────────────────────────────────────

func (s *SQLiteStore) initSchema() error {
	schema := `
-- Meta table for index metadata
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

-- Packets table (summaries only, raw bytes live in the capture file)
CREATE TABLE IF NOT EXISTS packets (
	number       INTEGER PRIMARY KEY,
	position     INTEGER NOT NULL,
	offset       INTEGER NOT NULL,
	tag          INTEGER NOT NULL,
	type         TEXT NOT NULL,
	length       INTEGER NOT NULL,
	payload_len  INTEGER NOT NULL,
	handle       INTEGER,
	event_code   INTEGER,
	info         TEXT
);

CREATE INDEX IF NOT EXISTS idx_packets_type ON packets(type);
CREATE INDEX IF NOT EXISTS idx_packets_handle ON packets(handle);
CREATE INDEX IF NOT EXISTS idx_packets_event ON packets(event_code);
`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		"schema_version", strconv.Itoa(schemaVersion))
	return err
}

// ────────────────────────────────────────────────────────────────────────────────
// Metadata Operations
// ────────────────────────────────────────────────────────────────────────────────

// GetMeta retrieves the index metadata.
func (s *SQLiteStore) GetMeta() (*model.IndexMeta, error) {
	meta := &model.IndexMeta{}

	rows, err := s.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case "schema_version":
			meta.SchemaVersion, _ = strconv.Atoi(value)
		case "run_id":
			meta.RunID = value
		case "capture_path":
			meta.CapturePath = value
		case "buffer":
			meta.Buffer = value
		case "mode":
			meta.Mode = value
		case "base":
			meta.Base, _ = strconv.ParseUint(value, 10, 64)
		case "capacity":
			meta.Capacity, _ = strconv.ParseUint(value, 10, 64)
		case "head":
			meta.Head, _ = strconv.ParseUint(value, 10, 64)
		case "tail":
			meta.Tail, _ = strconv.ParseUint(value, 10, 64)
		case "extracted_at":
			meta.ExtractedAt, _ = time.Parse(time.RFC3339Nano, value)
		case "total_packets":
			meta.TotalPackets, _ = strconv.Atoi(value)
		case "total_bytes":
			meta.TotalBytes, _ = strconv.ParseInt(value, 10, 64)
		case "skipped_bytes":
			meta.SkippedBytes, _ = strconv.Atoi(value)
		case "truncated":
			meta.Truncated, _ = strconv.Atoi(value)
		case "index_complete":
			meta.IndexComplete = value == "true"
		}
	}

	return meta, rows.Err()
}

// SetMeta stores the index metadata.
func (s *SQLiteStore) SetMeta(meta *model.IndexMeta) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	pairs := []struct{ k, v string }{
		{"schema_version", strconv.Itoa(meta.SchemaVersion)},
		{"run_id", meta.RunID},
		{"capture_path", meta.CapturePath},
		{"buffer", meta.Buffer},
		{"mode", meta.Mode},
		{"base", strconv.FormatUint(meta.Base, 10)},
		{"capacity", strconv.FormatUint(meta.Capacity, 10)},
		{"head", strconv.FormatUint(meta.Head, 10)},
		{"tail", strconv.FormatUint(meta.Tail, 10)},
		{"extracted_at", meta.ExtractedAt.Format(time.RFC3339Nano)},
		{"total_packets", strconv.Itoa(meta.TotalPackets)},
		{"total_bytes", strconv.FormatInt(meta.TotalBytes, 10)},
		{"skipped_bytes", strconv.Itoa(meta.SkippedBytes)},
		{"truncated", strconv.Itoa(meta.Truncated)},
		{"index_complete", strconv.FormatBool(meta.IndexComplete)},
	}

	for _, p := range pairs {
		if _, err := stmt.Exec(p.k, p.v); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ────────────────────────────────────────────────────────────────────────────────
// Batch Write Operations
// ────────────────────────────────────────────────────────────────────────────────

// BeginBatch starts a batch write transaction.
func (s *SQLiteStore) BeginBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return fmt.Errorf("batch already in progress")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	s.tx = tx
	s.stmts = make(map[string]*sql.Stmt)
	return nil
}

// CommitBatch commits the current batch.
func (s *SQLiteStore) CommitBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = nil

	err := s.tx.Commit()
	s.tx = nil
	return err
}

// RollbackBatch rolls back the current batch.
func (s *SQLiteStore) RollbackBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}

	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = nil

	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (s *SQLiteStore) getStmt(name, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmts[name]; ok {
		return stmt, nil
	}

	stmt, err := s.tx.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[name] = stmt
	return stmt, nil
}

// InsertPacket inserts a single packet summary.
func (s *SQLiteStore) InsertPacket(p *model.PacketSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	const query = `INSERT INTO packets (
		number, position, offset, tag, type, length, payload_len, handle, event_code, info
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_packet", query)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(
		p.Number, int64(p.Position), int64(p.Offset), p.Tag, p.Type,
		p.Length, p.PayloadLen, nullInt(p.Handle), nullInt(p.EventCode), p.Info,
	)
	return err
}

// InsertPackets inserts multiple packet summaries.
func (s *SQLiteStore) InsertPackets(packets []*model.PacketSummary) error {
	for _, p := range packets {
		if err := s.InsertPacket(p); err != nil {
			return err
		}
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Queries
// ────────────────────────────────────────────────────────────────────────────────

// Packets returns packet summaries in record order.
func (s *SQLiteStore) Packets(f store.PacketFilter) ([]*model.PacketSummary, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Handle != nil {
		where = append(where, "handle = ?")
		args = append(args, *f.Handle)
	}

	query := `SELECT number, position, offset, tag, type, length, payload_len, handle, event_code, info FROM packets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY number"
	if f.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query packets: %w", err)
	}
	defer rows.Close()

	var out []*model.PacketSummary
	for rows.Next() {
		var (
			p               model.PacketSummary
			pos, off        int64
			handle, evtCode sql.NullInt64
			info            sql.NullString
		)
		if err := rows.Scan(&p.Number, &pos, &off, &p.Tag, &p.Type, &p.Length, &p.PayloadLen, &handle, &evtCode, &info); err != nil {
			return nil, err
		}
		p.Position = uint64(pos)
		p.Offset = uint64(off)
		p.Info = info.String
		if handle.Valid {
			v := int(handle.Int64)
			p.Handle = &v
		}
		if evtCode.Valid {
			v := int(evtCode.Int64)
			p.EventCode = &v
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
