// file: internal/audit/sqlite_store.go
// version: 1.1.0
// guid: 3a4b5c6d-7e8f-9a0b-1c2d-3e4f5a6b7c8d

package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements the Store interface using SQLite3.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite audit store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		sfd_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'info',
		status TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		target_resource TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_audit_sfd ON audit_records(sfd_id);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_records(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append persists one record.
func (s *SQLiteStore) Append(rec Record) error {
	rec.Normalize()
	details := "{}"
	if rec.Details != nil {
		b, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
		details = string(b)
	}
	_, err := s.db.Exec(`
		INSERT INTO audit_records
			(id, timestamp, user_id, sfd_id, action, category, severity, status, error_message, target_resource, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.UserID, rec.SfdID,
		rec.Action, rec.Category, rec.Severity, rec.Status,
		rec.ErrorMessage, rec.TargetResource, details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// filterConds translates a Filter into WHERE conditions. Shared by List and
// Count so the two always agree on what "matching" means.
func filterConds(filter Filter) ([]string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.SfdID != "" {
		conds = append(conds, "sfd_id = ?")
		args = append(args, filter.SfdID)
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	return conds, args
}

// List returns records matching the filter, newest first.
func (s *SQLiteStore) List(filter Filter) ([]Record, error) {
	conds, args := filterConds(filter)

	query := `SELECT id, timestamp, user_id, sfd_id, action, category, severity, status, error_message, target_resource, details
		FROM audit_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts, details string
		if err := rows.Scan(&rec.ID, &ts, &rec.UserID, &rec.SfdID, &rec.Action,
			&rec.Category, &rec.Severity, &rec.Status, &rec.ErrorMessage,
			&rec.TargetResource, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = parsed
		}
		if details != "" && details != "{}" {
			_ = json.Unmarshal([]byte(details), &rec.Details)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns how many stored records match the filter.
func (s *SQLiteStore) Count(filter Filter) (int, error) {
	conds, args := filterConds(filter)
	query := "SELECT COUNT(*) FROM audit_records"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return n, nil
}

// Purge deletes records older than the cutoff.
func (s *SQLiteStore) Purge(olderThan time.Time) (int, error) {
	res, err := s.db.Exec("DELETE FROM audit_records WHERE timestamp < ?",
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
