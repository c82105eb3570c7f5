package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/snapguard/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// StorageKey is the store-wide key holding the serialized record set.
const StorageKey = "snapguard_data"

// Schema version tracking:
// 1 - Initial schema (kv table)
const currentSchemaVersion = 1

// Store keeps the whole record set as one JSON blob in SQLite.
//
// Every read decodes the full set; every update rewrites it. The set lives
// under the single key snapguard_data (see RawSnapshot). Updates hold
// mu for the whole read-modify-write cycle and run in an IMMEDIATE
// transaction, so concurrent callers cannot lose updates.
type Store struct {
	*broadcaster

	db *sql.DB
	mu sync.Mutex
}

var _ RecordStore = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - IMMEDIATE transactions so the write lock is taken at BEGIN
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", withDSNParam(path, "_txlock=immediate"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{broadcaster: newBroadcaster(), db: db}, nil
}

// Close closes the database connection and all subscriptions.
func (s *Store) Close() error {
	s.closeAll()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ListAll returns every record in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]ir.ImageRecord, error) {
	records, err := readSet(ctx, s.db)
	if err != nil {
		return nil, ioError("list", "", err)
	}
	return records, nil
}

// Get returns a copy of the record for id.
func (s *Store) Get(ctx context.Context, id string) (ir.ImageRecord, bool, error) {
	records, err := readSet(ctx, s.db)
	if err != nil {
		return ir.ImageRecord{}, false, ioError("get", id, err)
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return ir.ImageRecord{}, false, nil
	}
	return records[idx], true, nil
}

// Create appends a new record to the set.
func (s *Store) Create(ctx context.Context, rec ir.ImageRecord) error {
	rec, err := prepareCreate(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		records, err := readSet(ctx, tx)
		if err != nil {
			return ioError("create", rec.ID, err)
		}
		if indexOf(records, rec.ID) >= 0 {
			return duplicateError(rec.ID)
		}
		records = append(records, rec)
		if err := writeSet(ctx, tx, records); err != nil {
			return ioError("create", rec.ID, err)
		}
		return nil
	})
	if err != nil {
		return asStoreError("create", rec.ID, err)
	}

	s.publish(ir.EventFor(ir.RecordCreated, rec))
	return nil
}

// Update runs the read-modify-write cycle for one record.
func (s *Store) Update(ctx context.Context, id string, mutate func(*ir.ImageRecord)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		updated ir.ImageRecord
		found   bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		records, err := readSet(ctx, tx)
		if err != nil {
			return ioError("update", id, err)
		}
		idx := indexOf(records, id)
		if idx < 0 {
			return nil
		}
		next, err := applyMutation(records[idx], mutate)
		if err != nil {
			return invalidError("update", id, err)
		}
		records[idx] = next
		if err := writeSet(ctx, tx, records); err != nil {
			return ioError("update", id, err)
		}
		updated, found = next, true
		return nil
	})
	if err != nil {
		return false, asStoreError("update", id, err)
	}

	if found {
		s.publish(ir.EventFor(ir.RecordUpdated, updated))
	}
	return found, nil
}

// AppendLog appends an access entry to the record.
func (s *Store) AppendLog(ctx context.Context, id string, entry ir.AccessLogEntry) (bool, error) {
	return s.Update(ctx, id, appendMutation(entry))
}

// RawSnapshot returns the serialized record set exactly as persisted, with
// the wire field names.
func (s *Store) RawSnapshot(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, StorageKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return []byte("[]"), nil
	}
	if err != nil {
		return nil, ioError("snapshot", "", err)
	}
	return data, nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readSet(ctx context.Context, q queryer) ([]ir.ImageRecord, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, StorageKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return []ir.ImageRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", StorageKey, err)
	}
	return decodeRecordSet(data)
}

func writeSet(ctx context.Context, tx *sql.Tx, records []ir.ImageRecord) error {
	data, err := encodeRecordSet(records)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, StorageKey, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s: %w", StorageKey, err)
	}
	return nil
}

// asStoreError keeps *Error values intact and classifies anything else
// (begin/commit failures) as an IO error.
func asStoreError(op, id string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return ioError(op, id, err)
}

// withDSNParam appends a query parameter to a sqlite3 DSN.
func withDSNParam(path, param string) string {
	if strings.Contains(path, "?") {
		return path + "&" + param
	}
	return path + "?" + param
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	// Set version after all migrations
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
