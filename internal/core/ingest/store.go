// Package ingest persists scraped records into the relational store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"maintscraper/internal/config"
	"maintscraper/internal/core/record"
	"maintscraper/internal/logger"
)

const (
	maxOpenConns    = 4
	maxIdleConns    = 2
	connMaxLifetime = 5 * time.Minute
	pingTimeout     = 5 * time.Second

	pgUniqueViolation = "23505"
)

var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrStoreWrite   = errors.New("store write failed")
)

// Status is the result class of one insert.
type Status int

const (
	Inserted Status = iota
	SkippedDuplicate
	Failed
)

func (s Status) String() string {
	switch s {
	case Inserted:
		return "inserted"
	case SkippedDuplicate:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is what happened to one record.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

// Trail renders the outcome the way it appears in the per-item log.
func (o Outcome) Trail() string {
	switch o.Status {
	case Inserted:
		return "inserted"
	case SkippedDuplicate:
		return "skipped - duplicate"
	default:
		return "failed - " + o.Reason
	}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg config.Database) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %s@%s/%s: %w", cfg.User, cfg.Host, cfg.Name, err)
	}
	return db, nil
}

// Store inserts records, one transaction each. It is owned by a single
// worker and never shared across processes.
type Store struct {
	db  *sqlx.DB
	log *logger.Logger
}

// New wraps db and creates the item tables when they are absent.
func New(ctx context.Context, db *sqlx.DB, log *logger.Logger) (*Store, error) {
	s := &Store{db: db, log: log.Named("IngestStore")}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates both tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, schema := range record.Schemas() {
		if _, err := s.db.ExecContext(ctx, schema.CreateTableSQL()); err != nil {
			return fmt.Errorf("create table %s: %w", schema.Table, err)
		}
	}
	return nil
}

// Exists reports whether a row with the given key is already stored.
func (s *Store) Exists(ctx context.Context, kind record.Kind, key string) (bool, error) {
	keyValue, err := record.New(kind, key).KeyValue()
	if err != nil {
		return false, err
	}
	schema := record.SchemaFor(kind)
	q := s.db.Rebind(fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE %s = ?", schema.Table, schema.KeyColumn))
	var n int
	if err := s.db.GetContext(ctx, &n, q, keyValue); err != nil {
		return false, fmt.Errorf("check %s %s: %w", kind, key, err)
	}
	return n > 0, nil
}

// Insert stores rec unless its key is already present. Only set fields are
// written; unset ones are left out of the statement. Insert never returns an
// error: failures are reported in the Outcome and the record is dropped.
func (s *Store) Insert(ctx context.Context, rec record.Record) Outcome {
	exists, err := s.Exists(ctx, rec.Kind(), rec.Key())
	if err != nil {
		return s.failed(rec, "", nil, err)
	}
	if exists {
		return s.skipped(rec)
	}

	q, args, err := s.insertStatement(rec)
	if err != nil {
		return s.failed(rec, "", nil, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.failed(rec, q, args, err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			return s.skipped(rec)
		}
		return s.failed(rec, q, args, err)
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return s.failed(rec, q, args, err)
	}

	s.log.LogSuccessf("%s %s: inserted (%d fields)", rec.Kind(), rec.Key(), rec.Len())
	return Outcome{Status: Inserted}
}

// insertStatement projects rec onto its key plus its set fields.
func (s *Store) insertStatement(rec record.Record) (string, []any, error) {
	schema := rec.Schema()
	keyValue, err := rec.KeyValue()
	if err != nil {
		return "", nil, err
	}
	fields := rec.SetFields()
	cols := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	cols = append(cols, schema.KeyColumn)
	args = append(args, keyValue)
	for _, f := range fields {
		v, _ := rec.Get(f)
		cols = append(cols, f)
		args = append(args, v)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", schema.Table, strings.Join(cols, ", "), marks)
	return s.db.Rebind(q), args, nil
}

func (s *Store) skipped(rec record.Record) Outcome {
	s.log.LogInfof("%s %s: skipped - duplicate", rec.Kind(), rec.Key())
	return Outcome{Status: SkippedDuplicate, Reason: "duplicate", Err: ErrDuplicateKey}
}

func (s *Store) failed(rec record.Record, q string, args []any, err error) Outcome {
	s.log.Error().
		Str("kind", string(rec.Kind())).
		Str("key", rec.Key()).
		Err(err).
		Msg("failed - record dropped")
	s.log.Quiet().
		Str("kind", string(rec.Kind())).
		Str("key", rec.Key()).
		Str("query", q).
		Interface("args", args).
		Err(err).
		Msgf("store write failed\n%s", debug.Stack())
	return Outcome{Status: Failed, Reason: err.Error(), Err: fmt.Errorf("%w: %s %s: %v", ErrStoreWrite, rec.Kind(), rec.Key(), err)}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ping checks the connection is still usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}
