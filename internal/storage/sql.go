package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const seenTable = "seen_urls"

// SQLStore keeps seen URLs in a seen_urls table on PostgreSQL or SQLite.
type SQLStore struct {
	*seenSet
	db      *sql.DB
	dialect Dialect
	builder sq.StatementBuilderType
}

// OpenSQL connects, pings and creates the schema. For SQLite dsn is a file
// path; its directory is created.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string, retention time.Duration, opts ...Option) (*SQLStore, error) {
	var placeholder sq.PlaceholderFormat = sq.Dollar
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		placeholder = sq.Question
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create state dir: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLStore{
		seenSet: newSeenSet(retention, opts),
		db:      db,
		dialect: dialect,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Debug("seen store connected", "dialect", dialect)
	return store, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS seen_urls (
			url_hash VARCHAR(64) PRIMARY KEY,
			last_seen BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seen_urls_last_seen ON seen_urls(last_seen)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load reads rows still inside the retention window. Expired rows are
// left in place until the next Persist.
func (s *SQLStore) Load(ctx context.Context) error {
	sel := s.builder.Select("url_hash", "last_seen").From(seenTable)
	if cutoff := s.cutoff(); !cutoff.IsZero() {
		sel = sel.Where(sq.GtOrEq{"last_seen": cutoff.Unix()})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query seen urls: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]time.Time)
	for rows.Next() {
		var (
			hash string
			ts   int64
		)
		if err := rows.Scan(&hash, &ts); err != nil {
			return fmt.Errorf("failed to scan seen url: %w", err)
		}
		entries[hash] = time.Unix(ts, 0).UTC()
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.reset(entries)
	return nil
}

// Persist deletes expired rows and upserts URLs recorded since the last
// Persist in one transaction.
func (s *SQLStore) Persist(ctx context.Context) error {
	added := s.pendingEntries()
	if len(added) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if cutoff := s.cutoff(); !cutoff.IsZero() {
		query, args, err := s.builder.Delete(seenTable).
			Where(sq.Lt{"last_seen": cutoff.Unix()}).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to prune seen urls: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			slog.Debug("pruned expired seen urls", "count", n)
		}
	}

	for _, e := range added {
		query, args, err := s.builder.Insert(seenTable).
			Columns("url_hash", "last_seen").
			Values(e.hash, e.at.Unix()).
			Suffix("ON CONFLICT(url_hash) DO UPDATE SET last_seen = excluded.last_seen").
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to store seen url: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seen urls: %w", err)
	}
	s.markPersisted(added)
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
