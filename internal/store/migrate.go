package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

// Migration is one schema step
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx, sb sq.StatementBuilderType) error
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "analyses table and recency index",
		Up: execAll(
			`CREATE TABLE IF NOT EXISTS analyses (
				fingerprint       TEXT PRIMARY KEY,
				request_text      TEXT NOT NULL,
				attitude          TEXT NOT NULL,
				source_type       TEXT NOT NULL,
				context           TEXT NOT NULL DEFAULT '',
				verdict           TEXT NOT NULL,
				explanation       TEXT NOT NULL,
				counter_arguments TEXT NOT NULL,
				logical_fallacies TEXT NOT NULL DEFAULT '[]',
				recommendations   TEXT NOT NULL DEFAULT '[]',
				confidence_score  DOUBLE PRECISION NOT NULL,
				provider          TEXT NOT NULL,
				created_at        BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses (created_at DESC, fingerprint DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_analyses_provider ON analyses (provider)`,
		),
	},
	{
		Version:     2,
		Description: "tags",
		Up: execAll(
			`CREATE TABLE IF NOT EXISTS tags (
				fingerprint TEXT NOT NULL REFERENCES analyses (fingerprint) ON DELETE CASCADE,
				tag         TEXT NOT NULL,
				PRIMARY KEY (fingerprint, tag)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags (tag)`,
		),
	},
	{
		Version:     3,
		Description: "lowercased search column",
		Up:          addSearchText,
	},
}

func execAll(stmts ...string) func(context.Context, *sql.Tx, sq.StatementBuilderType) error {
	return func(ctx context.Context, tx *sql.Tx, _ sq.StatementBuilderType) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// addSearchText adds search_text and fills it for existing rows.
// SQL LOWER folds ASCII only on SQLite, so the column is lowercased here.
func addSearchText(ctx context.Context, tx *sql.Tx, sb sq.StatementBuilderType) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE analyses ADD COLUMN search_text TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, "SELECT fingerprint, request_text, explanation FROM analyses")
	if err != nil {
		return err
	}
	type pending struct{ fp, text string }
	var backfill []pending
	for rows.Next() {
		var fp, text, explanation string
		if err := rows.Scan(&fp, &text, &explanation); err != nil {
			_ = rows.Close()
			return err
		}
		backfill = append(backfill, pending{fp: fp, text: searchText(text, explanation)})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, p := range backfill {
		query, args, err := sb.Update("analyses").
			Set("search_text", p.text).
			Where(sq.Eq{"fingerprint": p.fp}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func latestVersion() int {
	return migrations[len(migrations)-1].Version
}

// schemaVersion reads the highest applied migration
func (s *SQLStore) schemaVersion(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(version.Int64), nil
}

// migrate brings the schema up to the latest version, one transaction per step
func (s *SQLStore) migrate(ctx context.Context) error {
	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if current >= latestVersion() {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		s.logger.Info("applying migration", zap.Int("version", m.Version), zap.String("description", m.Description))

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(ctx, tx, s.sb); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		query, args, err := s.sb.Insert("schema_migrations").
			Columns("version", "applied_at").
			Values(m.Version, time.Now().UnixNano()).
			ToSql()
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
