package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/bsmeter/internal/model"
)

// searchPageSize bounds how many rows one Search round trip reads
const searchPageSize = 100

var recordColumns = []string{
	"fingerprint", "request_text", "attitude", "source_type", "context",
	"verdict", "explanation", "counter_arguments", "logical_fallacies", "recommendations",
	"confidence_score", "provider", "created_at",
}

// searchColumn holds request text and explanation lowercased in Go
const searchColumn = "search_text"

var insertColumns = append(append([]string{}, recordColumns...), searchColumn)

// SQLStore is the Store backed by database/sql (SQLite or PostgreSQL)
type SQLStore struct {
	db     *sql.DB
	sb     sq.StatementBuilderType
	driver string
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) a SQLite history database
func OpenSQLite(ctx context.Context, dbPath string, logger *zap.Logger) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// synchronous(FULL): a commit is on disk before CreateIfAbsent returns
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer; Search reads whole pages so it never pins the connection
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, "sqlite", sq.Question, logger)
}

// OpenPostgres connects to PostgreSQL through pgx
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	return newSQLStore(ctx, db, "postgres", sq.Dollar, logger)
}

func newSQLStore(ctx context.Context, db *sql.DB, driver string, ph sq.PlaceholderFormat, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLStore{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(ph),
		driver: driver,
		logger: logger.With(zap.String("store", driver)),
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Lookup returns the record for fp
func (s *SQLStore) Lookup(ctx context.Context, fp model.Fingerprint) (*model.AnalysisRecord, error) {
	query, args, err := s.sb.Select(recordColumns...).
		From("analyses").
		Where(sq.Eq{"fingerprint": string(fp)}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rec, _, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &model.StoreError{Op: "lookup", Err: err}
	}

	if err := s.loadTags(ctx, []*model.AnalysisRecord{rec}); err != nil {
		return nil, &model.StoreError{Op: "lookup", Err: err}
	}
	return rec, nil
}

// CreateIfAbsent inserts the record unless the fingerprint exists, then returns the winner
func (s *SQLStore) CreateIfAbsent(ctx context.Context, fp model.Fingerprint, req model.AnalysisRequest, res model.AnalysisResult) (*model.AnalysisRecord, bool, error) {
	rec := newRecord(fp, req, res)

	counter, _ := json.Marshal(rec.Result.CounterArguments)
	fallacies, _ := json.Marshal(rec.Result.LogicalFallacies)
	recommendations, _ := json.Marshal(rec.Result.Recommendations)

	query, args, err := s.sb.Insert("analyses").
		Columns(insertColumns...).
		Values(
			string(fp), req.Text, string(req.Attitude), string(req.SourceType), req.Context,
			rec.Result.Verdict, rec.Result.Explanation, string(counter), string(fallacies), string(recommendations),
			rec.Result.ConfidenceScore, rec.Result.ProviderUsed, rec.Result.CreatedAt.UnixNano(),
			searchText(req.Text, rec.Result.Explanation),
		).
		Suffix("ON CONFLICT (fingerprint) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, false, err
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, false, &model.StoreError{Op: "create", Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, &model.StoreError{Op: "create", Err: err}
	}
	if n == 1 {
		return rec, true, nil
	}

	existing, err := s.Lookup(ctx, fp)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// AddTag attaches a tag to an existing record
func (s *SQLStore) AddTag(ctx context.Context, fp model.Fingerprint, tag string) error {
	tag, err := NormalizeTag(tag)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "add tag", func(tx *sql.Tx) error {
		if err := s.requireRecord(ctx, tx, fp); err != nil {
			return err
		}
		query, args, err := s.sb.Insert("tags").
			Columns("fingerprint", "tag").
			Values(string(fp), tag).
			Suffix("ON CONFLICT (fingerprint, tag) DO NOTHING").
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
}

// RemoveTag detaches a tag
func (s *SQLStore) RemoveTag(ctx context.Context, fp model.Fingerprint, tag string) error {
	tag, err := NormalizeTag(tag)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "remove tag", func(tx *sql.Tx) error {
		if err := s.requireRecord(ctx, tx, fp); err != nil {
			return err
		}
		query, args, err := s.sb.Delete("tags").
			Where(sq.Eq{"fingerprint": string(fp), "tag": tag}).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
}

func (s *SQLStore) requireRecord(ctx context.Context, tx *sql.Tx, fp model.Fingerprint) error {
	query, args, err := s.sb.Select("1").From("analyses").Where(sq.Eq{"fingerprint": string(fp)}).ToSql()
	if err != nil {
		return err
	}
	var one int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &model.StoreError{Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var ve *model.ValidationError
		if errors.Is(err, ErrNotFound) || errors.As(err, &ve) {
			return err
		}
		return &model.StoreError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &model.StoreError{Op: op, Err: err}
	}
	return nil
}

// Search yields matching records page by page using a (created_at, fingerprint) cursor
func (s *SQLStore) Search(ctx context.Context, q Query) iter.Seq2[*model.AnalysisRecord, error] {
	return func(yield func(*model.AnalysisRecord, error) bool) {
		var (
			cursorAt int64
			cursorFP string
			started  bool
			yielded  int
		)

		for {
			pageSize := searchPageSize
			if q.Limit > 0 && q.Limit-yielded < pageSize {
				pageSize = q.Limit - yielded
			}
			if pageSize <= 0 {
				return
			}

			page, lastAt, err := s.searchPage(ctx, q, started, cursorAt, cursorFP, pageSize)
			if err != nil {
				yield(nil, &model.StoreError{Op: "search", Err: err})
				return
			}

			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				yielded++
			}

			if len(page) < pageSize {
				return
			}
			started = true
			cursorAt = lastAt
			cursorFP = string(page[len(page)-1].Fingerprint)
		}
	}
}

func (s *SQLStore) searchPage(ctx context.Context, q Query, after bool, cursorAt int64, cursorFP string, limit int) ([]*model.AnalysisRecord, int64, error) {
	b := s.sb.Select(recordColumns...).From("analyses")

	if q.Text != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Text)) + "%"
		b = b.Where(sq.Expr(searchColumn+` LIKE ? ESCAPE '\'`, pattern))
	}
	if q.Attitude != "" {
		b = b.Where(sq.Eq{"attitude": string(q.Attitude)})
	}
	if q.Provider != "" {
		b = b.Where(sq.Eq{"provider": q.Provider})
	}
	if q.Source != "" {
		b = b.Where(sq.Eq{"source_type": string(q.Source)})
	}
	if q.Tag != "" {
		tag, err := NormalizeTag(q.Tag)
		if err != nil {
			return nil, 0, err
		}
		b = b.Where(sq.Expr("fingerprint IN (SELECT fingerprint FROM tags WHERE tag = ?)", tag))
	}
	if !q.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": q.Since.UnixNano()})
	}
	if after {
		b = b.Where(sq.Or{
			sq.Lt{"created_at": cursorAt},
			sq.And{sq.Eq{"created_at": cursorAt}, sq.Lt{"fingerprint": cursorFP}},
		})
	}

	query, args, err := b.OrderBy("created_at DESC", "fingerprint DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}

	var (
		page   []*model.AnalysisRecord
		lastAt int64
	)
	for rows.Next() {
		rec, createdAt, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, 0, err
		}
		page = append(page, rec)
		lastAt = createdAt
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, 0, err
	}
	// release the connection before the tag query and before yielding
	if err := rows.Close(); err != nil {
		return nil, 0, err
	}

	if err := s.loadTags(ctx, page); err != nil {
		return nil, 0, err
	}
	return page, lastAt, nil
}

// loadTags fills Tags for the given records with one query
func (s *SQLStore) loadTags(ctx context.Context, recs []*model.AnalysisRecord) error {
	if len(recs) == 0 {
		return nil
	}

	byFP := make(map[model.Fingerprint]*model.AnalysisRecord, len(recs))
	fps := make([]string, 0, len(recs))
	for _, r := range recs {
		byFP[r.Fingerprint] = r
		fps = append(fps, string(r.Fingerprint))
	}

	query, args, err := s.sb.Select("fingerprint", "tag").
		From("tags").
		Where(sq.Eq{"fingerprint": fps}).
		OrderBy("tag").
		ToSql()
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var fp, tag string
		if err := rows.Scan(&fp, &tag); err != nil {
			return err
		}
		if r, ok := byFP[model.Fingerprint(fp)]; ok {
			r.Tags = append(r.Tags, tag)
		}
	}
	return rows.Err()
}

// Stats aggregates counts with GROUP BY queries
func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	st := newStats()

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses").Scan(&st.Total); err != nil {
		return nil, &model.StoreError{Op: "stats", Err: err}
	}

	for column, dest := range map[string]map[string]int{
		"attitude":    st.ByAttitude,
		"provider":    st.ByProvider,
		"source_type": st.BySource,
	} {
		if err := s.groupCount(ctx, column, dest); err != nil {
			return nil, &model.StoreError{Op: "stats", Err: err}
		}
	}

	query, args, err := s.sb.Select("tag", "COUNT(*) AS n").
		From("tags").
		GroupBy("tag").
		OrderBy("n DESC", "tag").
		Limit(topTagLimit).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &model.StoreError{Op: "stats", Err: err}
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, &model.StoreError{Op: "stats", Err: err}
		}
		st.TopTags = append(st.TopTags, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StoreError{Op: "stats", Err: err}
	}

	return st, nil
}

func (s *SQLStore) groupCount(ctx context.Context, column string, dest map[string]int) error {
	query, args, err := s.sb.Select(column, "COUNT(*)").From("analyses").GroupBy(column).ToSql()
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dest[key] = n
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.AnalysisRecord, int64, error) {
	var (
		fp, text, attitude, source, ctxText string
		verdict, explanation, provider      string
		counter, fallacies, recommendations string
		confidence                          float64
		createdAt                           int64
	)
	if err := row.Scan(&fp, &text, &attitude, &source, &ctxText,
		&verdict, &explanation, &counter, &fallacies, &recommendations,
		&confidence, &provider, &createdAt); err != nil {
		return nil, 0, err
	}

	counterList, err := decodeList("counter_arguments", counter)
	if err != nil {
		return nil, 0, err
	}
	fallacyList, err := decodeList("logical_fallacies", fallacies)
	if err != nil {
		return nil, 0, err
	}
	recommendationList, err := decodeList("recommendations", recommendations)
	if err != nil {
		return nil, 0, err
	}

	rec := &model.AnalysisRecord{
		Fingerprint: model.Fingerprint(fp),
		Request: model.AnalysisRequest{
			Text:       text,
			Attitude:   model.AttitudeMode(attitude),
			SourceType: model.SourceType(source),
			Context:    ctxText,
		},
		Result: model.AnalysisResult{
			Verdict:          verdict,
			Explanation:      explanation,
			CounterArguments: counterList,
			LogicalFallacies: fallacyList,
			Recommendations:  recommendationList,
			ConfidenceScore:  confidence,
			ProviderUsed:     provider,
			CreatedAt:        time.Unix(0, createdAt).UTC(),
		},
		Tags: []string{},
	}
	return rec, createdAt, nil
}

func decodeList(column, s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", column, err)
	}
	if out == nil {
		return []string{}, nil
	}
	return out, nil
}

// searchText is the value matched by Query.Text
func searchText(text, explanation string) string {
	return strings.ToLower(text) + "\n" + strings.ToLower(explanation)
}

// escapeLike escapes LIKE wildcards with a backslash
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
