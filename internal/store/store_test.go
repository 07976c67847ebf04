package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ppiankov/bsmeter/internal/model"
)

type opener func(t *testing.T) Store

func openSQLiteTest(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openFileTest(t *testing.T) Store {
	t.Helper()
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "records"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

var backends = map[string]opener{
	"sqlite": openSQLiteTest,
	"file":   openFileTest,
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func req(text string, attitude model.AttitudeMode) model.AnalysisRequest {
	return model.NewRequest(text, attitude, model.SourceSelection, "")
}

func res(provider, explanation string, at time.Time) model.AnalysisResult {
	return model.AnalysisResult{
		Verdict:          "mixed",
		Explanation:      explanation,
		CounterArguments: []string{"first", "second"},
		ConfidenceScore:  0.6,
		ProviderUsed:     provider,
		CreatedAt:        at,
	}
}

func create(t *testing.T, s Store, r model.AnalysisRequest, result model.AnalysisResult) *model.AnalysisRecord {
	t.Helper()
	rec, created, err := s.CreateIfAbsent(context.Background(), model.FingerprintOf(r), r, result)
	require.NoError(t, err)
	require.True(t, created)
	return rec
}

func collect(t *testing.T, s Store, q Query) []*model.AnalysisRecord {
	t.Helper()
	var out []*model.AnalysisRecord
	for rec, err := range s.Search(context.Background(), q) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func texts(recs []*model.AnalysisRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Request.Text)
	}
	return out
}

func TestStore_Contract(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("lookup missing", func(t *testing.T) {
				s := open(t)
				_, err := s.Lookup(context.Background(), model.FingerprintOf(req("nothing", model.AttitudeBalanced)))
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("create then lookup", func(t *testing.T) {
				s := open(t)
				r := req("The Great Wall is visible from space", model.AttitudeArgumentative)
				rec := create(t, s, r, res("openai", "It is not visible to the naked eye.", base))

				got, err := s.Lookup(context.Background(), rec.Fingerprint)
				require.NoError(t, err)
				assert.Equal(t, rec, got)
				assert.Equal(t, []string{}, got.Tags)
				assert.Equal(t, []string{}, got.Result.LogicalFallacies)
			})

			t.Run("existing record wins", func(t *testing.T) {
				s := open(t)
				r := req("claim", model.AttitudeBalanced)
				first := create(t, s, r, res("openai", "first answer", base))

				second, created, err := s.CreateIfAbsent(context.Background(), first.Fingerprint, r, res("ollama", "second answer", base.Add(time.Hour)))
				require.NoError(t, err)
				assert.False(t, created)
				assert.Equal(t, first, second)
			})

			t.Run("concurrent create has one winner", func(t *testing.T) {
				s := open(t)
				r := req("race", model.AttitudeBalanced)
				fp := model.FingerprintOf(r)

				const n = 16
				var (
					wg      sync.WaitGroup
					mu      sync.Mutex
					created int
					winners = map[string]bool{}
				)
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						rec, ok, err := s.CreateIfAbsent(context.Background(), fp, r, res(fmt.Sprintf("p%d", i), "x", base))
						if !assert.NoError(t, err) {
							return
						}
						mu.Lock()
						defer mu.Unlock()
						if ok {
							created++
						}
						winners[rec.Result.ProviderUsed] = true
					}()
				}
				wg.Wait()

				assert.Equal(t, 1, created)
				assert.Len(t, winners, 1)
			})

			t.Run("tags", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				rec := create(t, s, req("tagged", model.AttitudeHelpful), res("openai", "x", base))

				require.NoError(t, s.AddTag(ctx, rec.Fingerprint, "  Politics "))
				require.NoError(t, s.AddTag(ctx, rec.Fingerprint, "politics"))
				require.NoError(t, s.AddTag(ctx, rec.Fingerprint, "health"))

				got, err := s.Lookup(ctx, rec.Fingerprint)
				require.NoError(t, err)
				assert.Equal(t, []string{"health", "politics"}, got.Tags)

				require.NoError(t, s.RemoveTag(ctx, rec.Fingerprint, "HEALTH"))
				got, err = s.Lookup(ctx, rec.Fingerprint)
				require.NoError(t, err)
				assert.Equal(t, []string{"politics"}, got.Tags)

				var ve *model.ValidationError
				assert.ErrorAs(t, s.AddTag(ctx, rec.Fingerprint, "   "), &ve)

				missing := model.FingerprintOf(req("absent", model.AttitudeHelpful))
				assert.ErrorIs(t, s.AddTag(ctx, missing, "x"), ErrNotFound)
			})

			t.Run("search order and matching", func(t *testing.T) {
				s := open(t)
				create(t, s, req("Vaccines cause autism", model.AttitudeBalanced), res("openai", "Debunked by large cohort studies.", base))
				create(t, s, req("The moon landing was faked", model.AttitudeArgumentative), res("anthropic", "Retroreflectors remain on the surface.", base.Add(2*time.Minute)))
				create(t, s, req("Coffee is healthy", model.AttitudeHelpful), res("openai", "Moderate intake shows benefits in COHORT data.", base.Add(time.Minute)))

				all := collect(t, s, Query{})
				assert.Equal(t, []string{"The moon landing was faked", "Coffee is healthy", "Vaccines cause autism"}, texts(all))

				// text and explanation, case-insensitive
				assert.Equal(t, []string{"Coffee is healthy", "Vaccines cause autism"}, texts(collect(t, s, Query{Text: "cohort"})))
				assert.Equal(t, []string{"The moon landing was faked"}, texts(collect(t, s, Query{Text: "MOON"})))

				// non-ASCII letters fold too
				create(t, s, req("Москва is the capital", model.AttitudeBalanced), res("ollama", "Élysée palace is in Paris.", base.Add(-time.Minute)))
				assert.Equal(t, []string{"Москва is the capital"}, texts(collect(t, s, Query{Text: "Москва"})))
				assert.Equal(t, []string{"Москва is the capital"}, texts(collect(t, s, Query{Text: "москва"})))
				assert.Equal(t, []string{"Москва is the capital"}, texts(collect(t, s, Query{Text: "ÉLYSÉE"})))

				assert.Equal(t, []string{"Coffee is healthy", "Vaccines cause autism"}, texts(collect(t, s, Query{Provider: "openai"})))
				assert.Equal(t, []string{"Coffee is healthy"}, texts(collect(t, s, Query{Attitude: model.AttitudeHelpful})))
				assert.Equal(t, []string{"The moon landing was faked"}, texts(collect(t, s, Query{Since: base.Add(90 * time.Second)})))
				assert.Len(t, collect(t, s, Query{Limit: 2}), 2)
				assert.Empty(t, collect(t, s, Query{Source: model.SourceScreenshot}))
			})

			t.Run("search by tag", func(t *testing.T) {
				s := open(t)
				a := create(t, s, req("a", model.AttitudeBalanced), res("openai", "x", base))
				create(t, s, req("b", model.AttitudeBalanced), res("openai", "x", base.Add(time.Second)))
				require.NoError(t, s.AddTag(context.Background(), a.Fingerprint, "keep"))

				assert.Equal(t, []string{"a"}, texts(collect(t, s, Query{Tag: "KEEP"})))
			})

			t.Run("like wildcards are literal", func(t *testing.T) {
				s := open(t)
				create(t, s, req("Inflation hit 100% last year", model.AttitudeBalanced), res("openai", "x", base))
				create(t, s, req("Inflation hit 1000 last year", model.AttitudeBalanced), res("openai", "x", base.Add(time.Second)))
				create(t, s, req("snake_case claim", model.AttitudeBalanced), res("openai", "x", base.Add(2*time.Second)))

				assert.Equal(t, []string{"Inflation hit 100% last year"}, texts(collect(t, s, Query{Text: "100%"})))
				assert.Equal(t, []string{"snake_case claim"}, texts(collect(t, s, Query{Text: "e_c"})))
			})

			t.Run("search is restartable and stoppable", func(t *testing.T) {
				s := open(t)
				for i := 0; i < 5; i++ {
					create(t, s, req(fmt.Sprintf("claim %d", i), model.AttitudeBalanced), res("openai", "x", base.Add(time.Duration(i)*time.Second)))
				}

				seq := s.Search(context.Background(), Query{})
				first := 0
				for range seq {
					first++
				}
				second := 0
				for _, err := range seq {
					require.NoError(t, err)
					second++
					if second == 2 {
						break
					}
				}
				assert.Equal(t, 5, first)
				assert.Equal(t, 2, second)
			})

			t.Run("stats", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				a := create(t, s, req("a", model.AttitudeBalanced), res("openai", "x", base))
				b := create(t, s, req("b", model.AttitudeHelpful), res("ollama", "x", base))
				create(t, s, req("c", model.AttitudeHelpful), res("ollama", "x", base))
				require.NoError(t, s.AddTag(ctx, a.Fingerprint, "science"))
				require.NoError(t, s.AddTag(ctx, b.Fingerprint, "science"))
				require.NoError(t, s.AddTag(ctx, b.Fingerprint, "diet"))

				st, err := s.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, 3, st.Total)
				assert.Equal(t, map[string]int{"balanced": 1, "helpful": 2}, st.ByAttitude)
				assert.Equal(t, map[string]int{"openai": 1, "ollama": 2}, st.ByProvider)
				assert.Equal(t, map[string]int{"selection": 3}, st.BySource)
				assert.Equal(t, []TagCount{{"science", 2}, {"diet", 1}}, st.TopTags)
			})
		})
	}
}

func TestSQLStore_KeysetPaginationWithTies(t *testing.T) {
	s := openSQLiteTest(t)

	const n = searchPageSize*2 + 5
	for i := 0; i < n; i++ {
		// pairs share a timestamp so the fingerprint tie-break crosses page boundaries
		at := base.Add(time.Duration(i/2) * time.Second)
		create(t, s, req(fmt.Sprintf("claim %03d", i), model.AttitudeBalanced), res("openai", "x", at))
	}

	recs := collect(t, s, Query{})
	require.Len(t, recs, n)

	seen := make(map[model.Fingerprint]bool, n)
	for i, rec := range recs {
		assert.False(t, seen[rec.Fingerprint], "duplicate %s", rec.Fingerprint)
		seen[rec.Fingerprint] = true
		if i > 0 {
			assert.True(t, newer(recs[i-1], rec), "out of order at %d", i)
		}
	}

	assert.Len(t, collect(t, s, Query{Limit: searchPageSize + 3}), searchPageSize+3)
}

func TestSQLStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	rec := create(t, s, req("persist me", model.AttitudeBalanced), res("openai", "x", base))
	require.NoError(t, s.AddTag(ctx, rec.Fingerprint, "kept"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Lookup(ctx, rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, rec.Result, got.Result)
	assert.Equal(t, []string{"kept"}, got.Tags)

	version, err := s.schemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, latestVersion(), version)
}

func TestSQLStore_SearchColumnBackfilled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	create(t, s, req("Über claims", model.AttitudeBalanced), res("openai", "x", base))
	// roll the database back to schema version 2
	for _, stmt := range []string{
		"ALTER TABLE analyses DROP COLUMN search_text",
		"DELETE FROM schema_migrations WHERE version = 3",
	} {
		_, err := s.db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.Equal(t, []string{"Über claims"}, texts(collect(t, s, Query{Text: "über"})))
}

func TestSQLStore_CorruptListIsAnError(t *testing.T) {
	s := openSQLiteTest(t).(*SQLStore)
	ctx := context.Background()
	rec := create(t, s, req("damaged", model.AttitudeBalanced), res("openai", "x", base))

	_, err := s.db.ExecContext(ctx, "UPDATE analyses SET counter_arguments = '{not json' WHERE fingerprint = ?", string(rec.Fingerprint))
	require.NoError(t, err)

	_, err = s.Lookup(ctx, rec.Fingerprint)
	var se *model.StoreError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, err.Error(), "counter_arguments")

	for _, err := range s.Search(ctx, Query{}) {
		assert.ErrorAs(t, err, &se)
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "records")
	s, err := OpenFileStore(dir, nil)
	require.NoError(t, err)
	rec := create(t, s, req("persist me", model.AttitudeBalanced), res("openai", "x", base))

	s2, err := OpenFileStore(dir, nil)
	require.NoError(t, err)
	got, err := s2.Lookup(context.Background(), rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestNormalizeTag(t *testing.T) {
	tag, err := NormalizeTag("  Fake-News ")
	require.NoError(t, err)
	assert.Equal(t, "fake-news", tag)

	_, err = NormalizeTag("")
	var ve *model.ValidationError
	assert.True(t, errors.As(err, &ve))

	// the limit counts characters, not bytes
	cyrillic := strings.Repeat("ж", 40)
	tag, err = NormalizeTag(cyrillic)
	require.NoError(t, err)
	assert.Equal(t, cyrillic, tag)

	_, err = NormalizeTag(strings.Repeat("ж", 65))
	assert.True(t, errors.As(err, &ve))
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, model.StoreConfig{Driver: "file", Path: filepath.Join(dir, "files"), HotCache: time.Minute}, nil)
	require.NoError(t, err)
	_, isCached := s.(*Cached)
	assert.True(t, isCached)
	require.NoError(t, s.Close())

	s, err = Open(ctx, model.StoreConfig{Driver: "sqlite", Path: filepath.Join(dir, "h.db")}, nil)
	require.NoError(t, err)
	_, isSQL := s.(*SQLStore)
	assert.True(t, isSQL)
	require.NoError(t, s.Close())

	_, err = Open(ctx, model.StoreConfig{Driver: "postgres"}, nil)
	assert.Error(t, err)
	_, err = Open(ctx, model.StoreConfig{Driver: "mongo", Path: dir}, nil)
	assert.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	p, err := ExpandHome("~/.bsmeter/history.db")
	require.NoError(t, err)
	assert.Equal(t, "/home/tester/.bsmeter/history.db", p)

	p, err = ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", p)
}
