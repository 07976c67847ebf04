package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
)

const article = `<!DOCTYPE html>
<html>
<head><title>Ignored title</title><style>p { color: red }</style></head>
<body>
  <nav>Home | About</nav>
  <article>
    <h1>Miracle cure</h1>
    <p>This   herb cures <b>every</b> disease.</p>
    <script>track();</script>
    <p>Doctors hate it.</p>
  </article>
  <footer>Copyright</footer>
</body>
</html>`

func TestVisibleText(t *testing.T) {
	got, err := VisibleText(strings.NewReader(article))
	if err != nil {
		t.Fatal(err)
	}
	want := "Miracle cure\nThis herb cures every disease.\nDoctors hate it."
	if got != want {
		t.Errorf("VisibleText =\n%q\nwant\n%q", got, want)
	}
}

func TestText_Empty(t *testing.T) {
	_, err := Text{Value: "  \n "}.Capture(context.Background())
	var nt *model.NoTextAvailableError
	if !errors.As(err, &nt) {
		t.Fatalf("expected NoTextAvailableError, got %v", err)
	}
}

func TestText_DefaultsToSelection(t *testing.T) {
	f, err := Text{Value: " The moon is made of cheese "}.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.Text != "The moon is made of cheese" {
		t.Errorf("Text = %q", f.Text)
	}
	if f.Source != model.SourceSelection {
		t.Errorf("Source = %q", f.Source)
	}
}

func TestReader_Limit(t *testing.T) {
	f, err := Reader{R: strings.NewReader("abcdefghij"), Kind: model.SourceClipboard, MaxBytes: 4}.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.Text != "abcd" || f.Source != model.SourceClipboard {
		t.Errorf("got %+v", f)
	}
}

func TestFile_HTMLAndPlain(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "page.html")
	txtPath := filepath.Join(dir, "claim.txt")
	if err := os.WriteFile(htmlPath, []byte(article), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(txtPath, []byte("<b>not parsed</b>\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := File{Path: htmlPath}.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(f.Text, "Miracle cure") || f.Origin != htmlPath {
		t.Errorf("html capture = %+v", f)
	}

	f, err = File{Path: txtPath}.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.Text != "<b>not parsed</b>" {
		t.Errorf("plain capture = %q", f.Text)
	}

	if _, err := (File{Path: filepath.Join(dir, "missing.txt")}).Capture(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func noSleep(t *testing.T) {
	t.Helper()
	orig := fetchSleep
	fetchSleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { fetchSleep = orig })
}

func TestURL_Capture(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, article)
	}))
	defer server.Close()

	f, err := URL{Fetcher: NewFetcher(FetcherConfig{Timeout: 5 * time.Second}), Address: server.URL + "/post"}.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.Origin != server.URL+"/post" {
		t.Errorf("Origin = %q", f.Origin)
	}
	if !strings.Contains(f.Text, "Doctors hate it.") {
		t.Errorf("Text = %q", f.Text)
	}
}

func TestFetch_TransientThenSuccess(t *testing.T) {
	noSleep(t)
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, "<html>OK</html>")
	}))
	defer server.Close()

	page, err := NewFetcher(FetcherConfig{}).Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if page.HTML != "<html>OK</html>" {
		t.Errorf("Unexpected HTML: %s", page.HTML)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestFetch_PermanentFailure(t *testing.T) {
	noSleep(t)
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewFetcher(FetcherConfig{}).Fetch(context.Background(), server.URL)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 StatusError, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("404 should not be retried, got %d attempts", attempts.Load())
	}
}

func TestFetch_RobotsDisallow(t *testing.T) {
	var pageHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
			return
		}
		pageHits.Add(1)
		_, _ = fmt.Fprint(w, "<p>secret</p>")
	}))
	defer server.Close()

	_, err := NewFetcher(FetcherConfig{RespectRobots: true}).Fetch(context.Background(), server.URL+"/page")
	if !errors.Is(err, ErrDisallowed) {
		t.Fatalf("expected ErrDisallowed, got %v", err)
	}
	if pageHits.Load() != 0 {
		t.Error("page fetched despite robots.txt")
	}
}

func TestFetch_RejectsNonHTTP(t *testing.T) {
	_, err := NewFetcher(FetcherConfig{}).Fetch(context.Background(), "file:///etc/passwd")
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRetryableFetchError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		err       error
		retryable bool
	}{
		{&StatusError{Code: 503}, true},
		{&StatusError{Code: 500}, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 404}, false},
		{&StatusError{Code: 401}, false},
		{errors.New("fetch: connection refused"), true},
		{errors.New("read body: unexpected EOF"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := retryableFetchError(ctx, tt.err); got != tt.retryable {
			t.Errorf("retryableFetchError(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
	}
}
