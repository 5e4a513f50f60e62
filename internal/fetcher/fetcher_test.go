package fetcher

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, relays []string) *Client {
	t.Helper()
	c := New(Options{Relays: relays, MinBodyBytes: 10}, slog.Default())
	// Deterministic relay order for tests.
	c.shuffle = func([]string) {}
	return c
}

func TestFetchFallsBackToNextRelay(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>product page markup</body></html>"))
	}))
	defer working.Close()

	c := testClient(t, []string{failing.URL + "/?url=%s", working.URL + "/?url=%s"})

	body, err := c.Fetch(context.Background(), "https://prom.ua/p123-item.html")
	require.NoError(t, err)
	assert.Contains(t, body, "product page markup")
}

func TestFetchAllRelaysExhausted(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer failing.Close()

	c := testClient(t, []string{failing.URL + "/?url=%s", failing.URL + "/second?url=%s"})

	_, err := c.Fetch(context.Background(), "https://prom.ua/p123-item.html")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestFetchRejectsBotChallenge(t *testing.T) {
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>please solve this CAPTCHA to continue browsing the site</html>"))
	}))
	defer blocked.Close()

	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>real page content here</body></html>"))
	}))
	defer working.Close()

	c := testClient(t, []string{blocked.URL + "/?url=%s", working.URL + "/?url=%s"})

	body, err := c.Fetch(context.Background(), "https://prom.ua/p1.html")
	require.NoError(t, err)
	assert.Contains(t, body, "real page content")
}

func TestFetchRejectsTruncatedBody(t *testing.T) {
	short := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("err"))
	}))
	defer short.Close()

	c := testClient(t, []string{short.URL + "/?url=%s"})

	_, err := c.Fetch(context.Background(), "https://prom.ua/p1.html")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestFetchAppendsCacheBustParam(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Query().Get("url")
		w.Write([]byte("<html><body>page body long enough</body></html>"))
	}))
	defer srv.Close()

	c := testClient(t, []string{srv.URL + "/?url=%s"})

	_, err := c.Fetch(context.Background(), "https://prom.ua/some-category")
	require.NoError(t, err)
	assert.True(t, strings.Contains(seen, "_v="), "target url should carry a cache-bust parameter, got %q", seen)
}

func TestCacheBustKeepsExistingQuery(t *testing.T) {
	busted, err := cacheBust("https://prom.ua/search?q=shoes", time.Now())
	require.NoError(t, err)
	assert.Contains(t, busted, "q=shoes")
	assert.Contains(t, busted, "_v=")
}
