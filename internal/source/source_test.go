package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const script = `function FindProxyForURL(url, host) { return "DIRECT"; }`

func TestLoadInline(t *testing.T) {
	l, err := New(Config{Inline: script})
	require.NoError(t, err)
	require.Equal(t, "inline", l.Origin())

	text, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, script, text)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.pac")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	l, err := New(Config{File: path})
	require.NoError(t, err)
	text, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, script, text)

	require.NoError(t, os.WriteFile(path, []byte(`return "PROXY p:1";`), 0o644))
	text, err = l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, `return "PROXY p:1";`, text)
}

func TestLoadFileRejectsInvalidContent(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pac")
	require.NoError(t, os.WriteFile(bad, []byte{0xff, 0xfe}, 0o644))

	l, err := New(Config{File: bad})
	require.NoError(t, err)
	_, err = l.Load(context.Background())
	require.ErrorIs(t, err, ErrInvalidUTF8)

	big := filepath.Join(dir, "big.pac")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat("x", 64)), 0o644))
	l, err = New(Config{File: big, MaxBytes: 16})
	require.NoError(t, err)
	_, err = l.Load(context.Background())
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestNewRequiresExactlyOneSource(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNoSource)

	_, err = New(Config{Inline: script, File: "x.pac"})
	require.ErrorIs(t, err, ErrMultiSource)

	_, err = New(Config{URL: "ftp://example.com/proxy.pac"})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
}

func TestRemoteFetchIsCachedForTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/x-ns-proxy-autoconfig")
		_, _ = w.Write([]byte(script))
	}))
	defer srv.Close()

	l, err := New(Config{URL: srv.URL + "/proxy.pac", CacheTTL: time.Minute})
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		text, err := l.Load(context.Background())
		require.NoError(t, err)
		require.Equal(t, script, text)
	}
	require.EqualValues(t, 1, hits.Load())

	now = now.Add(time.Minute)
	_, err = l.Load(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, hits.Load())
}

func TestRemoteFetchCollapsesConcurrentLoads(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(script))
	}))
	defer srv.Close()

	l, err := New(Config{URL: srv.URL})
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Load(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, hits.Load())
}

func TestRemoteFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("a", 100)))
		case "/empty":
		}
	}))
	defer srv.Close()

	l, err := New(Config{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	_, err = l.Load(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, http.StatusNotFound, fe.Status)

	l, err = New(Config{URL: srv.URL + "/big", MaxBytes: 10})
	require.NoError(t, err)
	_, err = l.Load(context.Background())
	require.ErrorIs(t, err, ErrTooLarge)

	l, err = New(Config{URL: srv.URL + "/empty"})
	require.NoError(t, err)
	_, err = l.Load(context.Background())
	require.True(t, errors.Is(err, errEmptyResponse))
}

func TestRemoteServesStaleCopyWhenRefreshFails(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(script))
	}))
	defer srv.Close()

	l, err := New(Config{URL: srv.URL, CacheTTL: time.Second})
	require.NoError(t, err)
	now := time.Now()
	l.now = func() time.Time { return now }

	_, err = l.Load(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	now = now.Add(time.Hour)
	text, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, script, text)
}

func TestRemoteFetchSurvivesCallerCancel(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(script))
	}))
	defer srv.Close()

	l, err := New(Config{URL: srv.URL})
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := l.Load(firstCtx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	type result struct {
		text string
		err  error
	}
	second := make(chan result, 1)
	go func() {
		text, err := l.Load(context.Background())
		second <- result{text, err}
	}()

	cancelFirst()
	err = <-firstErr
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, script, got.text)
	require.EqualValues(t, 1, hits.Load())
}
