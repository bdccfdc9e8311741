package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchStreamsToTempFile(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("fake audio bytes"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	path, err := f.Fetch(context.Background(), srv.URL+"/media/sample.wav",
		map[string]string{"Authorization": "Bearer remote-token"}, "")
	require.NoError(t, err)
	defer os.Remove(path)

	require.Equal(t, "Bearer remote-token", gotAuth, "request headers pass through")
	require.True(t, strings.HasSuffix(path, "_sample.wav"), "name inferred from URL path, got %s", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "fake audio bytes", string(data))
}

func TestFetchNameHintWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	path, err := f.Fetch(context.Background(), srv.URL+"/media/sample.wav", nil, "meeting.mp3")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_meeting.mp3"), "got %s", path)
}

func TestFetchFallbackName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	path, err := f.Fetch(context.Background(), srv.URL+"/", nil, "")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_audio"), "got %s", path)
}

func TestFetchHTTPErrorLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tmpDir := t.TempDir()
	f := NewFetcher(tmpDir)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.wav", nil, "")

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	require.Contains(t, fetchErr.Error(), "404")

	entries, readErr := os.ReadDir(tmpDir)
	require.NoError(t, readErr)
	require.Empty(t, entries)
}

func TestFetchUnreachableHost(t *testing.T) {
	f := NewFetcher(t.TempDir())
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/never", nil, "")

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
}

func TestFetchTraversalHintStaysInTempDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	tmpDir := t.TempDir()
	f := NewFetcher(tmpDir)
	path, err := f.Fetch(context.Background(), srv.URL+"/a.wav", nil, "../../evil.wav")
	require.NoError(t, err)
	require.Equal(t, tmpDir, filepath.Dir(path))
}
