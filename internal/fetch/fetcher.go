// Package fetch downloads remote audio resources into local staging.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const defaultName = "audio"

// Error wraps any network or HTTP failure during a download. There is no
// automatic retry; the client retries the whole request.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher streams remote resources to uniquely named temporary files. The
// payload may be large, so the body is never buffered in memory.
type Fetcher struct {
	tmpDir     string
	httpClient *http.Client
}

func NewFetcher(tmpDir string) *Fetcher {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Fetcher{
		tmpDir: tmpDir,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// Fetch downloads rawURL into a temporary file and returns its path. The
// file's lifetime is bound to the caller's request: the caller removes it
// after transcription, success or failure. Extra request headers are passed
// through verbatim (e.g. cookies or auth for the remote host).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, headers map[string]string, nameHint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", &Error{URL: rawURL, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", &Error{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &Error{URL: rawURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	name := inferName(rawURL, nameHint)
	dst := filepath.Join(f.tmpDir, uuid.NewString()+"_"+name)

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dst)
		return "", &Error{URL: rawURL, Err: fmt.Errorf("stream body: %w", err)}
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return dst, nil
}

func inferName(rawURL, hint string) string {
	name := hint
	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
		}
	}
	name = filepath.Base(name)
	if name == "" || name == "." || name == "/" {
		name = defaultName
	}
	return name
}
