// Package transcribe bridges finished local audio files to the external
// recognition pipeline and shapes failures into a small error taxonomy.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/speechd/asr-gateway/internal/asr"
	"github.com/speechd/asr-gateway/internal/audit"
	"github.com/speechd/asr-gateway/internal/cache"
)

var (
	// ErrRecognitionFailed covers an external pipeline failure or an empty
	// result; no partial output is returned.
	ErrRecognitionFailed = errors.New("recognition pipeline failed")

	// ErrRecognitionTimeout is returned when the bounded recognition call
	// exceeds its deadline.
	ErrRecognitionTimeout = errors.New("recognition timed out")
)

// AuditLogger records completed recognition calls. *audit.Service satisfies
// it; callers without a database leave it nil.
type AuditLogger interface {
	LogTranscription(ctx context.Context, entry audit.TranscriptionLog) error
}

// Gateway wraps a single Recognizer handle. The recognizer is constructed
// once at process start and treated as shared-immutable; the gateway never
// reconstructs it.
type Gateway struct {
	rec      asr.Recognizer
	cache    *cache.Cache // optional
	audit    AuditLogger  // optional
	timeout  time.Duration
	cacheTTL time.Duration
}

type Options struct {
	Cache    *cache.Cache
	Audit    AuditLogger
	Timeout  time.Duration
	CacheTTL time.Duration
}

func NewGateway(rec asr.Recognizer, opts Options) *Gateway {
	return &Gateway{
		rec:      rec,
		cache:    opts.Cache,
		audit:    opts.Audit,
		timeout:  opts.Timeout,
		cacheTTL: opts.CacheTTL,
	}
}

func (g *Gateway) Backend() string { return g.rec.Name() }

// Request describes one recognition call. CacheKey, when non-empty, memoizes
// the result (content keys are checksums, so identical keys mean identical
// audio). Endpoint and Format feed the audit trail.
type Request struct {
	Path     string
	Hotword  string
	CacheKey string
	Endpoint string
	Format   string
}

// Transcribe runs the external recognizer on a local file.
func (g *Gateway) Transcribe(ctx context.Context, req Request) (*asr.Result, error) {
	if req.CacheKey != "" && g.cache != nil {
		var cached asr.Result
		err := g.cache.Get(ctx, resultKey(req.CacheKey), &cached)
		if err == nil {
			slog.Info("transcription cache hit", "content_key", req.CacheKey)
			return &cached, nil
		}
		if err != cache.ErrMiss {
			slog.Warn("transcription cache read failed", "error", err)
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := g.rec.Transcribe(ctx, req.Path, req.Hotword)
	elapsed := time.Since(start)

	switch {
	case err != nil && ctx.Err() == context.DeadlineExceeded:
		err = fmt.Errorf("%w after %s: %v", ErrRecognitionTimeout, elapsed.Round(time.Millisecond), err)
	case err != nil:
		err = fmt.Errorf("%w: %v", ErrRecognitionFailed, err)
	case res == nil || res.Text == "":
		err = fmt.Errorf("%w: empty result", ErrRecognitionFailed)
	}

	g.record(ctx, req, elapsed, err)
	if err != nil {
		return nil, err
	}

	if req.CacheKey != "" && g.cache != nil {
		if cerr := g.cache.Set(ctx, resultKey(req.CacheKey), res, g.cacheTTL); cerr != nil {
			slog.Warn("transcription cache write failed", "error", cerr)
		}
	}
	return res, nil
}

func (g *Gateway) record(ctx context.Context, req Request, elapsed time.Duration, callErr error) {
	if g.audit == nil {
		return
	}
	rec := audit.TranscriptionLog{
		Endpoint:   req.Endpoint,
		ContentKey: req.CacheKey,
		Filename:   filepath.Base(req.Path),
		Backend:    g.rec.Name(),
		Format:     req.Format,
		DurationMS: elapsed.Milliseconds(),
		Status:     "ok",
	}
	if callErr != nil {
		rec.Status = "error"
		rec.Detail = callErr.Error()
	}
	// The request context may already be expired; give the insert its own.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.audit.LogTranscription(auditCtx, rec); err != nil {
		slog.Warn("audit insert failed", "error", err)
	}
}

func resultKey(contentKey string) string {
	return "transcription:" + contentKey
}
