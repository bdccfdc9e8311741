package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Assembler accepts chunks and performs the ordered merge for a session.
// A per-key mutex is held across accept and merge, so a merge never observes
// a half-accepted chunk set for its own key while sessions for other keys
// proceed in parallel. Locks are refcounted and dropped from the map once
// the last holder releases, so idle sessions cost nothing.
type Assembler struct {
	store *Store
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func NewAssembler(store *Store) *Assembler {
	return &Assembler{store: store, locks: make(map[string]*keyLock)}
}

func (a *Assembler) lock(key string) *keyLock {
	a.mu.Lock()
	l := a.locks[key]
	if l == nil {
		l = &keyLock{}
		a.locks[key] = l
	}
	l.refs++
	a.mu.Unlock()
	l.Lock()
	return l
}

func (a *Assembler) unlock(key string, l *keyLock) {
	l.Unlock()
	a.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(a.locks, key)
	}
	a.mu.Unlock()
}

type AcceptResult struct {
	ChunkIndex     int
	BytesWritten   int64
	SessionCreated bool
}

// AcceptChunk validates and stores one chunk. total <= 0 means the client
// did not declare a total on this call; the first positive total seen for a
// session is persisted, and a later conflicting one fails with
// ErrInconsistentTotal before any bytes are written.
func (a *Assembler) AcceptChunk(key string, index, total int, displayName string, data io.Reader) (*AcceptResult, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}

	l := a.lock(key)
	defer a.unlock(key, l)

	if err := a.store.RecordMeta(key, displayName, total); err != nil {
		return nil, err
	}
	n, created, err := a.store.Put(key, index, data)
	if err != nil {
		return nil, err
	}
	return &AcceptResult{ChunkIndex: index, BytesWritten: n, SessionCreated: created}, nil
}

type MergeResult struct {
	Path   string
	Name   string
	Chunks int
	Bytes  int64
}

// Merge concatenates the session's chunks in ascending numeric index order
// into a single artifact inside the staging directory. If the session ever
// declared a total chunk count, the merge requires exactly that many chunks;
// otherwise it proceeds with whatever has arrived. The chunk files remain
// until Cleanup is called.
func (a *Assembler) Merge(key, outputName string) (*MergeResult, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	l := a.lock(key)
	defer a.unlock(key, l)

	indices, err := a.store.List(key)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoChunks, key)
	}

	sess, err := a.store.Meta(key)
	if err != nil {
		return nil, err
	}
	if sess != nil && sess.ExpectedTotal > 0 && len(indices) != sess.ExpectedTotal {
		return nil, fmt.Errorf("%w: have %d of %d chunks", ErrIncompleteUpload, len(indices), sess.ExpectedTotal)
	}

	name := sanitizeOutputName(outputName, sess, key)
	dir, err := a.store.SessionDir(key)
	if err != nil {
		return nil, err
	}
	outPath := filepath.Join(dir, name)

	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create merged artifact: %w", err)
	}

	var total int64
	for _, idx := range indices {
		p, err := a.store.ChunkPath(key, idx)
		if err != nil {
			out.Close()
			os.Remove(outPath)
			return nil, err
		}
		in, err := os.Open(p)
		if err != nil {
			out.Close()
			os.Remove(outPath)
			return nil, fmt.Errorf("open chunk %d: %w", idx, err)
		}
		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(outPath)
			return nil, fmt.Errorf("append chunk %d: %w", idx, err)
		}
		total += n
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return nil, fmt.Errorf("sync merged artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close merged artifact: %w", err)
	}

	return &MergeResult{Path: outPath, Name: name, Chunks: len(indices), Bytes: total}, nil
}

// Cleanup deletes the session's chunks, metadata and any merged artifact.
// CleanupError is returned when some paths could not be removed; callers
// whose primary work already succeeded log it instead of failing.
func (a *Assembler) Cleanup(key string) error {
	l := a.lock(key)
	defer a.unlock(key, l)
	return a.store.Cleanup(key)
}

// The artifact shares a directory with the chunk files, so its name must
// never collide with the chunk_ namespace or the session record.
func sanitizeOutputName(name string, sess *Session, key string) string {
	if name == "" && sess != nil {
		name = sess.DisplayName
	}
	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = key
	}
	if strings.HasPrefix(name, chunkPrefix) || name == metaFile || strings.HasPrefix(name, ".") {
		name = "merged_" + strings.TrimPrefix(name, ".")
	}
	return name
}
