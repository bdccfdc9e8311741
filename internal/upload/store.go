package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	chunkPrefix = "chunk_"
	// Zero-padding keeps a lexicographic directory listing in numeric order
	// for indices below one million. The assembler still re-sorts by parsed
	// integer, so larger indices stay correct.
	indexWidth = 6
)

// Store is the durable staging area for chunked uploads. Each session lives
// in its own directory under <root>/chunks/<contentKey>, one file per chunk.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// ValidateKey rejects content keys that are empty or unsafe as a filesystem
// path component. Checked before any path is constructed.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func (s *Store) sessionDir(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, "chunks", key), nil
}

// SessionDir returns the staging directory for a key without creating it.
func (s *Store) SessionDir(key string) (string, error) {
	return s.sessionDir(key)
}

func chunkName(index int) string {
	return fmt.Sprintf("%s%0*d", chunkPrefix, indexWidth, index)
}

// Put durably stores one chunk, creating the staging area on first write.
// An existing chunk at the same index is overwritten (last write wins, so
// client retries are idempotent). Returns the byte count and whether this
// write created the session.
func (s *Store) Put(key string, index int, data io.Reader) (written int64, created bool, err error) {
	if index < 0 {
		return 0, false, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	dir, err := s.sessionDir(key)
	if err != nil {
		return 0, false, err
	}

	if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
		created = true
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, false, fmt.Errorf("create staging dir: %w", err)
	}

	// Write to a scratch file and rename into place so a concurrent merge
	// never reads a half-written chunk.
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return 0, false, fmt.Errorf("create chunk file: %w", err)
	}
	written, err = io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, false, fmt.Errorf("write chunk %d: %w", index, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, false, fmt.Errorf("sync chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, false, fmt.Errorf("close chunk %d: %w", index, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, chunkName(index))); err != nil {
		os.Remove(tmp.Name())
		return 0, false, fmt.Errorf("store chunk %d: %w", index, err)
	}
	return written, created, nil
}

// List returns the chunk indices present for a session in ascending numeric
// order. Entries are parsed, not trusted lexicographically, so indices past
// the padding width still sort correctly.
func (s *Store) List(key string) ([]int, error) {
	dir, err := s.sessionDir(key)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
		}
		return nil, fmt.Errorf("list session %s: %w", key, err)
	}

	seen := make(map[int]bool, len(entries))
	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, chunkPrefix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, chunkPrefix))
		if err != nil || seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// ChunkPath returns the path of one stored chunk.
func (s *Store) ChunkPath(key string, index int) (string, error) {
	dir, err := s.sessionDir(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, chunkName(index)), nil
}

// LastActivity reports the most recent modification time across the
// session's files. Used by the stale-session sweep.
func (s *Store) LastActivity(key string) (time.Time, error) {
	dir, err := s.sessionDir(key)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
		}
		return time.Time{}, fmt.Errorf("stat session %s: %w", key, err)
	}
	last := info.ModTime()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return last, nil
	}
	for _, e := range entries {
		fi, err := e.Info()
		if err == nil && fi.ModTime().After(last) {
			last = fi.ModTime()
		}
	}
	return last, nil
}

// Cleanup removes every file in the staging area and the area itself.
// Idempotent: an absent session is a successful no-op. A locked or
// unremovable file does not abort the rest; the survivors are reported via
// CleanupError so the failure is not lost.
func (s *Store) Cleanup(key string) error {
	dir, err := s.sessionDir(key)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cleanup session %s: %w", key, err)
	}

	var failed []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			failed = append(failed, p)
		}
	}
	if len(failed) == 0 {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			failed = append(failed, dir)
		}
	}
	if len(failed) > 0 {
		return &CleanupError{ContentKey: key, Failed: failed}
	}
	return nil
}
