package upload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const metaFile = "meta.json"

// Session is the explicit record for one file being assembled. It is backed
// by a meta.json file inside the staging directory, so it survives a process
// restart along with the chunks themselves.
type Session struct {
	DisplayName   string    `json:"display_name,omitempty"`
	ExpectedTotal int       `json:"expected_total,omitempty"` // 0 = never declared
	CreatedAt     time.Time `json:"created_at"`
}

// Meta loads the session record, or nil if none was ever written.
func (s *Store) Meta(key string) (*Session, error) {
	dir, err := s.sessionDir(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session meta: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session meta: %w", err)
	}
	return &sess, nil
}

// RecordMeta persists advisory session metadata. The first non-zero total
// declared for a session sticks; a later conflicting total is rejected with
// ErrInconsistentTotal. The display name is advisory and the first non-empty
// one wins.
func (s *Store) RecordMeta(key, displayName string, total int) error {
	dir, err := s.sessionDir(key)
	if err != nil {
		return err
	}

	sess, err := s.Meta(key)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = &Session{CreatedAt: time.Now().UTC()}
	}

	if total > 0 {
		if sess.ExpectedTotal == 0 {
			sess.ExpectedTotal = total
		} else if sess.ExpectedTotal != total {
			return fmt.Errorf("%w: declared %d, session has %d",
				ErrInconsistentTotal, total, sess.ExpectedTotal)
		}
	}
	if displayName != "" && sess.DisplayName == "" {
		sess.DisplayName = filepath.Base(displayName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session meta: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session meta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session meta: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, metaFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session meta: %w", err)
	}
	return nil
}
