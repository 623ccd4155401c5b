package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grantdesk/grantdesk/auth"
	"github.com/grantdesk/grantdesk/entity"
)

// StoredSession is the session a Client sends requests with. Exactly one of
// User and Client is set, depending on whether a staff account or a client
// signed in.
type StoredSession struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      *auth.UserModel `json:"user,omitempty"`
	Client    entity.Record   `json:"client,omitempty"`
}

// Expired returns whether the session can no longer be used at time now. A
// session with no expiry never expires.
func (s StoredSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionStore keeps the current session of a Client. Load reports false if
// there is no session or it has expired.
type SessionStore interface {
	Load() (StoredSession, bool, error)
	Save(StoredSession) error
	Clear() error
}

// MemorySessionStore keeps the session for the life of the process. The zero
// value is ready to use.
type MemorySessionStore struct {
	mtx  sync.Mutex
	sess *StoredSession

	// Now gives the current time. If nil, time.Now is used.
	Now func() time.Time
}

func (m *MemorySessionStore) Load() (StoredSession, bool, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.sess == nil {
		return StoredSession{}, false, nil
	}
	if m.sess.Expired(now(m.Now)) {
		m.sess = nil
		return StoredSession{}, false, nil
	}
	return *m.sess, true, nil
}

func (m *MemorySessionStore) Save(sess StoredSession) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.sess = &sess
	return nil
}

func (m *MemorySessionStore) Clear() error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.sess = nil
	return nil
}

// FileSessionStore keeps the session as JSON in a file so that it outlives
// the process. The file is readable only by its owner. An expired session is
// removed the next time it is loaded.
type FileSessionStore struct {
	// Path is the file the session is kept in.
	Path string

	// Now gives the current time. If nil, time.Now is used.
	Now func() time.Time

	mtx sync.Mutex
}

// NewFileSessionStore returns a FileSessionStore that keeps the session in
// the file at path.
func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{Path: path}
}

func (f *FileSessionStore) Load() (StoredSession, bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StoredSession{}, false, nil
		}
		return StoredSession{}, false, fmt.Errorf("read session file: %w", err)
	}

	var sess StoredSession
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&sess); err != nil {
		return StoredSession{}, false, fmt.Errorf("decode session file: %w", err)
	}
	if sess.Token == "" {
		return StoredSession{}, false, nil
	}

	if sess.Expired(now(f.Now)) {
		if err := f.removeFile(); err != nil {
			return StoredSession{}, false, err
		}
		return StoredSession{}, false, nil
	}
	if sess.Client != nil {
		sess.Client = entity.NormalizeRecord(sess.Client)
	}
	return sess, true, nil
}

// Save writes sess to the file, replacing any session already there. The
// directory of the file is created if needed.
func (f *FileSessionStore) Save(sess StoredSession) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	// write to a temp file first so a crash never leaves half a session
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (f *FileSessionStore) Clear() error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.removeFile()
}

func (f *FileSessionStore) removeFile() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func now(fn func() time.Time) time.Time {
	if fn == nil {
		return time.Now()
	}
	return fn()
}
