package transfer

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session tracks one in-flight chunked upload. The resume key is the session
// id; the uploaded set records chunk indices confirmed written to the blob
// store.
type Session struct {
	ID         string       `json:"id"`
	ObjectPath string       `json:"object_path"`
	ChunkSize  int64        `json:"chunk_size"`
	ChunkCount int          `json:"chunk_count"`
	TotalBytes int64        `json:"total_bytes"`
	Uploaded   map[int]bool `json:"uploaded"`
	CreatedAt  time.Time    `json:"created_at"`
}

// UploadedCount returns how many chunks are confirmed uploaded.
func (s *Session) UploadedCount() int {
	n := 0
	for _, ok := range s.Uploaded {
		if ok {
			n++
		}
	}
	return n
}

// SessionStore holds chunked-upload sessions. Sessions live in memory; when
// a snapshot path is set they also survive process restarts, which is what
// makes resume-after-crash possible.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	path     string
}

// NewSessionStore creates a session store. An empty path keeps sessions in
// memory only.
func NewSessionStore(path string) (*SessionStore, error) {
	s := &SessionStore{
		sessions: make(map[string]*Session),
		path:     path,
	}
	if path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Create registers a new session for an object of totalBytes split into
// chunkCount chunks.
func (s *SessionStore) Create(objectPath string, chunkSize, totalBytes int64, chunkCount int) *Session {
	session := &Session{
		ID:         uuid.New().String(),
		ObjectPath: objectPath,
		ChunkSize:  chunkSize,
		ChunkCount: chunkCount,
		TotalBytes: totalBytes,
		Uploaded:   make(map[int]bool),
		CreatedAt:  time.Now(),
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.persistLocked()
	s.mu.Unlock()
	return session
}

// Get returns a copy of the session, or nil if unknown.
func (s *SessionStore) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	cp := *session
	cp.Uploaded = make(map[int]bool, len(session.Uploaded))
	for k, v := range session.Uploaded {
		cp.Uploaded[k] = v
	}
	return &cp
}

// MarkUploaded records chunk index as confirmed and returns the new uploaded
// count.
func (s *SessionStore) MarkUploaded(id string, index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return 0
	}
	session.Uploaded[index] = true
	s.persistLocked()
	return session.UploadedCount()
}

// Delete discards a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	s.persistLocked()
}

func (s *SessionStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var sessions map[string]*Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		// A corrupt session file only costs resumability.
		return nil
	}
	for id, session := range sessions {
		if session.Uploaded == nil {
			session.Uploaded = make(map[int]bool)
		}
		s.sessions[id] = session
	}
	return nil
}

// persistLocked writes the snapshot when persistence is enabled. Caller holds
// s.mu. Write failures only cost resumability, so they are ignored.
func (s *SessionStore) persistLocked() {
	if s.path == "" {
		return
	}
	data, err := json.Marshal(s.sessions)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, s.path)
}
