// Package blob stores frame images for the lifetime of a session.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/user/checkmate/internal/types"
)

var _ types.BlobStore = (*FileStore)(nil)

// FileStore keeps frame images as individual files under
// sessions/<sessionID>/frames/<id>. Refs are "<sessionID>/<id>".
type FileStore struct {
	root string
}

// NewFileStore creates a file-backed blob store rooted at the given directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) framesDir(sessionID types.SessionID) string {
	return filepath.Join(s.root, "sessions", string(sessionID), "frames")
}

// Upload stores image bytes and returns a ref that is stable for the
// session's lifetime.
func (s *FileStore) Upload(_ context.Context, data []byte, sessionID types.SessionID) (string, error) {
	id := uuid.NewString()

	dir := s.framesDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create frames dir: %w", err)
	}

	// Atomic write via temp file + rename
	target := filepath.Join(dir, id)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write temp frame: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename temp frame: %w", err)
	}

	return string(sessionID) + "/" + id, nil
}

// URL resolves a ref to a fetchable location.
func (s *FileStore) URL(ref string) (string, error) {
	sessionID, id, ok := strings.Cut(ref, "/")
	if !ok {
		return "", fmt.Errorf("malformed blob ref: %s", ref)
	}
	path := filepath.Join(s.framesDir(types.SessionID(sessionID)), id)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("blob not found: %s", ref)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve blob path: %w", err)
	}
	return "file://" + abs, nil
}

// DeleteSession removes every frame stored for the session.
func (s *FileStore) DeleteSession(sessionID types.SessionID) error {
	return os.RemoveAll(filepath.Join(s.root, "sessions", string(sessionID)))
}
