package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store is the attachment blob collaborator: persist bytes, get back an
// opaque storage path; remove a path when an append fails after the blob
// already landed (the upload handler's compensating action).
type Store interface {
	Save(r io.Reader, originalName string) (path string, err error)
	Remove(path string) error
}

// LocalStore keeps attachments on the local filesystem under a single
// directory. Filenames are storage-generated (uuid plus the original
// extension) so concurrent uploads of "report.pdf" never collide; the
// original name lives in the message row, not the filesystem.
type LocalStore struct {
	dir          string
	publicPrefix string
}

// NewLocalStore ensures the directory exists and returns the store.
// publicPrefix is the URL prefix under which the files are served
// (e.g. "/uploads").
func NewLocalStore(dir, publicPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, publicPrefix: publicPrefix}, nil
}

func (s *LocalStore) Save(r io.Reader, originalName string) (string, error) {
	name := uuid.NewString() + filepath.Ext(originalName)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create blob file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		// Don't leave a truncated blob behind.
		_ = os.Remove(path)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close blob: %w", err)
	}

	return path, nil
}

func (s *LocalStore) Remove(path string) error {
	// Remove only ever deletes inside the store's own directory.
	if filepath.Dir(filepath.Clean(path)) != filepath.Clean(s.dir) {
		return fmt.Errorf("blob path %q is outside the store", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// PublicPath maps a storage path to the client-facing relative URL.
func (s *LocalStore) PublicPath(path string) string {
	return s.publicPrefix + "/" + filepath.Base(path)
}

// Dir exposes the storage directory so main can mount it as a static route.
func (s *LocalStore) Dir() string {
	return s.dir
}
