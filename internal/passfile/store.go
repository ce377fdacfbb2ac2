// Package passfile builds .pkpass archives and keeps them in a blob store.
package passfile

import (
	"os"
	"path"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ErrMissing is returned by Get when no blob exists at the path.
var ErrMissing = errors.New("passfile: blob missing")

// BlobStore keeps generated pass files on an afero filesystem. Paths are
// slash separated and relative to the store root.
type BlobStore struct {
	fs afero.Fs
}

// NewBlobStore wraps fs. Tests pass afero.NewMemMapFs().
func NewBlobStore(fs afero.Fs) *BlobStore { return &BlobStore{fs: fs} }

// NewDiskStore returns a store rooted at dir on the local disk.
func NewDiskStore(dir string) *BlobStore {
	return NewBlobStore(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// PathFor is the blob path of a pass's generated file.
func PathFor(passID uint64) string {
	return path.Join("passes", strconv.FormatUint(passID, 10)+".pkpass")
}

// Put writes data at p, creating parent directories.
func (s *BlobStore) Put(p string, data []byte) error {
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", path.Dir(p))
	}
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", p)
	}
	return nil
}

// Get reads the blob at p.
func (s *BlobStore) Get(p string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, p)
	if os.IsNotExist(err) {
		return nil, ErrMissing
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", p)
	}
	return data, nil
}

// Delete removes the blob at p. A missing blob is not an error.
func (s *BlobStore) Delete(p string) error {
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", p)
	}
	return nil
}
