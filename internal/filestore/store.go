// Package filestore implements the File Store and File Cacher (spec.md
// §4.B): content-addressed (SHA-1) blob storage on disk, a chunked
// transfer protocol over internal/rpc, and a per-process caching client.
package filestore

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cms-dev/cms/internal/domain"
)

// ChunkSize is the unit the File Cacher streams files in, matching the
// source's FileCacher.CHUNK_SIZE (2**20 bytes).
const ChunkSize = 1 << 20

// Store is the on-disk, content-addressed backing store for one shard of
// the File Store service. Digests are lowercase hex SHA-1, validated
// before ever being joined onto a filesystem path.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir, creating the objects/ and
// descriptions/ subdirectories if absent.
func NewStore(dir string) (*Store, error) {
	for _, sub := range []string{"objects", "descriptions", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("op=filestore.new: %w: %v", domain.ErrInternal, err)
		}
	}
	return &Store{root: dir}, nil
}

func validateDigest(digest string) error {
	if len(digest) != sha1.Size*2 {
		return fmt.Errorf("op=filestore.digest: %w: wrong length", domain.ErrInvalidArgument)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("op=filestore.digest: %w: not hex: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func (s *Store) objectPath(digest string) string {
	return filepath.Join(s.root, "objects", digest)
}

func (s *Store) descPath(digest string) string {
	return filepath.Join(s.root, "descriptions", digest)
}

// PutFile writes content, computing its SHA-1 digest itself (the source
// trusts the sender's claimed digest only after recomputing it). The
// write lands in a temp file first and is renamed into place only once
// fully flushed, so a reader never observes a partial object.
func (s *Store) PutFile(ctx domain.Context, content []byte, description string) (string, error) {
	h := sha1.New()
	if _, err := h.Write(content); err != nil {
		return "", fmt.Errorf("op=filestore.put: %w: %v", domain.ErrInternal, err)
	}
	digest := hex.EncodeToString(h.Sum(nil))

	if present, _ := s.IsFilePresent(ctx, digest); present {
		return digest, nil
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "put-*")
	if err != nil {
		return "", fmt.Errorf("op=filestore.put: %w: %v", domain.ErrInternal, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("op=filestore.put: %w: %v", domain.ErrInternal, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("op=filestore.put: %w: %v", domain.ErrInternal, err)
	}
	if err := os.Rename(tmpName, s.objectPath(digest)); err != nil {
		return "", fmt.Errorf("op=filestore.put: %w: %v", domain.ErrInternal, err)
	}
	if err := os.WriteFile(s.descPath(digest), []byte(description), 0o644); err != nil {
		return "", fmt.Errorf("op=filestore.put.describe: %w: %v", domain.ErrInternal, err)
	}
	return digest, nil
}

// GetFile returns the byte range [start, start+chunkSize) of digest's
// object; chunkSize<=0 reads to end-of-file, matching the source's
// get_file(start=0, size=None) default.
func (s *Store) GetFile(ctx domain.Context, digest string, start int64, chunkSize int64) ([]byte, error) {
	if err := validateDigest(digest); err != nil {
		return nil, err
	}
	f, err := os.Open(s.objectPath(digest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("op=filestore.get: %w: %s", domain.ErrNotFound, digest)
		}
		return nil, fmt.Errorf("op=filestore.get: %w: %v", domain.ErrInternal, err)
	}
	defer f.Close()

	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return nil, fmt.Errorf("op=filestore.get.seek: %w: %v", domain.ErrInternal, err)
		}
	}
	if chunkSize <= 0 {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("op=filestore.get.read: %w: %v", domain.ErrInternal, err)
		}
		return data, nil
	}
	buf := make([]byte, chunkSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("op=filestore.get.read: %w: %v", domain.ErrInternal, err)
	}
	return buf[:n], nil
}

// Delete removes digest's object and description, reporting whether it
// was present.
func (s *Store) Delete(ctx domain.Context, digest string) (bool, error) {
	if err := validateDigest(digest); err != nil {
		return false, err
	}
	err := os.Remove(s.objectPath(digest))
	present := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("op=filestore.delete: %w: %v", domain.ErrInternal, err)
	}
	_ = os.Remove(s.descPath(digest))
	return present, nil
}

// IsFilePresent reports whether digest's object exists without reading it.
func (s *Store) IsFilePresent(ctx domain.Context, digest string) (bool, error) {
	if err := validateDigest(digest); err != nil {
		return false, err
	}
	_, err := os.Stat(s.objectPath(digest))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("op=filestore.stat: %w: %v", domain.ErrInternal, err)
}

// Describe returns the human-readable description stored alongside digest.
func (s *Store) Describe(ctx domain.Context, digest string) (string, error) {
	if err := validateDigest(digest); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.descPath(digest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("op=filestore.describe: %w: %s", domain.ErrNotFound, digest)
		}
		return "", fmt.Errorf("op=filestore.describe: %w: %v", domain.ErrInternal, err)
	}
	return string(data), nil
}

var _ domain.FileStore = (*Store)(nil)
