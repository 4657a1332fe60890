package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cms-dev/cms/internal/domain"
)

// Cacher is the File Cacher (spec.md §4.B client side): a thin
// write-through cache in front of a domain.FileStore, rooted at
// <cacheRoot>/fs-cache-<service>-<shard>/objects/<digest>, matching the
// source's per-process cache directory naming.
type Cacher struct {
	backend domain.FileStore
	dir     string
}

// NewCacher returns a Cacher backed by store, caching under
// <cacheRoot>/fs-cache-<coord.Name>-<coord.Shard>/objects/.
func NewCacher(store domain.FileStore, cacheRoot string, coord domain.ServiceCoord) (*Cacher, error) {
	dir := filepath.Join(cacheRoot, fmt.Sprintf("fs-cache-%s-%d", coord.Name, coord.Shard), "objects")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("op=filestore.cacher.new: %w: %v", domain.ErrInternal, err)
	}
	return &Cacher{backend: store, dir: dir}, nil
}

func (c *Cacher) cachePath(digest string) string {
	return filepath.Join(c.dir, digest)
}

// GetFile returns digest's full content, fetching from the backend and
// populating the local cache on a miss.
func (c *Cacher) GetFile(ctx domain.Context, digest string) ([]byte, error) {
	if err := validateDigest(digest); err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(c.cachePath(digest)); err == nil {
		return data, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("op=filestore.cacher.get: %w: %v", domain.ErrInternal, err)
	}

	data, err := c.backend.GetFile(ctx, digest, 0, -1)
	if err != nil {
		return nil, err
	}
	if err := c.populate(digest, data); err != nil {
		return nil, err
	}
	return data, nil
}

// GetFileToPath fetches digest and writes it to destPath, hardlinking
// the cached copy where possible and writing the bytes otherwise. The
// whole content is read into memory (via GetFile) in either case.
func (c *Cacher) GetFileToPath(ctx domain.Context, digest, destPath string) error {
	data, err := c.GetFile(ctx, digest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("op=filestore.cacher.get_to_path: %w: %v", domain.ErrInternal, err)
	}
	cp := c.cachePath(digest)
	if err := os.Link(cp, destPath); err == nil {
		return nil
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return fmt.Errorf("op=filestore.cacher.get_to_path: %w: %v", domain.ErrInternal, err)
	}
	return nil
}

func (c *Cacher) populate(digest string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, "get-*")
	if err != nil {
		return fmt.Errorf("op=filestore.cacher.populate: %w: %v", domain.ErrInternal, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("op=filestore.cacher.populate: %w: %v", domain.ErrInternal, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("op=filestore.cacher.populate: %w: %v", domain.ErrInternal, err)
	}
	if err := os.Rename(tmpName, c.cachePath(digest)); err != nil {
		return fmt.Errorf("op=filestore.cacher.populate: %w: %v", domain.ErrInternal, err)
	}
	return nil
}

// PutFile writes through to the backend, then warms the local cache so a
// subsequent GetFile by the same process is a disk hit.
func (c *Cacher) PutFile(ctx domain.Context, content []byte, description string) (string, error) {
	digest, err := c.backend.PutFile(ctx, content, description)
	if err != nil {
		return "", err
	}
	if err := c.populate(digest, content); err != nil {
		return "", err
	}
	return digest, nil
}

// Delete removes digest from both the backend and the local cache.
func (c *Cacher) Delete(ctx domain.Context, digest string) error {
	if _, err := c.backend.Delete(ctx, digest); err != nil {
		return err
	}
	if err := os.Remove(c.cachePath(digest)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("op=filestore.cacher.delete: %w: %v", domain.ErrInternal, err)
	}
	return nil
}

// Describe proxies straight to the backend; descriptions aren't cached
// locally since they're small and rarely re-read.
func (c *Cacher) Describe(ctx domain.Context, digest string) (string, error) {
	return c.backend.Describe(ctx, digest)
}

var _ domain.Cacher = (*Cacher)(nil)
