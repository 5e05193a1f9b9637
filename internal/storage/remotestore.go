package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// RemoteStore is the narrow capability the uploader needs from the object
// storage backend (spec §1, "out of scope... specified only by the
// interface the core consumes"). No cloud SDK (S3, GCS, Azure blob) is
// exercised anywhere in the retrieved pack, so indexcore implements the one
// concrete variant it can ground honestly: a second on-disk directory,
// standing in for "remote" the same way a RAM- or disk-backed fake stands
// in for object storage in the original's own test suite.
type RemoteStore interface {
	Put(ctx context.Context, splitID string, localPath string) error
	Get(ctx context.Context, splitID string, destPath string) error
	Delete(ctx context.Context, splitID string) error
}

// DiskRemoteStore implements RemoteStore as a plain directory of files,
// copied with io.Copy the same unadorned way the teacher's own cache
// package reads and writes its gob files directly through os.Open/os.Create.
type DiskRemoteStore struct {
	dir string
}

func NewDiskRemoteStore(dir string) (*DiskRemoteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("remotestore: create dir %s: %w", dir, err)
	}
	return &DiskRemoteStore{dir: dir}, nil
}

func (s *DiskRemoteStore) path(splitID string) string {
	return filepath.Join(s.dir, splitID+".split")
}

func (s *DiskRemoteStore) Put(_ context.Context, splitID string, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("remotestore: open %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := os.Create(s.path(splitID))
	if err != nil {
		return fmt.Errorf("remotestore: create %s: %w", splitID, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("remotestore: copy %s: %w", splitID, err)
	}
	return nil
}

func (s *DiskRemoteStore) Get(_ context.Context, splitID string, destPath string) error {
	src, err := os.Open(s.path(splitID))
	if err != nil {
		return fmt.Errorf("remotestore: open %s: %w", splitID, err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("remotestore: create %s: %w", destPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("remotestore: copy %s: %w", splitID, err)
	}
	return nil
}

func (s *DiskRemoteStore) Delete(_ context.Context, splitID string) error {
	if err := os.Remove(s.path(splitID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remotestore: delete %s: %w", splitID, err)
	}
	return nil
}

var _ RemoteStore = (*DiskRemoteStore)(nil)
