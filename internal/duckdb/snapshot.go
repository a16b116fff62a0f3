package duckdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrInMemoryStore indicates the store uses an in-memory DB and cannot be snapshotted.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	return s.dbPath
}

// SnapshotTo checkpoints the database and copies its file to dstPath. The
// checkpoint runs under the write lock; the copy does not.
func (s *Store) SnapshotTo(ctx context.Context, dstPath string) error {
	if s.dbPath == "" {
		return ErrInMemoryStore
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("duckdb: create snapshot dir: %w", err)
	}

	qctx, cancel := s.queryCtx(ctx)
	s.mu.Lock()
	_, err := s.db.ExecContext(qctx, "CHECKPOINT")
	s.mu.Unlock()
	cancel()
	if err != nil {
		return fmt.Errorf("duckdb: checkpoint: %w", err)
	}

	if err := copyFile(ctx, s.dbPath, dstPath); err != nil {
		return fmt.Errorf("duckdb: copy database file: %w", err)
	}
	return nil
}

// copyFile writes srcPath to a temporary file next to dstPath and renames it
// into place once synced.
func copyFile(ctx context.Context, srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := dst.Sync(); err != nil {
		return fail(err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstPath)
}
