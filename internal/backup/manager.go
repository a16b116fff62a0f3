// Package backup snapshots the event store on a schedule and ships the
// snapshots to object storage.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultInterval = 6 * time.Hour
	defaultKeepLast = 24
	filePrefix      = "ferry-"
	fileSuffix      = ".duckdb"
)

// Config controls periodic snapshots.
type Config struct {
	Interval time.Duration
	LocalDir string
	// KeepLast is the number of local snapshots retained after each run.
	KeepLast int
}

// Snapshotter writes a consistent copy of the event store.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(ctx context.Context, dstPath string) error
}

// Uploader ships one snapshot file.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}

// Manager runs periodic local snapshots and optional uploads.
type Manager struct {
	store    Snapshotter
	uploader Uploader
	cfg      Config
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewManager validates cfg, takes a startup snapshot and starts the loop.
// uploader may be nil to keep snapshots local only.
func NewManager(store Snapshotter, uploader Uploader, cfg Config) (*Manager, error) {
	m, err := newManager(store, uploader, cfg)
	if err != nil {
		return nil, err
	}

	// Startup snapshot to reduce recovery point after restarts.
	if err := m.RunOnce(m.ctx); err != nil {
		log.Printf("backup: startup snapshot failed: %v", err)
	}

	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func newManager(store Snapshotter, uploader Uploader, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, errors.New("backup: db-path is empty (in-memory store)")
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, errors.New("backup: local-dir is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create local-dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		uploader: uploader,
		cfg:      cfg,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.RunOnce(m.ctx); err != nil && m.ctx.Err() == nil {
				log.Printf("backup: periodic snapshot failed: %v", err)
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// RunOnce creates one local snapshot, uploads it when configured and prunes
// old local copies.
func (m *Manager) RunOnce(ctx context.Context) error {
	name := filePrefix + m.now().UTC().Format("20060102-150405.000") + fileSuffix
	localPath := filepath.Join(m.cfg.LocalDir, name)

	if err := m.store.SnapshotTo(ctx, localPath); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	log.Printf("backup: created snapshot %s", localPath)

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, localPath); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		log.Printf("backup: uploaded snapshot %s", name)
	}

	if err := pruneLocalBackups(m.cfg.LocalDir, m.cfg.KeepLast); err != nil {
		return fmt.Errorf("prune local backups: %w", err)
	}
	return nil
}

// Stop cancels an in-flight run and terminates the loop.
func (m *Manager) Stop() {
	m.once.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}

func pruneLocalBackups(localDir string, keepLast int) error {
	matches, err := filepath.Glob(filepath.Join(localDir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	// The timestamp in the name sorts lexically in chronological order.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	for _, oldPath := range matches[keepLast:] {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
