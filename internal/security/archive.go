package security

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"slowpress/internal/types"
)

// archiveBatchSize bounds how many audit entries one archival pass moves.
const archiveBatchSize = 1000

// ExpiredAuditStore is the retention surface of the audit repository.
type ExpiredAuditStore interface {
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*types.SecurityAuditEntry, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
}

// Archiver moves audit entries past their retention TTL out of the
// database into zstd-compressed JSON line files. Entries are deleted only
// after the archive file is durably written.
type Archiver struct {
	store  ExpiredAuditStore
	logger types.Logger
	ttl    time.Duration
	dir    string
	now    func() time.Time
}

// ArchiverConfig holds the dependencies for creating an Archiver.
type ArchiverConfig struct {
	Store  ExpiredAuditStore
	Logger types.Logger
	TTL    time.Duration
	Dir    string
	Now    func() time.Time
}

// NewArchiver creates an audit retention archiver.
func NewArchiver(cfg ArchiverConfig) *Archiver {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Archiver{
		store:  cfg.Store,
		logger: cfg.Logger,
		ttl:    cfg.TTL,
		dir:    cfg.Dir,
		now:    now,
	}
}

// Run performs one archival pass and returns how many entries it moved.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.ttl)
	total := 0

	for {
		entries, err := a.store.ListExpired(ctx, cutoff, archiveBatchSize)
		if err != nil {
			return total, err
		}
		if len(entries) == 0 {
			return total, nil
		}

		if err := a.writeArchive(entries); err != nil {
			return total, err
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if _, err := a.store.DeleteByIDs(ctx, ids); err != nil {
			return total, err
		}

		total += len(entries)
		a.logger.Info("audit entries archived", "count", len(entries), "cutoff", cutoff.Format(time.RFC3339))

		if len(entries) < archiveBatchSize {
			return total, nil
		}
	}
}

// writeArchive renders one batch as zstd-compressed JSON lines. The file is
// written to a temp name and renamed so a crash never leaves a readable
// half-archive.
func (a *Archiver) writeArchive(entries []*types.SecurityAuditEntry) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return err
	}

	name := fmt.Sprintf("audit-%s.jsonl.zst", a.now().Format("20060102T150405.000000000"))
	finalPath := filepath.Join(a.dir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}

	enc := json.NewEncoder(zw)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			zw.Close()
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, finalPath)
}
