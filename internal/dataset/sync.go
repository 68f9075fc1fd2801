package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"ncmcheck/internal"
	"ncmcheck/internal/config"
	"ncmcheck/internal/metrics"
	"ncmcheck/internal/ncm"
	"ncmcheck/internal/storage"
	"ncmcheck/internal/util"
)

const lastSyncKey = "registry.last_sync"

// Origin names where a dataset came from; it labels metrics and prefixes the
// snapshot source.
type Origin string

const (
	OriginFile     Origin = "file"
	OriginDownload Origin = "download"
	OriginUpload   Origin = "upload"
	OriginRestore  Origin = "restore"
)

type SyncService struct {
	// mu orders loads so the stored latest dataset and the published
	// snapshot always agree.
	mu sync.Mutex

	db      *storage.DB
	client  *Client
	store   *ncm.Store
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewSyncService wires the loader. db may be nil, in which case datasets are
// published without being stored.
func NewSyncService(db *storage.DB, cfg config.Config, store *ncm.Store, m *metrics.Metrics, log *zap.Logger) *SyncService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncService{
		db:      db,
		client:  NewClient(cfg, log),
		store:   store,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

func (s *SyncService) LoadFile(ctx context.Context, path string, format Format) (*ncm.Snapshot, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, blob, format, OriginFile, filepath.Base(path), true)
}

func (s *SyncService) LoadBlob(ctx context.Context, blob []byte, format Format, origin Origin) (*ncm.Snapshot, error) {
	return s.load(ctx, blob, format, origin, "", true)
}

func (s *SyncService) Download(ctx context.Context) (*ncm.Snapshot, error) {
	blob, err := s.client.Download(ctx)
	if err != nil {
		s.metrics.RegistryLoad(string(OriginDownload), err)
		return nil, err
	}
	return s.load(ctx, blob, FormatAuto, OriginDownload, s.client.url, true)
}

// Restore publishes the most recently stored dataset.
func (s *SyncService) Restore(ctx context.Context) (*ncm.Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("restore dataset: %w", storage.ErrNotFound)
	}
	row, err := s.db.LatestDataset()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, row.Blob, Format(row.Format), OriginRestore, row.Source, false)
}

// RefreshIfStale makes sure a registry is published and downloads a new one
// when the last sync is older than maxAge. A failed download leaves the
// current registry in place.
func (s *SyncService) RefreshIfStale(ctx context.Context, maxAge time.Duration) (bool, error) {
	if s.store.Current() == nil {
		if _, err := s.Restore(ctx); err != nil {
			s.log.Info("no stored dataset to restore", zap.Error(err))
		}
	}

	if s.store.Current() != nil && !s.stale(maxAge) {
		return false, nil
	}

	if _, err := s.Download(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SyncService) stale(maxAge time.Duration) bool {
	if s.db == nil || maxAge <= 0 {
		return false
	}
	last, err := s.db.GetMetadata(lastSyncKey)
	if err != nil || last == nil {
		return true
	}
	parsed, err := time.Parse(time.RFC3339, *last)
	if err != nil {
		return true
	}
	return s.now().Sub(parsed) >= maxAge
}

func (s *SyncService) load(ctx context.Context, blob []byte, format Format, origin Origin, name string, persist bool) (*ncm.Snapshot, error) {
	snap, err := s.publish(ctx, blob, format, origin, name, persist)
	s.metrics.RegistryLoad(string(origin), err)
	if err != nil {
		s.log.Error("registry load failed", zap.String("origin", string(origin)), zap.String("name", name), zap.Error(err))
		return nil, err
	}
	return snap, nil
}

func (s *SyncService) publish(ctx context.Context, blob []byte, format Format, origin Origin, name string, persist bool) (*ncm.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, used, err := Decode(blob, format)
	if err != nil {
		return nil, err
	}
	reg, err := ncm.Build(raw)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(blob)
	checksum := hex.EncodeToString(sum[:])
	source := string(origin)
	if name != "" {
		source += ":" + name
	}
	now := s.now().UTC()

	if persist && s.db != nil {
		row := internal.DatasetRow{
			Source:      source,
			Format:      string(used),
			Checksum:    checksum,
			RecordCount: reg.Len(),
			Blob:        blob,
		}
		if asOf, ok := reg.AsOf(); ok {
			row.AsOf = util.StringPtr(asOf.Format("2006-01-02"))
		}
		saved, created, err := s.db.SaveDataset(row)
		if err != nil {
			return nil, fmt.Errorf("store dataset: %w", err)
		}
		if !created {
			if err := s.db.TouchDataset(saved.ID); err != nil {
				return nil, err
			}
			s.log.Info("dataset unchanged, reusing stored copy", zap.Int("dataset_id", saved.ID))
		}
		if err := s.db.SetMetadata(lastSyncKey, now.Format(time.RFC3339)); err != nil {
			return nil, err
		}
	}

	snap := &ncm.Snapshot{Registry: reg, Source: source, Checksum: checksum, LoadedAt: now}
	s.store.Publish(snap)
	s.metrics.ObserveRegistry(reg)

	fields := []zap.Field{
		zap.String("source", source),
		zap.String("format", string(used)),
		zap.Int("records", reg.Len()),
		zap.String("checksum", checksum[:12]),
	}
	if asOf, ok := reg.AsOf(); ok {
		fields = append(fields, zap.Time("as_of", asOf))
	}
	s.log.Info("registry published", fields...)
	return snap, nil
}
