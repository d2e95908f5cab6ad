// Package cache implements the content-addressed asset cache. Blobs are
// stored once per SHA-256 digest under a two-character shard directory, with
// database-backed reference counting and a two-phase mark-and-sweep garbage
// collector.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
	"github.com/shelfarr/shelfarr/internal/storage"
)

// Common errors returned by the store.
var (
	ErrBlobNotFound  = errors.New("blob not found in cache")
	ErrBlobCorrupted = errors.New("blob content does not match its hash")
	ErrBlobTooLarge  = errors.New("blob exceeds maximum asset size")
)

// Store manages content-addressed blobs on disk together with their
// database entries.
type Store struct {
	sandbox *storage.Sandbox
	entries repository.CacheEntryRepository
	logger  *slog.Logger

	maxAssetSize int64
	gracePeriod  time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMaxAssetSize caps the size of blobs accepted by Put. Zero disables
// the cap.
func WithMaxAssetSize(size int64) Option {
	return func(s *Store) {
		s.maxAssetSize = size
	}
}

// WithGracePeriod sets how long an orphaned blob survives before the sweep
// phase may delete it.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Store) {
		s.gracePeriod = d
	}
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string, entries repository.CacheEntryRepository, opts ...Option) (*Store, error) {
	sandbox, err := storage.NewSandbox(baseDir)
	if err != nil {
		return nil, fmt.Errorf("creating cache sandbox: %w", err)
	}

	s := &Store{
		sandbox:     sandbox,
		entries:     entries,
		logger:      slog.Default(),
		gracePeriod: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// blobPath returns the sharded relative path for a content hash.
func blobPath(contentHash string) string {
	return filepath.Join(contentHash[:2], contentHash)
}

// PutResult describes the outcome of storing a blob.
type PutResult struct {
	ContentHash  string
	SizeBytes    int64
	MimeType     string
	Deduplicated bool
}

// Put stores a blob in the cache. The content is hashed while streaming to a
// temporary file; if a blob with the same hash already exists the temporary
// copy is discarded and the existing entry is reused. Put does not attach:
// the caller attaches once it has recorded who references the blob.
func (s *Store) Put(ctx context.Context, r io.Reader, assetType models.AssetType) (*PutResult, error) {
	if s.maxAssetSize > 0 {
		r = io.LimitReader(r, s.maxAssetSize+1)
	}

	hasher := sha256.New()
	var head bytes512
	tee := io.TeeReader(io.TeeReader(r, hasher), &head)

	tmpName := filepath.Join("tmp", fmt.Sprintf("put-%d", time.Now().UnixNano()))
	written, err := s.sandbox.AtomicWriteReader(tmpName, tee)
	if err != nil {
		return nil, fmt.Errorf("staging blob: %w", err)
	}
	defer s.sandbox.Remove(tmpName)

	if s.maxAssetSize > 0 && written > s.maxAssetSize {
		return nil, ErrBlobTooLarge
	}

	contentHash := hex.EncodeToString(hasher.Sum(nil))
	relPath := blobPath(contentHash)
	mimeType := http.DetectContentType(head.buf[:head.n])

	existing, err := s.entries.GetByHash(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.entries.Touch(ctx, contentHash); err != nil {
			return nil, err
		}
		s.logger.Debug("blob deduplicated",
			slog.String("content_hash", contentHash),
			slog.Int64("size_bytes", existing.SizeBytes),
		)
		return &PutResult{
			ContentHash:  contentHash,
			SizeBytes:    existing.SizeBytes,
			MimeType:     existing.MimeType,
			Deduplicated: true,
		}, nil
	}

	src, err := s.sandbox.Open(tmpName)
	if err != nil {
		return nil, fmt.Errorf("reopening staged blob: %w", err)
	}
	_, copyErr := s.sandbox.AtomicWriteReader(relPath, src)
	src.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("storing blob: %w", copyErr)
	}

	entry := &models.CacheEntry{
		ContentHash:  contentHash,
		RelativePath: relPath,
		SizeBytes:    written,
		MimeType:     mimeType,
		AssetType:    assetType,
		LastUsedAt:   models.Now(),
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		// A concurrent Put for the same hash can win the create; fall back
		// to the winner's entry
		if winner, getErr := s.entries.GetByHash(ctx, contentHash); getErr == nil && winner != nil {
			return &PutResult{
				ContentHash:  contentHash,
				SizeBytes:    winner.SizeBytes,
				MimeType:     winner.MimeType,
				Deduplicated: true,
			}, nil
		}
		return nil, err
	}

	s.logger.Debug("blob stored",
		slog.String("content_hash", contentHash),
		slog.Int64("size_bytes", written),
		slog.String("mime_type", mimeType),
	)

	return &PutResult{
		ContentHash: contentHash,
		SizeBytes:   written,
		MimeType:    mimeType,
	}, nil
}

// Attach records one reference to a blob. The referrer is logged so orphan
// audits can be traced back to the candidate that held the reference.
func (s *Store) Attach(ctx context.Context, contentHash string, referrer string) error {
	ok, err := s.entries.Attach(ctx, contentHash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, contentHash)
	}

	s.logger.Debug("blob attached",
		slog.String("content_hash", contentHash),
		slog.String("referrer", referrer),
	)
	return nil
}

// Detach releases one reference to a blob. Detaching an unknown or already
// unreferenced blob is logged and ignored so rollback paths can detach
// unconditionally.
func (s *Store) Detach(ctx context.Context, contentHash string, referrer string) error {
	ok, err := s.entries.Detach(ctx, contentHash)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("detach on unreferenced blob",
			slog.String("content_hash", contentHash),
			slog.String("referrer", referrer),
		)
		return nil
	}

	s.logger.Debug("blob detached",
		slog.String("content_hash", contentHash),
		slog.String("referrer", referrer),
	)
	return nil
}

// Resolve opens a blob for reading and verifies its size against the entry.
// A missing file for a live entry is reported as corruption.
func (s *Store) Resolve(ctx context.Context, contentHash string) (io.ReadCloser, *models.CacheEntry, error) {
	entry, err := s.entries.GetByHash(ctx, contentHash)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrBlobNotFound, contentHash)
	}

	info, err := s.sandbox.Stat(entry.RelativePath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrBlobCorrupted, contentHash, err)
	}
	if info.Size() != entry.SizeBytes {
		return nil, nil, fmt.Errorf("%w: %s: size %d, expected %d",
			ErrBlobCorrupted, contentHash, info.Size(), entry.SizeBytes)
	}

	f, err := s.sandbox.Open(entry.RelativePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening blob: %w", err)
	}

	if err := s.entries.Touch(ctx, contentHash); err != nil {
		f.Close()
		return nil, nil, err
	}

	return f, entry, nil
}

// BlobPath returns the absolute path of a blob for direct filesystem copies.
func (s *Store) BlobPath(entry *models.CacheEntry) (string, error) {
	return s.sandbox.ResolvePath(entry.RelativePath)
}

// Verify re-reads a blob and checks its content against the hash.
func (s *Store) Verify(ctx context.Context, contentHash string) error {
	entry, err := s.entries.GetByHash(ctx, contentHash)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, contentHash)
	}

	f, err := s.sandbox.Open(entry.RelativePath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBlobCorrupted, contentHash, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return fmt.Errorf("reading blob: %w", err)
	}

	if actual := hex.EncodeToString(hasher.Sum(nil)); actual != contentHash {
		return fmt.Errorf("%w: %s: content hashes to %s", ErrBlobCorrupted, contentHash, actual)
	}
	return nil
}

// GCResult summarizes one garbage collection run.
type GCResult struct {
	Marked     int64 `json:"marked"`
	Swept      int   `json:"swept"`
	Rescued    int   `json:"rescued"`
	BytesFreed int64 `json:"bytes_freed"`
}

// GC runs one mark-and-sweep pass. The mark phase stamps unreferenced
// entries; the sweep phase deletes entries that have stayed unreferenced
// past the grace period. Entries re-attached between phases are rescued by
// the guarded delete.
func (s *Store) GC(ctx context.Context) (*GCResult, error) {
	result := &GCResult{}

	marked, err := s.entries.MarkOrphans(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("mark phase: %w", err)
	}
	result.Marked = marked

	cutoff := time.Now().Add(-s.gracePeriod)
	sweepable, err := s.entries.GetSweepable(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing sweepable entries: %w", err)
	}

	for _, entry := range sweepable {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deleted, err := s.entries.DeleteIfUnreferenced(ctx, entry.ContentHash)
		if err != nil {
			return result, fmt.Errorf("sweeping %s: %w", entry.ContentHash, err)
		}
		if !deleted {
			result.Rescued++
			continue
		}

		if err := s.sandbox.Remove(entry.RelativePath); err != nil {
			s.logger.Warn("removing swept blob file",
				slog.String("content_hash", entry.ContentHash),
				slog.String("error", err.Error()),
			)
		}
		result.Swept++
		result.BytesFreed += entry.SizeBytes
	}

	s.logger.Info("cache GC completed",
		slog.Int64("marked", result.Marked),
		slog.Int("swept", result.Swept),
		slog.Int("rescued", result.Rescued),
		slog.Int64("bytes_freed", result.BytesFreed),
	)
	return result, nil
}

// Stats describes cache occupancy and the disk holding it.
type Stats struct {
	EntryCount  int64   `json:"entry_count"`
	TotalBytes  int64   `json:"total_bytes"`
	DiskTotal   uint64  `json:"disk_total"`
	DiskFree    uint64  `json:"disk_free"`
	DiskUsedPct float64 `json:"disk_used_pct"`
}

// Stats returns cache entry counts and disk usage for the cache directory.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	count, totalBytes, err := s.entries.Stats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		EntryCount: count,
		TotalBytes: totalBytes,
	}

	if usage, err := disk.UsageWithContext(ctx, s.sandbox.BaseDir()); err == nil {
		stats.DiskTotal = usage.Total
		stats.DiskFree = usage.Free
		stats.DiskUsedPct = usage.UsedPercent
	} else {
		s.logger.Debug("disk usage unavailable", slog.String("error", err.Error()))
	}

	return stats, nil
}

// bytes512 captures the first 512 bytes of a stream for MIME sniffing.
type bytes512 struct {
	buf [512]byte
	n   int
}

func (b *bytes512) Write(p []byte) (int, error) {
	if b.n < len(b.buf) {
		b.n += copy(b.buf[b.n:], p)
	}
	return len(p), nil
}
