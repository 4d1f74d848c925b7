package reconcile

//go:generate mockgen -source=reconcile.go -destination=mock_reconcile_test.go -package=reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/bucket-sync/internal/metrics"
	"github.com/alexjbarnes/bucket-sync/internal/models"
)

// Repository is the local metadata cache. Records are keyed by name.
// SaveOrUpdate replaces every field of an existing record, and
// SaveOrUpdateFiles applies the whole batch in one transaction.
type Repository interface {
	FindByName(ctx context.Context, name string) (*models.FileRecord, error)
	SaveOrUpdate(ctx context.Context, rec models.FileRecord) error
	SaveOrUpdateFiles(ctx context.Context, recs []models.FileRecord) error
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	FindAll(ctx context.Context) ([]models.FileRecord, error)
}

// RemoteStore lists the objects held in the remote store.
type RemoteStore interface {
	LoadAll(ctx context.Context) ([]models.FileRecord, error)
}

// Resolver picks the record to keep when the cached and remote records
// conflict. Returning false leaves the file unresolved.
type Resolver func(local, remote models.FileRecord) (models.FileRecord, bool)

// IsConflict reports whether the cached and remote records disagree on
// checksum or modification time. Comparison is exact. A missing
// checksum or timestamp on either side counts as a mismatch.
func IsConflict(local, remote models.FileRecord) bool {
	if local.Checksum == "" || remote.Checksum == "" {
		return true
	}

	if local.Checksum != remote.Checksum {
		return true
	}

	if local.ModifiedAt.IsZero() || remote.ModifiedAt.IsZero() {
		return true
	}

	return !local.ModifiedAt.Equal(remote.ModifiedAt)
}

// ResolveConflict is the last-writer-wins policy: remote is returned when
// its modification time is after or equal to the local one, local
// otherwise. A zero timestamp is the oldest possible value, so two zero
// timestamps tie and remote wins.
func ResolveConflict(local, remote models.FileRecord) models.FileRecord {
	if remote.ModifiedAt.Before(local.ModifiedAt) {
		return local
	}

	return remote
}

// LastWriterWins is the default Resolver. It never leaves a file
// unresolved.
func LastWriterWins(local, remote models.FileRecord) (models.FileRecord, bool) {
	return ResolveConflict(local, remote), true
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver replaces the last-writer-wins policy.
func WithResolver(r Resolver) Option {
	return func(e *Engine) {
		e.resolve = r
	}
}

// Engine reconciles remote store listings against the metadata
// repository. The conflict list is rebuilt by every SyncFiles call.
//
// An Engine is not safe for concurrent use. Callers that share one
// serialise SyncFiles, Sync and ConflictedFiles themselves.
type Engine struct {
	repo    Repository
	remote  RemoteStore
	resolve Resolver
	logger  *slog.Logger

	conflicted []models.FileRecord
}

// NewEngine creates an engine over the given repository and remote store.
func NewEngine(repo Repository, remote RemoteStore, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		repo:    repo,
		remote:  remote,
		resolve: LastWriterWins,
		logger:  logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Sync lists the remote store and runs one reconciliation pass over the
// listing. It returns the listing so callers can report totals.
func (e *Engine) Sync(ctx context.Context) ([]models.FileRecord, error) {
	listing, err := e.remote.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote store: %w", err)
	}

	if err := e.SyncFiles(ctx, listing); err != nil {
		return nil, err
	}

	return listing, nil
}

// SyncFiles runs one reconciliation pass over a remote snapshot.
//
// Each remote record is looked up by name. A record with no cached
// counterpart is unresolved. A conflicting record is passed to the
// resolver; its choice is persisted and the remote record is added to
// the conflict list. If anything was unresolved, the whole snapshot is
// written instead, making it canonical for every name in the batch.
//
// All writes for the pass go through a single SaveOrUpdateFiles call, so
// a concurrent reader sees either the state before the pass or after it.
// Names are object keys and are compared byte-for-byte. A record with
// an empty name cannot be keyed; it is skipped with a warning, the same
// way UnresolvedFiles treats it, and the rest of the batch proceeds.
//
// Timestamps are truncated to UTC milliseconds before they are compared
// or stored, so an absorbed record reads back equal to the normalized
// remote record rather than the raw one.
func (e *Engine) SyncFiles(ctx context.Context, remoteRecords []models.FileRecord) error {
	start := time.Now()

	e.conflicted = nil

	batch := make([]models.FileRecord, 0, len(remoteRecords))

	for i, r := range remoteRecords {
		r = models.Normalize(r)
		if r.Name == "" {
			e.logger.Warn("skipping remote record without a name", slog.Int("index", i))
			continue
		}

		batch = append(batch, r)
	}

	var (
		conflicted []models.FileRecord
		unresolved []models.FileRecord
		resolved   []models.FileRecord
	)

	for _, remote := range batch {
		local, err := e.repo.FindByName(ctx, remote.Name)
		if err != nil {
			metrics.RecordSyncPass(time.Since(start), 0, false)
			return fmt.Errorf("looking up %s: %w", remote.Name, err)
		}

		if local == nil {
			unresolved = append(unresolved, remote)
			continue
		}

		if !IsConflict(*local, remote) {
			continue
		}

		keep, ok := e.resolve(*local, remote)
		if !ok {
			e.logger.Debug("conflict left unresolved", slog.String("name", remote.Name))
			unresolved = append(unresolved, remote)

			continue
		}

		e.logger.Debug("conflict resolved",
			slog.String("name", remote.Name),
			slog.String("local_checksum", local.Checksum),
			slog.String("remote_checksum", remote.Checksum),
			slog.String("kept_checksum", keep.Checksum),
		)

		// Keeping the cached record needs no write.
		if IsConflict(*local, keep) {
			resolved = append(resolved, keep)
		}

		conflicted = append(conflicted, remote)
	}

	writes := resolved
	if len(unresolved) > 0 {
		writes = batch
	}

	if len(writes) > 0 {
		if err := e.repo.SaveOrUpdateFiles(ctx, writes); err != nil {
			metrics.RecordSyncPass(time.Since(start), 0, false)
			return fmt.Errorf("persisting reconciled records: %w", err)
		}
	}

	e.conflicted = conflicted

	metrics.RecordSyncPass(time.Since(start), len(conflicted), true)

	e.logger.Info("reconciliation pass complete",
		slog.Int("remote", len(batch)),
		slog.Int("conflicted", len(conflicted)),
		slog.Int("unresolved", len(unresolved)),
		slog.Int("written", len(writes)),
	)

	return nil
}

// ConflictedFiles returns the remote records that conflicted during the
// most recent SyncFiles call. It is empty before the first call.
func (e *Engine) ConflictedFiles() []models.FileRecord {
	out := make([]models.FileRecord, len(e.conflicted))
	copy(out, e.conflicted)

	return out
}

// UnresolvedFiles lists the remote store afresh and returns every remote
// record that has no cached counterpart or conflicts with it. Cached
// records missing from the remote listing are not reported. The
// repository is only read.
func (e *Engine) UnresolvedFiles(ctx context.Context) ([]models.FileRecord, error) {
	listing, err := e.remote.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote store: %w", err)
	}

	var unresolved []models.FileRecord

	for _, remote := range listing {
		remote = models.Normalize(remote)
		if remote.Name == "" {
			e.logger.Warn("skipping remote record without a name")
			continue
		}

		local, err := e.repo.FindByName(ctx, remote.Name)
		if err != nil {
			return nil, fmt.Errorf("looking up %s: %w", remote.Name, err)
		}

		if local == nil || IsConflict(*local, remote) {
			unresolved = append(unresolved, remote)
		}
	}

	metrics.SetUnresolvedFiles(len(unresolved))

	return unresolved, nil
}
