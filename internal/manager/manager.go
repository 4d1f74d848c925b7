// Package manager is the entry point for user actions. It pairs every
// remote store call with the matching metadata update and runs
// reconciliation passes on demand.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/alexjbarnes/bucket-sync/internal/errors"
	"github.com/alexjbarnes/bucket-sync/internal/events"
	"github.com/alexjbarnes/bucket-sync/internal/models"
	"github.com/alexjbarnes/bucket-sync/internal/reconcile"
	"github.com/alexjbarnes/bucket-sync/internal/state"
)

const (
	defaultDownloadDir = "downloads"
	defaultConcurrency = 4
)

// Store is the full remote store surface the manager drives.
type Store interface {
	LoadAll(ctx context.Context) ([]models.FileRecord, error)
	Save(ctx context.Context, path string) (models.FileRecord, error)
	Delete(ctx context.Context, rec models.FileRecord) error
	Download(ctx context.Context, name, dir string) (string, error)
}

// SummaryStore persists the outcome of the latest sync. The bbolt
// repository implements it.
type SummaryStore interface {
	LastSync() (*state.SyncSummary, error)
	SetLastSync(summary state.SyncSummary) error
}

// SyncResult describes one completed reconciliation pass.
type SyncResult struct {
	At         time.Time           `json:"at" yaml:"at"`
	Total      int                 `json:"total" yaml:"total"`
	Conflicted []models.FileRecord `json:"conflicted" yaml:"conflicted"`
}

// Manager coordinates the store, the repository, the event recorder and
// the reconciliation engine.
type Manager struct {
	store       Store
	repo        reconcile.Repository
	recorder    *events.Recorder
	engine      *reconcile.Engine
	logger      *slog.Logger
	downloadDir string
	concurrency int
	resolver    reconcile.Resolver

	// syncMu serialises every use of engine. Passes may start from the
	// CLI, the daemon ticker or an MCP tool.
	syncMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithDownloadDir sets the directory Download writes into.
func WithDownloadDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.downloadDir = dir
		}
	}
}

// WithConcurrency bounds the parallel uploads in UploadAll.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithResolver replaces the engine's last-writer-wins policy.
func WithResolver(r reconcile.Resolver) Option {
	return func(m *Manager) {
		m.resolver = r
	}
}

// New wires a manager over store and repo.
func New(store Store, repo reconcile.Repository, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		store:       store,
		repo:        repo,
		logger:      logger,
		downloadDir: defaultDownloadDir,
		concurrency: defaultConcurrency,
	}

	for _, opt := range opts {
		opt(m)
	}

	var engineOpts []reconcile.Option
	if m.resolver != nil {
		engineOpts = append(engineOpts, reconcile.WithResolver(m.resolver))
	}

	m.recorder = events.NewRecorder(repo, logger)
	m.engine = reconcile.NewEngine(repo, store, logger, engineOpts...)

	return m
}

// Upload stores the local file and records its metadata. A file the
// cache already tracks is updated, anything else is saved as new. A
// store failure leaves the repository untouched.
func (m *Manager) Upload(ctx context.Context, path string) (models.FileRecord, error) {
	rec, err := m.store.Save(ctx, path)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("uploading %s: %w", path, err)
	}

	err = m.recorder.OnUpdate(ctx, rec)
	if errors.Is(err, apperrors.ErrNotFound) {
		err = m.recorder.OnSave(ctx, rec)
	}

	if err != nil {
		return rec, fmt.Errorf("uploaded %s but recording metadata failed: %w", rec.Name, err)
	}

	m.logger.Info("uploaded file", slog.String("name", rec.Name), slog.Int64("size", rec.Size))

	return rec, nil
}

// UploadAll uploads paths with bounded parallelism. One file failing
// does not stop the others; every failure is returned joined. The
// returned records are those that uploaded, in input order.
func (m *Manager) UploadAll(ctx context.Context, paths []string) ([]models.FileRecord, error) {
	results := make([]*models.FileRecord, len(paths))
	errs := make([]error, len(paths))

	var g errgroup.Group
	g.SetLimit(m.concurrency)

	for i, p := range paths {
		g.Go(func() error {
			rec, err := m.Upload(ctx, p)
			if err != nil {
				errs[i] = err
				return nil
			}

			results[i] = &rec

			return nil
		})
	}

	_ = g.Wait()

	var out []models.FileRecord

	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}

	return out, errors.Join(errs...)
}

// Delete removes the object from the store, then its metadata. name is
// the exact object key as listed.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if name == "" {
		return apperrors.ErrEmptyName
	}

	cached, err := m.repo.FindByName(ctx, name)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", name, err)
	}

	rec := models.FileRecord{Name: name}
	if cached != nil {
		rec = *cached
	}

	if err := m.store.Delete(ctx, rec); err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}

	if err := m.recorder.OnDelete(ctx, rec); err != nil {
		return fmt.Errorf("deleted %s but recording metadata failed: %w", name, err)
	}

	m.logger.Info("deleted file", slog.String("name", name))

	return nil
}

// List returns every record in the metadata cache.
func (m *Manager) List(ctx context.Context) ([]models.FileRecord, error) {
	recs, err := m.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cached files: %w", err)
	}

	return recs, nil
}

// Download fetches the named object into the download directory and
// returns the local path.
func (m *Manager) Download(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", apperrors.ErrEmptyName
	}

	path, err := m.store.Download(ctx, name, m.downloadDir)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", name, err)
	}

	m.logger.Info("downloaded file", slog.String("name", name), slog.String("path", path))

	return path, nil
}

// Sync runs one reconciliation pass over a fresh remote listing and
// records its summary when the repository supports it.
func (m *Manager) Sync(ctx context.Context) (*SyncResult, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	listing, err := m.engine.Sync(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	res := &SyncResult{
		At:         time.Now().UTC(),
		Total:      len(listing),
		Conflicted: m.engine.ConflictedFiles(),
	}

	if ss, ok := m.repo.(SummaryStore); ok {
		summary := state.SyncSummary{
			At:              res.At,
			Total:           res.Total,
			Conflicted:      len(res.Conflicted),
			ConflictedFiles: res.Conflicted,
		}
		if err := ss.SetLastSync(summary); err != nil {
			m.logger.Warn("failed to record sync summary", slog.String("error", err.Error()))
		}
	}

	return res, nil
}

// Unresolved audits the remote store against the cache. An empty result
// means the cache is fully synchronised.
func (m *Manager) Unresolved(ctx context.Context) ([]models.FileRecord, error) {
	recs, err := m.engine.UnresolvedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking unresolved files: %w", err)
	}

	return recs, nil
}

// Conflicts returns the conflicts found by the most recent pass.
func (m *Manager) Conflicts() []models.FileRecord {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	return m.engine.ConflictedFiles()
}

// LastSync returns the summary of the latest recorded pass, or nil when
// none was recorded or the repository does not keep summaries.
func (m *Manager) LastSync() (*state.SyncSummary, error) {
	ss, ok := m.repo.(SummaryStore)
	if !ok {
		return nil, nil
	}

	return ss.LastSync()
}
