// Package events applies single-file user actions to the metadata
// repository as they happen, so the cache stays current between
// reconciliation passes.
package events

//go:generate mockgen -source=recorder.go -destination=mock_recorder_test.go -package=events

import (
	"context"
	"log/slog"

	apperrors "github.com/alexjbarnes/bucket-sync/internal/errors"
	"github.com/alexjbarnes/bucket-sync/internal/metrics"
	"github.com/alexjbarnes/bucket-sync/internal/models"
)

const (
	opSave   = "save"
	opUpdate = "update"
	opDelete = "delete"
)

// Repository is the subset of the metadata repository the recorder
// writes through.
type Repository interface {
	SaveOrUpdate(ctx context.Context, rec models.FileRecord) error
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// Recorder maps save, update and delete events to one repository call
// each. It never retries; a failure for one file is returned to the
// caller and does not affect other events.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{repo: repo, logger: logger}
}

// OnSave upserts the record of a newly stored file.
func (r *Recorder) OnSave(ctx context.Context, rec models.FileRecord) error {
	rec = models.Normalize(rec)

	if err := r.repo.SaveOrUpdate(ctx, rec); err != nil {
		return r.fail(opSave, rec.Name, err)
	}

	r.succeed(opSave, rec.Name)

	return nil
}

// OnUpdate replaces the metadata of a file the repository already
// tracks. An untracked name fails with an EventError wrapping
// ErrNotFound and leaves the repository unchanged.
func (r *Recorder) OnUpdate(ctx context.Context, rec models.FileRecord) error {
	rec = models.Normalize(rec)

	if err := r.requireTracked(ctx, opUpdate, rec.Name); err != nil {
		return err
	}

	if err := r.repo.SaveOrUpdate(ctx, rec); err != nil {
		return r.fail(opUpdate, rec.Name, err)
	}

	r.succeed(opUpdate, rec.Name)

	return nil
}

// OnDelete removes a tracked file's metadata. An untracked name fails
// with an EventError wrapping ErrNotFound.
func (r *Recorder) OnDelete(ctx context.Context, rec models.FileRecord) error {
	name := rec.Name

	if err := r.requireTracked(ctx, opDelete, name); err != nil {
		return err
	}

	if err := r.repo.Delete(ctx, name); err != nil {
		return r.fail(opDelete, name, err)
	}

	r.succeed(opDelete, name)

	return nil
}

func (r *Recorder) requireTracked(ctx context.Context, op, name string) error {
	if name == "" {
		return r.fail(op, name, apperrors.ErrEmptyName)
	}

	ok, err := r.repo.Exists(ctx, name)
	if err != nil {
		return r.fail(op, name, err)
	}

	if !ok {
		return r.fail(op, name, apperrors.ErrNotFound)
	}

	return nil
}

func (r *Recorder) fail(op, name string, err error) error {
	metrics.RecordFileEvent(op, false)
	r.logger.Warn("file event failed",
		slog.String("event", op),
		slog.String("name", name),
		slog.String("error", err.Error()),
	)

	return &apperrors.EventError{Op: op, Name: name, Err: err}
}

func (r *Recorder) succeed(op, name string) {
	metrics.RecordFileEvent(op, true)
	r.logger.Debug("file event recorded", slog.String("event", op), slog.String("name", name))
}
