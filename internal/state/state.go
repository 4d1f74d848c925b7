package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/alexjbarnes/bucket-sync/internal/errors"
	"github.com/alexjbarnes/bucket-sync/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.bucket-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket   = []byte("app")
	filesBucket = []byte("files")
	lastSyncKey = []byte("last_sync")
)

// SyncSummary describes the most recent reconciliation pass.
// ConflictedFiles holds the records counted by Conflicted.
type SyncSummary struct {
	At              time.Time           `json:"at"`
	Total           int                 `json:"total"`
	Conflicted      int                 `json:"conflicted"`
	ConflictedFiles []models.FileRecord `json:"conflicted_files,omitempty"`
}

// State wraps a bbolt database holding the file metadata cache. Each
// record is stored as JSON under its name in the files bucket.
type State struct {
	db *bolt.DB
}

// LoadAt opens the state database at path, creating it and its parent
// directory if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(filesBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// FindByName returns the record stored under name, or nil if none.
func (s *State) FindByName(ctx context.Context, name string) (*models.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &apperrors.RepositoryError{Op: "find", Name: name, Err: err}
	}

	var rec *models.FileRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(filesBucket).Get([]byte(name))
		if v == nil {
			return nil
		}

		rec = &models.FileRecord{}

		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, &apperrors.RepositoryError{Op: "find", Name: name, Err: err}
	}

	return rec, nil
}

// Exists reports whether a record is stored under name.
func (s *State) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &apperrors.RepositoryError{Op: "exists", Name: name, Err: err}
	}

	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(filesBucket).Get([]byte(name)) != nil
		return nil
	})
	if err != nil {
		return false, &apperrors.RepositoryError{Op: "exists", Name: name, Err: err}
	}

	return found, nil
}

// SaveOrUpdate stores rec under its name, replacing every field of any
// existing record.
func (s *State) SaveOrUpdate(ctx context.Context, rec models.FileRecord) error {
	rec = models.Normalize(rec)

	if err := ctx.Err(); err != nil {
		return &apperrors.RepositoryError{Op: "save", Name: rec.Name, Err: err}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx.Bucket(filesBucket), rec)
	})
	if err != nil {
		return &apperrors.RepositoryError{Op: "save", Name: rec.Name, Err: err}
	}

	return nil
}

// SaveOrUpdateFiles stores every record in one bolt transaction. Either
// all records are written or, on any failure, none are.
func (s *State) SaveOrUpdateFiles(ctx context.Context, recs []models.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return &apperrors.RepositoryError{Op: "save batch", Err: err}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(filesBucket)

		for _, rec := range recs {
			if err := putRecord(b, models.Normalize(rec)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return &apperrors.RepositoryError{Op: "save batch", Err: err}
	}

	return nil
}

// Delete removes the record stored under name. Deleting a missing name
// is not an error.
func (s *State) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return &apperrors.RepositoryError{Op: "delete", Name: name, Err: err}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).Delete([]byte(name))
	})
	if err != nil {
		return &apperrors.RepositoryError{Op: "delete", Name: name, Err: err}
	}

	return nil
}

// FindAll returns every stored record ordered by name.
func (s *State) FindAll(ctx context.Context) ([]models.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &apperrors.RepositoryError{Op: "find all", Err: err}
	}

	var recs []models.FileRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(k, v []byte) error {
			var rec models.FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}

			recs = append(recs, rec)

			return nil
		})
	})
	if err != nil {
		return nil, &apperrors.RepositoryError{Op: "find all", Err: err}
	}

	return recs, nil
}

// LastSync returns the summary of the most recent reconciliation pass,
// or nil if no pass has been recorded.
func (s *State) LastSync() (*SyncSummary, error) {
	var summary *SyncSummary

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastSyncKey)
		if v == nil {
			return nil
		}

		summary = &SyncSummary{}

		return json.Unmarshal(v, summary)
	})

	return summary, err
}

// SetLastSync persists the summary of a reconciliation pass.
func (s *State) SetLastSync(summary SyncSummary) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(summary)
		if err != nil {
			return err
		}

		return tx.Bucket(appBucket).Put(lastSyncKey, data)
	})
}

func putRecord(b *bolt.Bucket, rec models.FileRecord) error {
	if rec.Name == "" {
		return apperrors.ErrEmptyName
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return b.Put([]byte(rec.Name), data)
}
