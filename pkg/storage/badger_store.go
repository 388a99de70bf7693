package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/log"
	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

const (
	projectKeyPrefix = "project:" // project:<id>
	failedKeyPrefix  = "failed:"  // failed:<source_tag>:<url hash>
	stateDBDir       = "crawl_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements StateStore using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens the state database under stateDir.
// Without resume any previous state is removed first.
func NewBadgerStore(stateDir string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, stateDBDir)

	if !resume {
		logger.Warnf("Resume flag is false. REMOVING existing state directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Initializing crawl state database at: %s (Resume: %v)", dbPath, resume)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	logger.Info("Crawl state database initialized successfully.")
	return &BadgerStore{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func projectKey(projectID string) []byte {
	return []byte(projectKeyPrefix + projectID)
}

func failedPrefix(sourceTag string) []byte {
	if sourceTag == "" {
		return []byte(failedKeyPrefix)
	}
	return []byte(failedKeyPrefix + sourceTag + ":")
}

func failedKey(sourceTag, rawURL string) []byte {
	return []byte(failedKeyPrefix + sourceTag + ":" + utils.CalculateStringSHA256(rawURL))
}

// GetProject implements ProjectStore
func (s *BadgerStore) GetProject(projectID string) (*models.ProjectDBEntry, error) {
	var entry *models.ProjectDBEntry
	key := projectKey(projectID)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting project key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.ProjectDBEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Failed to unmarshal ProjectDBEntry for key '%s': %v. Treating as unknown.", string(key), errJSON)
				return nil
			}
			entry = &decoded
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB View error in GetProject for key '%s': %v", string(key), errView)
		return nil, errView
	}
	return entry, nil
}

// IsProjectCompleted implements ProjectStore
func (s *BadgerStore) IsProjectCompleted(projectID string) (bool, error) {
	entry, err := s.GetProject(projectID)
	if err != nil {
		return false, err
	}
	return entry != nil && entry.Status == models.ProjectStatusCompleted, nil
}

// MarkProjectCompleted implements ProjectStore
func (s *BadgerStore) MarkProjectCompleted(result *models.ProjectResult) error {
	now := time.Now()
	entry := models.ProjectDBEntry{
		Status:          models.ProjectStatusCompleted,
		TotalPages:      result.TotalPages,
		SuccessfulPages: result.SuccessfulPages,
		FailedPages:     result.FailedPages,
		LastAttempt:     now,
		CompletedAt:     now,
	}
	key := projectKey(result.ProjectID)

	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		return fmt.Errorf("%w: failed to marshal ProjectDBEntry for key '%s': %w", utils.ErrParsing, string(key), errJSON)
	}

	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in MarkProjectCompleted: %v", err)
		return fmt.Errorf("%w: failed setting project status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}

	s.log.Debugf("Marked project '%s' completed (%d pages)", result.ProjectID, result.TotalPages)
	return nil
}

// RecordFailure implements FailureStore
func (s *BadgerStore) RecordFailure(f models.FailedRequest) (bool, error) {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	key := failedKey(f.SourceTag, f.URL)

	val, errJSON := json.Marshal(f)
	if errJSON != nil {
		return false, fmt.Errorf("%w: failed to marshal FailedRequest for '%s': %w", utils.ErrParsing, f.URL, errJSON)
	}

	added := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errGet == nil {
			return nil
		}
		if !errors.Is(errGet, badger.ErrKeyNotFound) {
			return errGet
		}
		if errSet := txn.SetEntry(badger.NewEntry(key, val)); errSet != nil {
			return errSet
		}
		added = true
		return nil
	})
	if err != nil {
		s.log.WithField("url", f.URL).Errorf("DB Update error in RecordFailure: %v", err)
		return false, fmt.Errorf("%w: recording failure for '%s': %w", utils.ErrDatabase, f.URL, err)
	}

	if added {
		s.log.WithField("url", f.URL).Debug("Recorded failed request")
	} else {
		s.log.WithField("url", f.URL).Debug("Failed request already recorded, skipping duplicate")
	}
	return added, nil
}

// ListFailures implements FailureStore. Results are ordered by source tag, then timestamp.
func (s *BadgerStore) ListFailures(ctx context.Context, sourceTag string) ([]models.FailedRequest, error) {
	var out []models.FailedRequest
	scanErrors := 0
	prefix := failedPrefix(sourceTag)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			errValue := it.Item().Value(func(val []byte) error {
				var f models.FailedRequest
				if errJSON := json.Unmarshal(val, &f); errJSON != nil {
					s.log.Errorf("Failed unmarshal FailedRequest for key '%s': %v. Skipping.", string(it.Item().Key()), errJSON)
					scanErrors++
					return nil
				}
				out = append(out, f)
				return nil
			})
			if errValue != nil {
				return errValue
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return out, err
		}
		return out, fmt.Errorf("%w: scanning failed requests: %w", utils.ErrDatabase, err)
	}
	if scanErrors > 0 {
		s.log.Warnf("Skipped %d unreadable failure entries", scanErrors)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SourceTag != out[j].SourceTag {
			return out[i].SourceTag < out[j].SourceTag
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// CompletedCount implements StoreAdmin
func (s *BadgerStore) CompletedCount() (int, error) {
	count := 0
	prefix := []byte(projectKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e models.ProjectDBEntry
				if json.Unmarshal(val, &e) == nil && e.Status == models.ProjectStatusCompleted {
					count++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting projects: %w", utils.ErrDatabase, err)
	}
	return count, nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			var err error
			for {
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Infof("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing crawl state DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing crawl state DB: %v", err)
			return err
		}
		s.log.Info("Crawl state DB closed.")
		return nil
	}
	s.log.Info("Crawl state DB already closed or was not initialized.")
	return nil
}
