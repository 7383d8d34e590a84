// Package backup persists metric batches that could not be delivered so they
// can be resent by a later process.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
)

// FileSuffix is appended to every backup file name.
const FileSuffix = ".tempo-metrics.json"

const (
	DefaultMaxRecords = 100
	DefaultRetention  = 7 * 24 * time.Hour
)

// Options configures a Store.
type Options struct {
	Dir        string
	MaxRecords int
	Retention  time.Duration
	// ResendOncePerProcess makes LoadAllOnStartup a no-op after the first call
	// for the same folder and filesystem in this process.
	ResendOncePerProcess bool
}

// Record is a persisted batch. ID is the file name inside the backup folder
// and CreatedAt its modification time.
type Record struct {
	ID        string
	Metrics   models.MetricBatch
	CreatedAt time.Time
}

// Store keeps undelivered metric batches as one JSON file per batch.
// All file operations are serialized by an internal mutex.
type Store struct {
	fs      afero.Fs
	opts    Options
	clock   clock.Clock
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	mu       sync.Mutex
	loaded   bool
	lastName int64
}

// startupLoads records the backup folders already loaded in this process,
// keyed by filesystem and folder, so stores sharing a folder load it once.
var startupLoads sync.Map

type loadKey struct {
	fs  afero.Fs
	dir string
}

// claimStartupLoad reports whether the caller is the first in this process to
// load dir on fs. Filesystems that cannot be used as map keys fall back to the
// store's own flag.
func (s *Store) claimStartupLoad() bool {
	if s.loaded {
		return false
	}
	s.loaded = true
	key, ok := s.loadKey()
	if !ok {
		return true
	}
	_, seen := startupLoads.LoadOrStore(key, struct{}{})
	return !seen
}

// loadKey identifies the backup folder. Every OsFs shares one key space with
// absolute paths, since all of them address the same disk.
func (s *Store) loadKey() (loadKey, bool) {
	if _, ok := s.fs.(*afero.OsFs); ok {
		dir, err := filepath.Abs(s.opts.Dir)
		if err != nil {
			return loadKey{}, false
		}
		return loadKey{dir: dir}, true
	}
	if s.fs == nil || !reflect.TypeOf(s.fs).Comparable() {
		return loadKey{}, false
	}
	return loadKey{fs: s.fs, dir: path.Clean(s.opts.Dir)}, true
}

// NewStore creates a Store rooted at opts.Dir on fs. Zero MaxRecords and
// Retention values fall back to the defaults.
func NewStore(fs afero.Fs, opts Options, clk clock.Clock, logger *zap.Logger, metrics observability.MetricsRegistry) *Store {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Store{
		fs:      fs,
		opts:    opts,
		clock:   clk,
		logger:  logger.Named("backup"),
		metrics: metrics,
	}
}

// Store persists batch as a new record and returns its ID. An empty ID means
// nothing was written, either because the store is at capacity or because the
// write failed; both cases are only logged.
func (s *Store) Store(batch models.MetricBatch) string {
	if len(batch) == 0 {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.opts.Dir, 0o755); err != nil {
		s.fail("create backup folder", err)
		return ""
	}

	names, err := s.recordNames()
	if err != nil {
		s.fail("list backups", err)
		return ""
	}
	if len(names) >= s.opts.MaxRecords {
		s.logger.Warn("backup store at capacity, dropping metrics",
			zap.Int("records", len(names)),
			zap.Int("metrics", len(batch)))
		s.metrics.IncrementBackupOperations("skip")
		return ""
	}

	data, err := json.Marshal(batch)
	if err != nil {
		s.fail("encode backup", err)
		return ""
	}

	now := s.clock.Now()
	id := s.nextName(now)
	final := path.Join(s.opts.Dir, id)
	tmp := final + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		s.fail("write backup", err)
		return ""
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		s.fail("rename backup", err)
		return ""
	}
	// creation time drives expiry, so stamp it with the store's clock
	if err := s.fs.Chtimes(final, now, now); err != nil {
		s.logger.Debug("failed to stamp backup time", zap.String("id", id), zap.Error(err))
	}

	s.metrics.IncrementBackupOperations("store")
	s.logger.Info("metrics backed up", zap.String("id", id), zap.Int("metrics", len(batch)))
	return id
}

// LoadAllOnStartup returns every persisted record younger than the retention
// window, oldest first. Expired and undecodable records are deleted. When
// ResendOncePerProcess is set, only the first call for a folder in the
// process returns records, whichever Store makes it.
func (s *Store) LoadAllOnStartup() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.ResendOncePerProcess && !s.claimStartupLoad() {
		s.logger.Debug("backups already loaded in this process", zap.String("dir", s.opts.Dir))
		return nil
	}

	infos, err := afero.ReadDir(s.fs, s.opts.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.fail("list backups", err)
		}
		return nil
	}

	now := s.clock.Now()
	var records []Record
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, FileSuffix) {
			continue
		}
		full := path.Join(s.opts.Dir, name)

		if now.Sub(info.ModTime()) > s.opts.Retention {
			s.removeFile(full)
			s.metrics.IncrementBackupOperations("expire")
			s.logger.Info("expired metrics backup", zap.String("id", name), zap.Time("created_at", info.ModTime()))
			continue
		}

		data, err := afero.ReadFile(s.fs, full)
		if err != nil {
			s.fail("read backup", err)
			continue
		}
		var batch models.MetricBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			s.logger.Warn("discarding corrupt backup", zap.String("id", name), zap.Error(err))
			s.removeFile(full)
			s.metrics.IncrementBackupOperations("error")
			continue
		}
		records = append(records, Record{ID: name, Metrics: batch, CreatedAt: info.ModTime()})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

// Remove deletes the record with the given ID. Missing records are ignored.
func (s *Store) Remove(id string) {
	if id == "" || path.Base(id) != id {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeFile(path.Join(s.opts.Dir, id)) {
		s.metrics.IncrementBackupOperations("remove")
	}
}

// Count returns the number of records currently on disk.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.recordNames()
	if err != nil {
		return 0
	}
	return len(names)
}

func (s *Store) recordNames() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, info := range infos {
		if !info.IsDir() && strings.HasSuffix(info.Name(), FileSuffix) {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

// nextName derives a unique file name from the submission time.
func (s *Store) nextName(now time.Time) string {
	n := now.UnixNano()
	if n <= s.lastName {
		n = s.lastName + 1
	}
	for {
		name := fmt.Sprintf("%d%s", n, FileSuffix)
		if ok, _ := afero.Exists(s.fs, path.Join(s.opts.Dir, name)); !ok {
			s.lastName = n
			return name
		}
		n++
	}
}

func (s *Store) removeFile(full string) bool {
	if err := s.fs.Remove(full); err != nil {
		if !os.IsNotExist(err) {
			s.fail("remove backup", err)
		}
		return false
	}
	return true
}

func (s *Store) fail(op string, err error) {
	s.metrics.IncrementBackupOperations("error")
	s.logger.Error(op, zap.Error(err))
}
