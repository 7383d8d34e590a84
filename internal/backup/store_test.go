package backup

import (
	"path"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
)

const testDir = "backups"

func newTestStore(t *testing.T, opts Options) (*Store, afero.Fs, *clock.Mock, *observability.MockMetricsRegistry) {
	t.Helper()
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	metrics := observability.NewMockMetricsRegistry()
	if opts.Dir == "" {
		opts.Dir = testDir
	}
	return NewStore(fs, opts, clk, zap.NewNop(), metrics), fs, clk, metrics
}

func testBatch(session string, n int) models.MetricBatch {
	batch := make(models.MetricBatch, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, models.Metric{
			MetricType: models.MetricLoadRequest,
			AppID:      "app-1",
			SessionID:  session,
			Timestamp:  int64(1000 + i),
			CPM:        1.25,
			LocationData: models.LocationSnapshot{
				Consent:     models.ConsentGeneral,
				CountryCode: "AU",
				AdminArea:   "NSW",
			},
		})
	}
	return batch
}

func TestStoreAndReloadRoundTrip(t *testing.T) {
	s, _, _, metrics := newTestStore(t, Options{ResendOncePerProcess: true})

	batch := testBatch("s1", 3)
	id := s.Store(batch)
	require.NotEmpty(t, id)
	assert.True(t, len(id) > len(FileSuffix))
	assert.Equal(t, 1, metrics.Count("backup/store"))

	records := s.LoadAllOnStartup()
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, batch, records[0].Metrics)
}

func TestStoreUniqueNamesAtSameInstant(t *testing.T) {
	s, _, _, _ := newTestStore(t, Options{})

	first := s.Store(testBatch("a", 1))
	second := s.Store(testBatch("b", 1))
	require.NotEmpty(t, first)
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, s.Count())
}

func TestStoreSkipsAtCapacity(t *testing.T) {
	s, _, _, metrics := newTestStore(t, Options{MaxRecords: 2})

	require.NotEmpty(t, s.Store(testBatch("a", 1)))
	require.NotEmpty(t, s.Store(testBatch("b", 1)))
	assert.Empty(t, s.Store(testBatch("c", 1)))
	assert.Equal(t, 2, s.Count())
	assert.Equal(t, 1, metrics.Count("backup/skip"))
}

func TestStoreIgnoresEmptyBatch(t *testing.T) {
	s, _, _, _ := newTestStore(t, Options{})
	assert.Empty(t, s.Store(nil))
	assert.Equal(t, 0, s.Count())
}

func TestLoadAllOnStartupExpiresOldRecords(t *testing.T) {
	s, fs, clk, metrics := newTestStore(t, Options{Retention: 7 * 24 * time.Hour})

	old := s.Store(testBatch("old", 2))
	clk.Add(6 * 24 * time.Hour)
	fresh := s.Store(testBatch("fresh", 1))
	clk.Add(2 * 24 * time.Hour) // old is now 8 days old, fresh 2 days

	records := s.LoadAllOnStartup()
	require.Len(t, records, 1)
	assert.Equal(t, fresh, records[0].ID)
	assert.Equal(t, 1, metrics.Count("backup/expire"))

	exists, err := afero.Exists(fs, path.Join(testDir, old))
	require.NoError(t, err)
	assert.False(t, exists, "expired record should be deleted")
}

func TestLoadAllOnStartupRunsOncePerProcess(t *testing.T) {
	s, _, _, _ := newTestStore(t, Options{ResendOncePerProcess: true})

	s.Store(testBatch("a", 1))
	require.Len(t, s.LoadAllOnStartup(), 1)

	s.Store(testBatch("b", 1))
	assert.Empty(t, s.LoadAllOnStartup(), "second load in the same process must return nothing")
	assert.Equal(t, 2, s.Count())
}

func TestLoadAllOnStartupOncePerFolderAcrossStores(t *testing.T) {
	first, fs, clk, _ := newTestStore(t, Options{ResendOncePerProcess: true})
	first.Store(testBatch("a", 1))

	second := NewStore(fs, Options{Dir: testDir + "/", ResendOncePerProcess: true}, clk, zap.NewNop(), observability.NewNoOpRegistry())
	other := NewStore(fs, Options{Dir: "elsewhere", ResendOncePerProcess: true}, clk, zap.NewNop(), observability.NewNoOpRegistry())
	other.Store(testBatch("c", 1))

	require.Len(t, first.LoadAllOnStartup(), 1)
	assert.Empty(t, second.LoadAllOnStartup(), "a second store on the same folder must not reload it")
	assert.Len(t, other.LoadAllOnStartup(), 1, "other folders are loaded independently")
	assert.Equal(t, 1, second.Count())
}

func TestLoadAllOnStartupOncePerFolderOnDisk(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	open := func() *Store {
		return NewStore(afero.NewOsFs(), Options{Dir: dir, ResendOncePerProcess: true}, clk, zap.NewNop(), observability.NewNoOpRegistry())
	}

	first := open()
	require.NotEmpty(t, first.Store(testBatch("a", 1)))
	require.Len(t, first.LoadAllOnStartup(), 1)
	assert.Empty(t, open().LoadAllOnStartup(), "separate OsFs values share the process guard")
}

func TestLoadAllOnStartupRepeatableWhenConfigured(t *testing.T) {
	s, _, _, _ := newTestStore(t, Options{ResendOncePerProcess: false})

	s.Store(testBatch("a", 1))
	require.Len(t, s.LoadAllOnStartup(), 1)
	assert.Len(t, s.LoadAllOnStartup(), 1)
}

func TestLoadAllOnStartupOrdersOldestFirst(t *testing.T) {
	s, _, clk, _ := newTestStore(t, Options{})

	first := s.Store(testBatch("a", 1))
	clk.Add(time.Minute)
	second := s.Store(testBatch("b", 1))

	records := s.LoadAllOnStartup()
	require.Len(t, records, 2)
	assert.Equal(t, first, records[0].ID)
	assert.Equal(t, second, records[1].ID)
}

func TestLoadAllOnStartupDiscardsCorruptFiles(t *testing.T) {
	s, fs, clk, metrics := newTestStore(t, Options{})

	require.NoError(t, fs.MkdirAll(testDir, 0o755))
	bad := path.Join(testDir, "42"+FileSuffix)
	require.NoError(t, afero.WriteFile(fs, bad, []byte("{not json"), 0o644))
	require.NoError(t, fs.Chtimes(bad, clk.Now(), clk.Now()))
	require.NoError(t, afero.WriteFile(fs, path.Join(testDir, "notes.txt"), []byte("x"), 0o644))

	assert.Empty(t, s.LoadAllOnStartup())
	exists, _ := afero.Exists(fs, bad)
	assert.False(t, exists)
	assert.Equal(t, 1, metrics.Count("backup/error"))
}

func TestLoadAllOnStartupMissingFolder(t *testing.T) {
	s, _, _, metrics := newTestStore(t, Options{})
	assert.Empty(t, s.LoadAllOnStartup())
	assert.Equal(t, 0, metrics.Count("backup/error"))
}

func TestRemoveIsIdempotent(t *testing.T) {
	s, _, _, metrics := newTestStore(t, Options{})

	id := s.Store(testBatch("a", 1))
	s.Remove(id)
	s.Remove(id)
	s.Remove("does-not-exist" + FileSuffix)
	s.Remove("../escape" + FileSuffix)

	assert.Equal(t, 0, s.Count())
	assert.Equal(t, 1, metrics.Count("backup/remove"))
	assert.Equal(t, 0, metrics.Count("backup/error"))
}
