package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSaveAndLoadLatest(t *testing.T) {
	dir := t.TempDir()

	p := Default()
	p.Version = 3
	p.BiasDB = map[string]float64{"water": -2.5, "harbor": 2.5}
	name, err := Save(dir, p)
	require.NoError(t, err)
	assert.Equal(t, "profile-3.json", name)

	loaded, err := LoadLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Version)
	assert.Equal(t, -2.5, loaded.Bias("water"))

	next, err := NextVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, next)
}

func TestLoadLatest_Missing(t *testing.T) {
	_, err := LoadLatest(t.TempDir())
	assert.ErrorIs(t, err, ErrNoProfile)
}

func TestLoadLatest_InvalidProfileRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile-1.json"),
		[]byte(`{"version":1,"smoothing":{"median_window":4,"ema_alpha":0.3},"decision":{"max_peak_lag_s":1},"orientation":{"water_receiver":"a","harbor_receiver":"b"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, LatestFile), []byte(`{"profile":"profile-1.json"}`), 0o644))

	_, err := LoadLatest(dir)
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestLoadLatest_RejectsPathInPointer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LatestFile), []byte(`{"profile":"../etc/passwd"}`), 0o644))
	_, err := LoadLatest(dir)
	assert.Error(t, err)
}

func TestNextVersion_EmptyOrMissingDir(t *testing.T) {
	v, err := NextVersion(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	first := Default()
	first.Version = 1
	_, err := Save(dir, first)
	require.NoError(t, err)

	store := NewStore(nil)
	swapped := make(chan int, 4)
	w := NewWatcher(dir, store, zap.NewNop(), func(_, cur *Profile) { swapped <- cur.Version })
	require.NoError(t, w.LoadNow())
	assert.Equal(t, 1, store.Current().Version)
	<-swapped

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	second := Default()
	second.Version = 2
	second.Decision.DebounceS = 5
	_, err = Save(dir, second)
	require.NoError(t, err)

	select {
	case v := <-swapped:
		assert.Equal(t, 2, v)
	case <-time.After(3 * time.Second):
		t.Fatal("profile was not reloaded")
	}
	assert.Equal(t, 5*time.Second, store.Current().Debounce())

	cancel()
	<-done
}

func TestWatcher_FailedReloadKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	good := Default()
	good.Version = 1
	_, err := Save(dir, good)
	require.NoError(t, err)

	store := NewStore(nil)
	w := NewWatcher(dir, store, zap.NewNop(), nil)
	require.NoError(t, w.LoadNow())

	require.NoError(t, os.WriteFile(filepath.Join(dir, LatestFile), []byte(`not json`), 0o644))
	w.reload("test")
	assert.Equal(t, 1, store.Current().Version)
}

func TestWatcher_MissingDirStillServesReload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")
	store := NewStore(nil)
	require.True(t, store.Degraded())

	w := NewWatcher(dir, store, zap.NewNop(), nil)
	w.retry = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	p := Default()
	p.Version = 7
	_, err := Save(dir, p)
	require.NoError(t, err)
	w.Reload()

	require.Eventually(t, func() bool {
		return store.Current().Version == 7
	}, 3*time.Second, 10*time.Millisecond)
	assert.False(t, store.Degraded())

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcher_PicksUpDirCreatedAfterStart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")
	store := NewStore(nil)
	swapped := make(chan int, 4)
	w := NewWatcher(dir, store, zap.NewNop(), func(_, cur *Profile) { swapped <- cur.Version })
	w.retry = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	// let Run find the directory missing first
	time.Sleep(100 * time.Millisecond)

	first := Default()
	first.Version = 1
	_, err := Save(dir, first)
	require.NoError(t, err)

	select {
	case v := <-swapped:
		assert.Equal(t, 1, v)
	case <-time.After(3 * time.Second):
		t.Fatal("profile in new directory was not loaded")
	}
}

func TestWrite_DoesNotTouchPointer(t *testing.T) {
	dir := t.TempDir()
	p := Default()
	p.Version = 7
	require.NoError(t, Write(filepath.Join(dir, "candidate.json"), p))

	got, err := Load(filepath.Join(dir, "candidate.json"))
	require.NoError(t, err)
	assert.Equal(t, 7, got.Version)

	_, err = LoadLatest(dir)
	assert.ErrorIs(t, err, ErrNoProfile)

	bad := Default()
	bad.Smoothing.MedianWindow = 4
	assert.ErrorIs(t, Write(filepath.Join(dir, "bad.json"), bad), ErrInvalidProfile)
}
