package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/keagan/motionclips/internal/motion"
	"github.com/keagan/motionclips/internal/recording"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSettings = "6ba7b812-9dad-11d1-80b4-00c04fd430c8"

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(path string, size int64, mtime time.Time) recording.Recording {
	return recording.Recording{Path: path, Size: size, ModTime: mtime}
}

func TestSeen(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	mtime := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	r := rec("/in/a.mp4", 1000, mtime)

	seen, err := s.Seen(ctx, r, testSettings)
	require.NoError(t, err)
	assert.False(t, seen, "unknown recording")

	require.NoError(t, s.Record(ctx, r, testSettings, 60, []motion.Interval{{Start: 1, End: 9.5}}, 1, 0))

	seen, err = s.Seen(ctx, r, testSettings)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.Seen(ctx, rec("/in/a.mp4", 1001, mtime), testSettings)
	require.NoError(t, err)
	assert.False(t, seen, "size changed")

	seen, err = s.Seen(ctx, rec("/in/a.mp4", 1000, mtime.Add(time.Nanosecond)), testSettings)
	require.NoError(t, err)
	assert.False(t, seen, "mtime changed")

	seen, err = s.Seen(ctx, r, "retuned")
	require.NoError(t, err)
	assert.False(t, seen, "settings changed")
}

func TestRecordReplacesSettings(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	r := rec("/in/d.mp4", 10, time.Unix(300, 0))

	require.NoError(t, s.Record(ctx, r, "before", 20, nil, 0, 0))
	require.NoError(t, s.Record(ctx, r, "after", 20, []motion.Interval{{Start: 2, End: 8}}, 1, 0))

	seen, err := s.Seen(ctx, r, "before")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.Seen(ctx, r, "after")
	require.NoError(t, err)
	assert.True(t, seen)

	e, err := s.Get(ctx, r.Path)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "after", e.Settings)
	assert.Equal(t, 1, e.Clips)
}

func TestFailuresAreRetried(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	r := rec("/in/b.mp4", 10, time.Unix(100, 0))

	require.NoError(t, s.Record(ctx, r, testSettings, 30, []motion.Interval{{Start: 0, End: 10}, {Start: 15, End: 30}}, 1, 1))
	seen, err := s.Seen(ctx, r, testSettings)
	require.NoError(t, err)
	assert.False(t, seen)

	// a later successful run replaces the entry
	require.NoError(t, s.Record(ctx, r, testSettings, 30, []motion.Interval{{Start: 0, End: 10}, {Start: 15, End: 30}}, 2, 0))
	seen, err = s.Seen(ctx, r, testSettings)
	require.NoError(t, err)
	assert.True(t, seen)

	e, err := s.Get(ctx, r.Path)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 2, e.Clips)
	assert.Zero(t, e.Failures)
	assert.Equal(t, []motion.Interval{{Start: 0, End: 10}, {Start: 15, End: 30}}, e.Ranges)
	assert.InDelta(t, 30, e.Duration, 1e-12)
}

func TestGetMissing(t *testing.T) {
	e, err := openTest(t).Get(context.Background(), "/nope.mp4")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestOpenFilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "ledger.db")
	r := rec("/in/c.mp4", 5, time.Unix(200, 0))

	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, r, testSettings, 12, nil, 0, 0))
	require.NoError(t, s.Close())

	s, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	seen, err := s.Seen(ctx, r, testSettings)
	require.NoError(t, err)
	assert.True(t, seen)
}
