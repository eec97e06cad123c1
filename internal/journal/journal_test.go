package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camhal/internal/errors"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_RecordAndList(t *testing.T) {
	t.Parallel()

	j := openTemp(t)
	ctx := context.Background()

	for i, status := range []string{"OK", "OK", "ERROR"} {
		require.NoError(t, j.Record(ctx, &CaptureRecord{
			Session:     "s1",
			ChannelType: "regular",
			FrameNumber: uint32(100 + i),
			Status:      status,
			Latency:     time.Duration(i) * time.Millisecond,
		}))
	}
	require.NoError(t, j.Record(ctx, &CaptureRecord{Session: "s2", ChannelType: "picture", FrameNumber: 7, Status: "OK", Bytes: 2048}))

	recs, err := j.List(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint32(102), recs[0].FrameNumber, "newest first")
	assert.Equal(t, 2*time.Millisecond, recs[0].Latency)
	assert.False(t, recs[0].CreatedAt.IsZero())

	recs, err = j.List(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "s2", recs[0].Session)
	assert.Equal(t, 2048, recs[0].Bytes)

	counts, err := j.CountByStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []StatusCount{{Status: "ERROR", Count: 1}, {Status: "OK", Count: 2}}, counts)
}

func TestJournal_Validation(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	j := openTemp(t)
	err = j.Record(context.Background(), nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestJournal_Reopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), &CaptureRecord{Session: "s", Status: "OK"}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()
	recs, err := j.List(context.Background(), "s", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
