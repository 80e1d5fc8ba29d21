package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *repository.DB {
	t.Helper()

	db, err := repository.Open(filepath.Join(t.TempDir(), "data", "tts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestTextRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	texts := openDB(t).Texts()

	created, err := texts.Create(ctx, &core.TextDocument{UserID: "u1", Content: "Xin chào.", Language: "vi"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, core.TextPending, created.Status)

	require.NoError(t, texts.UpdateStatus(ctx, created.ID, core.TextFailed, "no content"))

	loaded, err := texts.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Xin chào.", loaded.Content)
	assert.Equal(t, core.TextFailed, loaded.Status)
	assert.Equal(t, "no content", loaded.Error)

	_, err = texts.GetByID(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.ErrorIs(t, texts.UpdateStatus(ctx, "missing", core.TextCompleted, ""), core.ErrNotFound)
}

func TestAudioRepository_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	audios := openDB(t).Audios()

	job, err := audios.Create(ctx, core.JobSpec{TextID: "t1", UserID: "u1", Voice: "female", Format: "mp3", SampleRate: 22050})
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, job.Status)

	require.NoError(t, audios.UpdateStatus(ctx, job.ID, core.ProgressStatus(5, 10), nil))
	require.NoError(t, audios.UpdateStatus(ctx, job.ID, core.JobFailed,
		&core.Failure{Code: core.FailureSynthesis, Message: "chunk 3 failed"}))

	failed, err := audios.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, failed.Status)
	assert.Equal(t, core.FailureSynthesis, failed.ErrorCode)
	assert.Equal(t, "chunk 3 failed", failed.Error)

	require.NoError(t, audios.ResetForRegeneration(ctx, job.ID))

	segments := []core.Segment{
		{StartIndex: 0, EndIndex: 4, StartTime: 0, EndTime: 1.5, Text: "Một.", URL: "local://a"},
		{StartIndex: 5, EndIndex: 9, StartTime: 1.5, EndTime: 2.25, Text: "Hai.", URL: "local://b"},
	}
	require.NoError(t, audios.UpdateWithSegments(ctx, job.ID, "nats://audio/x.mp3", 2.25, segments))

	done, err := audios.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, done.Status)
	assert.Empty(t, done.Error)
	assert.Empty(t, done.ErrorCode)
	assert.Equal(t, "nats://audio/x.mp3", done.URL)
	assert.InDelta(t, 2.25, done.Duration, 1e-9)
	assert.Equal(t, segments, done.Segments)

	deleted, err := audios.Delete(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = audios.Delete(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	missing, err := audios.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAudioRepository_GetByTextIDPrefersCompleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	audios := openDB(t).Audios()
	spec := core.JobSpec{TextID: "t1", UserID: "u1", Voice: "female", Format: "mp3", SampleRate: 22050}

	first, err := audios.Create(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, audios.UpdateWithSegments(ctx, first.ID, "local://f", 1, nil))

	second, err := audios.Create(ctx, spec)
	require.NoError(t, err)

	found, err := audios.GetByTextID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = audios.Delete(ctx, first.ID)
	require.NoError(t, err)

	found, err = audios.GetByTextID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)

	none, err := audios.GetByTextID(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAudioRepository_ListByStatusBefore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	audios := openDB(t).Audios()
	spec := core.JobSpec{TextID: "t1", UserID: "u1", Voice: "female", Format: "mp3", SampleRate: 22050}

	stuck, err := audios.Create(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, audios.UpdateStatus(ctx, stuck.ID, core.ProgressStatus(2, 9), nil))

	pending, err := audios.Create(ctx, spec)
	require.NoError(t, err)

	cutoff := time.Now().Add(time.Second)

	jobs, err := audios.ListByStatusBefore(ctx, string(core.JobProcessing), cutoff)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stuck.ID, jobs[0].ID)

	jobs, err = audios.ListByStatusBefore(ctx, string(core.JobProcessing), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = audios.ListByStatusBefore(ctx, string(core.JobPending), cutoff)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, pending.ID, jobs[0].ID)
}
