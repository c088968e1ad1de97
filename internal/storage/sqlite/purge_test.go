package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/models"
)

func TestPurgeOlderThan(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	jobs := NewJobStorage(db, arbor.NewLogger())
	upscales := NewUpscaleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	cutoff := time.Now().Add(-48 * time.Hour)
	old := cutoff.Add(-time.Hour)
	young := cutoff.Add(time.Hour)

	// Old terminal rows go; old live rows and young rows stay
	require.NoError(t, jobs.SaveJob(ctx, makeJob("job_old_done", "user-1", models.JobStatusCompleted, old)))
	require.NoError(t, jobs.SaveJob(ctx, makeJob("job_old_failed", "user-1", models.JobStatusFailed, old)))
	require.NoError(t, jobs.SaveJob(ctx, makeJob("job_old_cancelled", "user-1", models.JobStatusCancelled, old)))
	require.NoError(t, jobs.SaveJob(ctx, makeJob("job_old_queued", "user-1", models.JobStatusQueued, old)))
	require.NoError(t, jobs.SaveJob(ctx, makeJob("job_old_running", "user-1", models.JobStatusRunning, old)))
	require.NoError(t, jobs.SaveJob(ctx, makeJob("job_young_done", "user-1", models.JobStatusCompleted, young)))

	require.NoError(t, upscales.SaveJob(ctx, makeUpscaleJob("ups_old_done", models.JobStatusCompleted, old)))
	require.NoError(t, upscales.SaveJob(ctx, makeUpscaleJob("ups_young_done", models.JobStatusCompleted, young)))
	require.NoError(t, upscales.SaveJob(ctx, makeUpscaleJob("ups_old_queued", models.JobStatusQueued, old)))

	deletedJobs, deletedUpscales, err := db.PurgeOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, deletedJobs)
	assert.Equal(t, 1, deletedUpscales)

	// Survivors are exactly the live and young rows
	for _, id := range []string{"job_old_queued", "job_old_running", "job_young_done"} {
		_, err := jobs.GetJob(ctx, id)
		assert.NoError(t, err, "expected %s to survive", id)
	}
	for _, id := range []string{"job_old_done", "job_old_failed", "job_old_cancelled"} {
		_, err := jobs.GetJob(ctx, id)
		assert.Error(t, err, "expected %s to be purged", id)
	}

	_, err = upscales.GetJob(ctx, "ups_young_done")
	assert.NoError(t, err)
	_, err = upscales.GetJob(ctx, "ups_old_queued")
	assert.NoError(t, err)
	_, err = upscales.GetJob(ctx, "ups_old_done")
	assert.Error(t, err)
}

func TestPurgeOlderThan_Idempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	jobs := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	cutoff := time.Now().Add(-48 * time.Hour)
	require.NoError(t, jobs.SaveJob(ctx, makeJob("job_old", "user-1", models.JobStatusCompleted, cutoff.Add(-time.Hour))))

	deletedJobs, deletedUpscales, err := db.PurgeOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, deletedJobs)
	assert.Equal(t, 0, deletedUpscales)

	deletedJobs, deletedUpscales, err = db.PurgeOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 0, deletedJobs)
	assert.Equal(t, 0, deletedUpscales)
}

func TestPurgeOlderThan_EmptyTables(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	deletedJobs, deletedUpscales, err := db.PurgeOlderThan(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, deletedJobs)
	assert.Equal(t, 0, deletedUpscales)
}
