package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndGetCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	job := &jobs.ProcessMessageJob{JobID: "j1", Status: jobs.JobStatusPending}
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status = jobs.JobStatusRunning
	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	assert.Error(t, s.SaveJob(ctx, &jobs.ProcessMessageJob{}))
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	for i, st := range []jobs.JobStatus{jobs.JobStatusCompleted, jobs.JobStatusFailed, jobs.JobStatusCompleted} {
		require.NoError(t, s.SaveJob(ctx, &jobs.ProcessMessageJob{
			JobID:     string(rune('a' + i)),
			Status:    st,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"c", "b", "a"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusCompleted}, []string{"c", "a"}},
		{"limit", jobs.JobFilter{Limit: 1}, []string{"c"}},
		{"offset", jobs.JobFilter{Offset: 1, Limit: 5}, []string{"b", "a"}},
		{"offset past end", jobs.JobFilter{Offset: 9}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			ids := []string{}
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_UpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveJob(ctx, &jobs.ProcessMessageJob{JobID: "j1"}))

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", jobs.JobStatusFailed, "boom"))
	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	assert.ErrorIs(t, s.UpdateJobStatus(ctx, "nope", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound)
}

func TestStore_RetentionEvictsOldestFinished(t *testing.T) {
	ctx := context.Background()
	s := NewStoreWithRetention(2)

	require.NoError(t, s.SaveJob(ctx, &jobs.ProcessMessageJob{JobID: "pending", Status: jobs.JobStatusPending}))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveJob(ctx, &jobs.ProcessMessageJob{JobID: id, Status: jobs.JobStatusRunning, Image: []byte("img")}))
		require.NoError(t, s.UpdateJobStatus(ctx, id, jobs.JobStatusCompleted, ""))
	}
	// Saving a finished job again does not count it twice.
	require.NoError(t, s.SaveJob(ctx, &jobs.ProcessMessageJob{JobID: "c", Status: jobs.JobStatusCompleted}))

	_, err := s.GetJob(ctx, "a")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	for _, id := range []string{"pending", "b", "c"} {
		got, err := s.GetJob(ctx, id)
		require.NoError(t, err, id)
		assert.Empty(t, got.Image)
	}

	assert.Equal(t, map[jobs.JobStatus]int{jobs.JobStatusPending: 1, jobs.JobStatusCompleted: 2}, s.Counts())
}

func TestStore_UnlimitedRetention(t *testing.T) {
	ctx := context.Background()
	s := NewStoreWithRetention(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveJob(ctx, &jobs.ProcessMessageJob{JobID: string(rune('a' + i)), Status: jobs.JobStatusFailed}))
	}
	got, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 5)
}
