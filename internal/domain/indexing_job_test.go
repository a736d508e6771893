package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIndexingJob(t *testing.T) {
	now := time.Now()
	job := NewIndexingJob("job1", "proj1", "main", TriggerManual, true, now)

	assert.Equal(t, IndexingJobStatusPending, job.Status)
	assert.True(t, job.FullReindex)
	assert.Equal(t, now, job.CreatedAt)
	assert.Nil(t, job.StartedAt)
	assert.NoError(t, ValidateIndexingJob(job))
}

func TestValidateIndexingJob(t *testing.T) {
	now := time.Now()
	valid := func() *IndexingJob {
		return NewIndexingJob("job1", "proj1", "main", TriggerWebhook, false, now)
	}

	tests := []struct {
		name   string
		mutate func(j *IndexingJob)
		errMsg string
	}{
		{"missing ID", func(j *IndexingJob) { j.ID = "" }, "ID"},
		{"missing ProjectID", func(j *IndexingJob) { j.ProjectID = "" }, "ProjectID"},
		{"bad trigger", func(j *IndexingJob) { j.Trigger = "cron" }, "Trigger"},
		{"bad status", func(j *IndexingJob) { j.Status = "queued" }, "Status"},
		{"progress over 100", func(j *IndexingJob) { j.Progress = 101 }, "Progress"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := valid()
			tt.mutate(j)
			err := ValidateIndexingJob(j)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.Error(t, ValidateIndexingJob(nil))
}

func TestIndexingJobStatusIsTerminal(t *testing.T) {
	assert.False(t, IndexingJobStatusPending.IsTerminal())
	assert.False(t, IndexingJobStatusRunning.IsTerminal())
	assert.True(t, IndexingJobStatusCompleted.IsTerminal())
	assert.True(t, IndexingJobStatusFailed.IsTerminal())
	assert.True(t, IndexingJobStatusCancelled.IsTerminal())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(5, 0))
	assert.Equal(t, 50, Percent(5, 10))
	assert.Equal(t, 100, Percent(12, 10))
}
