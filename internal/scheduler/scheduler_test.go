package scheduler

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coffer/internal/database"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Run() error {
	j.runs++
	return j.err
}

func (j *stubJob) Name() string { return j.name }

func newTestScheduler(t *testing.T) (*Scheduler, *database.DB) {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	return New(db.Conn(), zerolog.Nop()), db
}

// TestScheduler_RecordRun verifies job outcomes land in the history
// table.
func TestScheduler_RecordRun(t *testing.T) {
	sched, db := newTestScheduler(t)

	sched.recordRun("metrics_collection", nil, 120*time.Millisecond)
	sched.recordRun("decision_cycle", errors.New("feed offline"), 30*time.Millisecond)

	rows, err := db.Conn().Query(`SELECT job, success, error, duration_ms FROM job_history ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	type run struct {
		job        string
		success    int
		errText    string
		durationMS int64
	}
	var runs []run
	for rows.Next() {
		var r run
		require.NoError(t, rows.Scan(&r.job, &r.success, &r.errText, &r.durationMS))
		runs = append(runs, r)
	}
	require.NoError(t, rows.Err())

	require.Len(t, runs, 2)
	assert.Equal(t, run{"metrics_collection", 1, "", 120}, runs[0])
	assert.Equal(t, run{"decision_cycle", 0, "feed offline", 30}, runs[1])
}

// TestScheduler_AddJobInvalidSchedule verifies bad cron expressions are
// rejected at registration.
func TestScheduler_AddJobInvalidSchedule(t *testing.T) {
	sched, _ := newTestScheduler(t)
	assert.Error(t, sched.AddJob("not a schedule", &stubJob{name: "noop"}))
}

// TestScheduler_RunNow verifies immediate execution outside the
// schedule.
func TestScheduler_RunNow(t *testing.T) {
	sched, _ := newTestScheduler(t)

	job := &stubJob{name: "backup"}
	require.NoError(t, sched.RunNow(job))
	assert.Equal(t, 1, job.runs)

	failing := &stubJob{name: "backup", err: errors.New("bucket unreachable")}
	assert.ErrorContains(t, sched.RunNow(failing), "bucket unreachable")
}
