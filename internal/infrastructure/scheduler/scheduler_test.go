package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/lesson-insights/internal/infrastructure/metrics"
)

type fakeJob struct {
	name  string
	runs  atomic.Int32
	err   error
	panic bool
}

func (j *fakeJob) Name() string        { return j.name }
func (j *fakeJob) Description() string { return "test job" }
func (j *fakeJob) Run(context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	return j.err
}

type fakeLocker struct{ held bool }

func (l *fakeLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	if l.held {
		return nil, errors.New("held")
	}
	return func(context.Context) error { return nil }, nil
}

func TestParseCronExpression(t *testing.T) {
	ce, err := ParseCronExpression("*/15 6-8 * * 1,3")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 15, 30, 45}, ce.minutes)
	assert.Equal(t, []int{6, 7, 8}, ce.hours)
	assert.Equal(t, []int{1, 3}, ce.weekdays)

	// Monday 2024-01-01 07:20 -> 07:30.
	from := time.Date(2024, 1, 1, 7, 20, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 7, 30, 0, 0, time.UTC), ce.Next(from))

	// After the last slot on Monday the next match is Wednesday 06:00.
	from = time.Date(2024, 1, 1, 8, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 3, 6, 0, 0, 0, time.UTC), ce.Next(from))
}

func TestParseCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{"* * * *", "60 * * * *", "*/0 * * * *", "a * * * *", "5-2 * * * *"} {
		_, err := ParseCronExpression(expr)
		assert.ErrorIs(t, err, ErrInvalidCron, expr)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 30m")
	require.NoError(t, err)
	assert.Equal(t, "@every 30m0s", s.String())

	s, err = ParseSchedule(EveryDay6AM)
	require.NoError(t, err)
	assert.Equal(t, EveryDay6AM, s.String())

	_, err = ParseSchedule("@every nope")
	assert.ErrorIs(t, err, ErrInvalidCron)
}

func TestScheduler_Register(t *testing.T) {
	s := New(Config{})
	job := &fakeJob{name: "j"}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Hour)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&fakeJob{name: "k"}, nil), ErrNilSchedule)
	assert.ErrorIs(t, s.SetEnabled("missing", true), ErrJobNotFound)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "j", jobs[0].Name)
	assert.Equal(t, "@every 1h0m0s", jobs[0].Schedule)
}

func TestScheduler_RunNow(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := New(Config{Metrics: m})

	ok := &fakeJob{name: "ok"}
	bad := &fakeJob{name: "bad", err: errors.New("fail")}
	boom := &fakeJob{name: "boom", panic: true}
	for _, j := range []*fakeJob{ok, bad, boom} {
		require.NoError(t, s.Register(j, NewIntervalSchedule(time.Hour)))
	}

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)
	assert.NotEmpty(t, res.RunID)

	_, err = s.RunNow(context.Background(), "bad")
	assert.EqualError(t, err, "fail")

	_, err = s.RunNow(context.Background(), "boom")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Len(t, s.History(0), 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("ok", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("bad", "error")))
}

func TestScheduler_LockHeldSkips(t *testing.T) {
	s := New(Config{Locker: &fakeLocker{held: true}})
	job := &fakeJob{name: "j"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "j")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, int32(0), job.runs.Load())
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := New(Config{Tick: 5 * time.Millisecond})
	job := &fakeJob{name: "fast"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}
