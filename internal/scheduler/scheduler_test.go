package scheduler

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduleInterval_RunsJob(t *testing.T) {
	s := New(nil, quiet())
	fired := make(chan struct{}, 1)
	_, err := s.ScheduleInterval("tick", time.Second, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestSchedule_RejectsBadSpec(t *testing.T) {
	s := New(time.UTC, quiet())
	_, err := s.Schedule("bad", "every so often", func() {})
	assert.Error(t, err)
	_, err = s.ScheduleInterval("zero", 0, func() {})
	assert.Error(t, err)
	assert.Zero(t, s.Len())
}

func TestSchedule_RemoveAndLen(t *testing.T) {
	s := New(time.UTC, quiet())
	id, err := s.Schedule("daily", "0 30 9 * * *", func() {})
	require.NoError(t, err)
	_, err = s.Schedule("retry", "@every 5m", func() {})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	s.Remove(id)
	assert.Equal(t, 1, s.Len())
}

func TestSkipIfStillRunning(t *testing.T) {
	s := New(nil, quiet())
	var running, runs atomic.Int32
	release := make(chan struct{})
	_, err := s.ScheduleInterval("slow", time.Second, func() {
		if running.Add(1) > 1 {
			t.Error("overlapping run")
		}
		runs.Add(1)
		<-release
		running.Add(-1)
	})
	require.NoError(t, err)
	s.Start()

	time.Sleep(2500 * time.Millisecond)
	close(release)
	s.Stop()
	assert.Equal(t, int32(1), runs.Load())
}
