package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/bothost/internal/config"
	"github.com/edgard/bothost/internal/logger"
	"github.com/edgard/bothost/internal/scheduler/tasks"
)

func TestSchedulerRunsEnabledTasks(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	cfg := &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		"tick":     {Enabled: true, Schedule: "* * * * * *"},
		"disabled": {Enabled: false, Schedule: "* * * * * *"},
		"unknown":  {Enabled: true, Schedule: "* * * * * *"},
	}}
	taskMap := map[string]tasks.ScheduledTaskFunc{
		"tick": func(context.Context) error {
			runs.Add(1)
			return nil
		},
		"disabled": func(context.Context) error {
			t.Error("disabled task ran")
			return nil
		},
	}

	s, err := NewScheduler(logger.Discard(), cfg, taskMap)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start")
	assert.Equal(t, []string{"tick"}, s.Jobs())

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestSchedulerSurvivesPanickingTask(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	cfg := &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		"boom": {Enabled: true, Schedule: "* * * * * *"},
	}}
	taskMap := map[string]tasks.ScheduledTaskFunc{
		"boom": func(context.Context) error {
			runs.Add(1)
			panic("task exploded")
		},
	}

	s, err := NewScheduler(logger.Discard(), cfg, taskMap)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
}

func TestSchedulerWithoutTasks(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(logger.Discard(), &config.SchedulerConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	assert.Empty(t, s.Jobs())
	require.NoError(t, s.Stop())
}
