package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/lesson-insights/config"
	"github.com/alem-hub/lesson-insights/internal/application/command"
	"github.com/alem-hub/lesson-insights/internal/application/query"
	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/interface/http/handlers"
	"github.com/alem-hub/lesson-insights/pkg/logger"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

func memoryConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Name: "test", Environment: config.EnvDevelopment, Timezone: "UTC"},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Redis:    config.RedisConfig{Disabled: true},
		Tracker:  config.TrackerConfig{DryRun: true, RequestsPerSecond: 1},
		Analysis: config.AnalysisConfig{LookbackDays: 30, FollowUpWindowDays: 7, MaxIssuesPerRun: 3},
		Scoring:  improvement.DefaultWeights(),
		HTTP:     config.HTTPConfig{Port: 8080},
	}
}

func TestNew_MemoryDriver(t *testing.T) {
	c, err := New(context.Background(), memoryConfig(), logger.Nop(), true)
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Memory)
	assert.Nil(t, c.Cache)
	assert.Nil(t, c.Locker)
	assert.NotNil(t, c.Tracker)

	h := handlers.NewHealthChecker("test")
	c.RegisterHealthChecks(h)
	assert.True(t, h.Check(context.Background()).Healthy)
}

func TestContainer_IngestAndRead(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, memoryConfig(), nil, false)
	require.NoError(t, err)
	defer c.Close()

	today := timeutil.DateOf(time.Now().UTC())
	res, err := c.IngestEventsHandler().Handle(ctx, command.IngestEventsCommand{Events: []analytics.LearningEvent{
		{UserID: "u1", EventType: analytics.EventLessonViewed, EventDate: today, ReferenceID: "loops"},
		{UserID: "u1", EventType: analytics.EventLessonViewed, EventDate: today.AddDays(-1)},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)

	hm, err := c.ActivityHandler().Heatmap(ctx, query.GetHeatmapQuery{UserID: "u1", Days: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, hm.Total)

	habit, err := c.HabitHandler().Handle(ctx, query.GetHabitQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", habit.UserID)

	opened, err := c.OpenIssuesHandler().Handle(ctx, command.OpenIssuesCommand{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, opened.Opened)
}

func TestPostgresConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database = config.DatabaseConfig{
		Host:     "db.internal",
		Name:     "insights",
		Password: "pw",
		MaxConns: 20,
	}

	pc := PostgresConfig(cfg)
	assert.Equal(t, "db.internal", pc.Host)
	assert.Equal(t, 5432, pc.Port)
	assert.Equal(t, "insights", pc.Database)
	assert.Equal(t, "postgres", pc.User)
	assert.Equal(t, "pw", pc.Password)
	assert.Equal(t, int32(20), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
}

func TestRedisAndTrackerConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Redis = config.RedisConfig{Host: "cache", MetricTTL: time.Minute}
	cfg.Tracker = config.TrackerConfig{Owner: "org", Repo: "lessons", Token: "t", RequestsPerSecond: 2}

	rc := RedisConfig(cfg)
	assert.Equal(t, "cache:6379", rc.Addr())
	assert.Equal(t, time.Minute, rc.MetricTTL)

	gc := GitHubConfig(cfg)
	assert.Equal(t, "org", gc.Owner)
	assert.Equal(t, "lessons", gc.Repo)
	assert.Equal(t, 2.0, gc.RequestsPerSecond)
	assert.Equal(t, 5, gc.Burst)
}

func TestLoggerOptions(t *testing.T) {
	cfg := memoryConfig()
	cfg.Observability = config.ObservabilityConfig{LogLevel: "debug", LogFormat: "console", LogFile: "/tmp/insights.log"}

	opts := LoggerOptions(cfg)
	assert.Equal(t, logger.LevelDebug, opts.Level)
	assert.Equal(t, "console", opts.Format)
	require.NotNil(t, opts.File)
	assert.Equal(t, "/tmp/insights.log", opts.File.Path)
}
