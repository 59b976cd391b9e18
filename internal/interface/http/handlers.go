package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/lesson-insights/internal/application/command"
	"github.com/alem-hub/lesson-insights/internal/application/query"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/internal/interface/http/handlers"
	"github.com/alem-hub/lesson-insights/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.Health.Check(c.Request.Context())
	if !status.Healthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

// GET /api/v1/users/:userId/heatmap?days=84
func (s *Server) handleHeatmap(c *gin.Context) {
	days, ok := intParam(c, "days")
	if !ok {
		return
	}
	res, err := s.deps.Activity.Heatmap(c.Request.Context(), query.GetHeatmapQuery{
		UserID: c.Param("userId"),
		Days:   days,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/v1/users/:userId/trend?mode=daily|weekly
func (s *Server) handleTrend(c *gin.Context) {
	res, err := s.deps.Activity.Trend(c.Request.Context(), query.GetTrendQuery{
		UserID: c.Param("userId"),
		Mode:   c.Query("mode"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) habit(c *gin.Context) (*query.HabitResult, bool) {
	res, err := s.deps.Habit.Handle(c.Request.Context(), query.GetHabitQuery{
		UserID:     c.Param("userId"),
		HabitState: c.Query("state"),
	})
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return res, true
}

// GET /api/v1/users/:userId/habit?state=stable|warning|danger
func (s *Server) handleHabit(c *gin.Context) {
	if res, ok := s.habit(c); ok {
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) handleStreak(c *gin.Context) {
	if res, ok := s.habit(c); ok {
		c.JSON(http.StatusOK, res.Streak)
	}
}

func (s *Server) handleWeeklyGoal(c *gin.Context) {
	if res, ok := s.habit(c); ok {
		c.JSON(http.StatusOK, res.WeeklyGoal)
	}
}

// handleIntervention answers 204 when no intervention applies.
func (s *Server) handleIntervention(c *gin.Context) {
	res, ok := s.habit(c)
	if !ok {
		return
	}
	if res.Intervention == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, res.Intervention)
}

// ══════════════════════════════════════════════════════════════════════════════
// INGESTION
// ══════════════════════════════════════════════════════════════════════════════

// POST /api/v1/events
func (s *Server) handleIngestEvents(c *gin.Context) {
	var cmd command.IngestEventsCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, handlers.ErrorBody{Error: "invalid_body", Message: err.Error()})
		return
	}
	res, err := s.deps.IngestEvents.Handle(c.Request.Context(), cmd)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// PUT /api/v1/metrics
func (s *Server) handleUpsertMetrics(c *gin.Context) {
	var cmd command.UpsertMetricsCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, handlers.ErrorBody{Error: "invalid_body", Message: err.Error()})
		return
	}
	n, err := s.deps.UpsertMetrics.Handle(c.Request.Context(), cmd)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upserted": n})
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

// GET /api/v1/admin/summary?period=today|7d|30d
func (s *Server) handleSummary(c *gin.Context) {
	res, err := s.deps.Admin.Summary(c.Request.Context(), query.GetSummaryQuery{Period: c.Query("period")})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/v1/admin/leaderboards?limit=10
func (s *Server) handleLeaderboards(c *gin.Context) {
	n, ok := intParam(c, "limit")
	if !ok {
		return
	}
	res, err := s.deps.Admin.Leaderboards(c.Request.Context(), query.GetLeaderboardsQuery{Limit: n})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleLessonRankings(c *gin.Context) {
	res, err := s.deps.Admin.LessonRankings(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/v1/admin/lessons/priorities?actionable=true&limit=20
func (s *Server) handlePriorities(c *gin.Context) {
	n, ok := intParam(c, "limit")
	if !ok {
		return
	}
	actionable, err := strconv.ParseBool(c.DefaultQuery("actionable", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handlers.ErrorBody{Error: "invalid_parameter", Message: "actionable must be a boolean"})
		return
	}
	res, err := s.deps.Admin.Priorities(c.Request.Context(), query.GetPrioritiesQuery{ActionableOnly: actionable, Limit: n})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// intParam parses an optional integer query parameter; absent means 0.
func intParam(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, handlers.ErrorBody{Error: "invalid_parameter", Message: name + " must be an integer"})
		return 0, false
	}
	return n, true
}

// statusFor maps domain error kinds to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case shared.IsExternalService(err):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("request failed",
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
		msg = "An unexpected error occurred"
	}
	c.JSON(status, handlers.ErrorBody{Error: code, Message: msg})
}
