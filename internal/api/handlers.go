package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"strategy-monitor/internal/logic"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	status := "ok"
	if s.cache != nil && !s.cache.Healthy() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleListStrategies(c *gin.Context) {
	strategies, err := s.store.LoadActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(strategies))
	for _, strat := range strategies {
		out = append(out, gin.H{
			"id":                strat.ID,
			"name":              strat.Name,
			"schedule":          strat.Schedule,
			"status":            strat.Status,
			"last_run_at":       strat.LastRunAt,
			"last_triggered_at": strat.LastTriggeredAt,
			"trigger_count":     strat.TriggerCount,
			"condition_count":   len(strat.Conditions),
		})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

// handleReloadStrategies exists for operational parity with the source
// control plane's reload endpoint. This engine already re-reads active
// strategies from the Store on every cycle, so there is no in-memory
// cache to invalidate; this simply confirms the Store is reachable.
func (s *Server) handleReloadStrategies(c *gin.Context) {
	if _, err := s.store.LoadActive(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": true})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strategy id"})
		return
	}

	strat, err := s.store.LoadByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if strat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}

	outcome := logic.Evaluate(c.Request.Context(), s.newEval(), strat, strat.LogicTree, "usd")
	c.JSON(http.StatusOK, gin.H{
		"strategy_id": strat.ID,
		"met":         outcome.Met,
		"snapshot":    outcome.Snapshot,
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	m := s.metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"cycles_run":     m.CyclesRun,
		"strategies_due": m.StrategiesDue,
		"triggers_fired": m.TriggersFired,
		"last_cycle_at":  m.LastCycleAt,
	})
}

func (s *Server) handleTriggerLogs(c *gin.Context) {
	idRaw := c.Query("strategy_id")
	id, err := uuid.Parse(idRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "strategy_id query parameter required"})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	logs, err := s.store.TriggerLogs(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trigger_logs": logs})
}

func (s *Server) handleCacheGet(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key query parameter required"})
		return
	}
	value, present, err := s.cache.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !present {
		c.JSON(http.StatusNotFound, gin.H{"present": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"present": true, "value": value})
}
