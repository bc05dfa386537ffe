package api

import (
	"net/http"
	"strconv"
	"strings"

	"binance-decision-core/internal/analysis"
	"binance-decision-core/internal/engine"
	"binance-decision-core/internal/market"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// SESSION HANDLERS
// ============================================================================

// sessionView is the operator's picture of one symbol
type sessionView struct {
	Symbol     string                   `json:"symbol"`
	Ticks      int                      `json:"ticks"`
	Trend      market.TrendBias         `json:"trend"`
	LastEvent  *analysis.StructureEvent `json:"last_event,omitempty"`
	Strategies []string                 `json:"strategies"`
	LastResult *engine.TickResult       `json:"last_result,omitempty"`
}

func viewSession(s *engine.Session) sessionView {
	v := sessionView{
		Symbol:     s.Symbol(),
		Ticks:      s.Ticks(),
		Trend:      s.Tracker().Trend(),
		LastEvent:  s.Tracker().LastEvent(),
		LastResult: s.LastResult(),
	}
	for _, st := range s.Coordinator().Strategies() {
		v.Strategies = append(v.Strategies, st.Name())
	}
	return v
}

// handleListSessions returns every configured symbol
func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.deps.Engine.Sessions()
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, viewSession(sess))
	}
	successResponse(c, views)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.deps.Engine.Session(strings.ToUpper(c.Param("symbol")))
	if !ok {
		errorResponse(c, http.StatusNotFound, "Unknown symbol")
		return
	}
	successResponse(c, viewSession(sess))
}

// handleResetStructure returns a symbol's trend tracker to NEUTRAL
func (s *Server) handleResetStructure(c *gin.Context) {
	sess, ok := s.deps.Engine.Session(strings.ToUpper(c.Param("symbol")))
	if !ok {
		errorResponse(c, http.StatusNotFound, "Unknown symbol")
		return
	}
	sess.ResetStructure(c.Request.Context())
	successResponse(c, gin.H{"symbol": sess.Symbol(), "trend": sess.Tracker().Trend()})
}

// ============================================================================
// PENDING ENTRY HANDLERS
// ============================================================================

// handleListPending returns live pending entries, optionally for one symbol
func (s *Server) handleListPending(c *gin.Context) {
	mgr := s.deps.Engine.Confirmations()
	if mgr == nil {
		successResponse(c, []interface{}{})
		return
	}
	ctx := c.Request.Context()
	if sym := c.Query("symbol"); sym != "" {
		successResponse(c, mgr.PendingForSymbol(ctx, strings.ToUpper(sym)))
		return
	}
	successResponse(c, mgr.GetAllPending(ctx))
}

func (s *Server) handleCancelPending(c *gin.Context) {
	id := c.Param("id")
	if !s.deps.Engine.CancelPending(c.Request.Context(), id) {
		errorResponse(c, http.StatusNotFound, "Pending entry not found")
		return
	}
	successResponse(c, gin.H{"id": id, "cancelled": true})
}

// ============================================================================
// CIRCUIT BREAKER HANDLERS
// ============================================================================

func (s *Server) handleCircuitStatus(c *gin.Context) {
	if s.deps.Breaker == nil {
		successResponse(c, gin.H{"enabled": false})
		return
	}
	successResponse(c, s.deps.Breaker.GetStats())
}

func (s *Server) handleCircuitReset(c *gin.Context) {
	if s.deps.Breaker == nil {
		errorResponse(c, http.StatusNotFound, "Circuit breaker not configured")
		return
	}
	s.deps.Breaker.ForceReset()
	s.logger.Warn("Circuit breaker reset by operator", "client", c.ClientIP())
	successResponse(c, s.deps.Breaker.GetStats())
}

// tradeResultRequest reports a realised trade result back to the breaker
type tradeResultRequest struct {
	PnLPercent *float64 `json:"pnl_percent" binding:"required"`
}

// handleRecordTrade feeds a closed trade's P&L into the breaker
func (s *Server) handleRecordTrade(c *gin.Context) {
	if s.deps.Breaker == nil {
		errorResponse(c, http.StatusNotFound, "Circuit breaker not configured")
		return
	}
	var req tradeResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	s.deps.Breaker.RecordTrade(*req.PnLPercent)
	successResponse(c, s.deps.Breaker.GetStats())
}

// ============================================================================
// HISTORY HANDLERS
// ============================================================================

func queryLimit(c *gin.Context, def, ceiling int) int {
	limit := def
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return min(limit, ceiling)
}

// handleRecentEvents returns the newest bus events, oldest first
func (s *Server) handleRecentEvents(c *gin.Context) {
	successResponse(c, s.deps.Bus.Recent(queryLimit(c, 50, 500)))
}

func (s *Server) handleRecentDecisions(c *gin.Context) {
	if s.deps.History == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Decision journal not configured")
		return
	}
	rows, err := s.deps.History.GetRecentDecisions(c.Request.Context(), strings.ToUpper(c.Query("symbol")), queryLimit(c, 100, 1000))
	if err != nil {
		s.logger.Error("Failed to fetch decisions", "error", err)
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch decisions")
		return
	}
	successResponse(c, rows)
}

func (s *Server) handleRecentSignals(c *gin.Context) {
	if s.deps.History == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Decision journal not configured")
		return
	}
	rows, err := s.deps.History.GetRecentSignals(c.Request.Context(), queryLimit(c, 100, 1000))
	if err != nil {
		s.logger.Error("Failed to fetch signals", "error", err)
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch signals")
		return
	}
	successResponse(c, rows)
}
