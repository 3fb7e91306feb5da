package api

import (
	"errors"
	"fmt"
	"grid-scalper-bot-go/internal/bot"
	"grid-scalper-bot-go/internal/models"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type startRequest struct {
	Strategy *models.Strategy `json:"strategy"`
}

type strategyRequest struct {
	Strategy *models.Strategy `json:"strategy"`
}

type reconcileRequest struct {
	BaseHoldings *float64 `json:"base_holdings"`
}

type createBotRequest struct {
	StrategyType models.StrategyType `json:"strategy_type"`
	Name         string              `json:"name"`
	Strategy     *models.Strategy    `json:"strategy"`
}

// bindJSON decodes an optional JSON body. Strategy validation errors keep
// their ErrInvalidConfig identity, anything else is a bad request.
func bindJSON(c *gin.Context, dst interface{}) error {
	err := c.ShouldBindJSON(dst)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, models.ErrInvalidConfig):
		return err
	default:
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
}

// respondStatus writes a bot snapshot or the classified error
func respondStatus(c *gin.Context, status bot.StatusSnapshot, err error) {
	if err != nil {
		commandError(c, err)
		return
	}
	successResponse(c, status)
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := bindJSON(c, &req); err != nil {
		commandError(c, err)
		return
	}
	status, err := s.manager.Start(req.Strategy)
	respondStatus(c, status, err)
}

func (s *Server) handleStop(c *gin.Context) {
	status, err := s.manager.Stop()
	respondStatus(c, status, err)
}

func (s *Server) handlePause(c *gin.Context) {
	status, err := s.manager.Pause()
	respondStatus(c, status, err)
}

func (s *Server) handleResume(c *gin.Context) {
	status, err := s.manager.Resume()
	respondStatus(c, status, err)
}

func (s *Server) handleUpdateStrategy(c *gin.Context) {
	var req strategyRequest
	if err := bindJSON(c, &req); err != nil {
		commandError(c, err)
		return
	}
	if req.Strategy == nil || req.Strategy.Params == nil {
		commandError(c, fmt.Errorf("%w: strategy is required", errBadRequest))
		return
	}
	status, err := s.manager.UpdateStrategy(*req.Strategy)
	respondStatus(c, status, err)
}

// handleReconcile feeds externally observed base holdings to the active bot
func (s *Server) handleReconcile(c *gin.Context) {
	var req reconcileRequest
	if err := bindJSON(c, &req); err != nil {
		commandError(c, err)
		return
	}
	if req.BaseHoldings == nil {
		commandError(c, fmt.Errorf("%w: base_holdings is required", errBadRequest))
		return
	}
	status, err := s.manager.ReconcileHoldings(*req.BaseHoldings)
	respondStatus(c, status, err)
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.manager.Status()
	respondStatus(c, status, err)
}

func (s *Server) handleManager(c *gin.Context) {
	successResponse(c, s.manager.Snapshot())
}

func (s *Server) handleCreateBot(c *gin.Context) {
	var req createBotRequest
	if err := bindJSON(c, &req); err != nil {
		commandError(c, err)
		return
	}
	t := req.StrategyType
	if t == "" && req.Strategy != nil {
		t = req.Strategy.Type()
	}
	if t == "" {
		commandError(c, fmt.Errorf("%w: strategy_type is required", errBadRequest))
		return
	}
	status, err := s.manager.CreateBot(t, req.Name, req.Strategy)
	respondStatus(c, status, err)
}

func (s *Server) handleSelectBot(c *gin.Context) {
	status, err := s.manager.SelectBot(c.Param("id"))
	respondStatus(c, status, err)
}

func (s *Server) handleDeleteBot(c *gin.Context) {
	if err := s.manager.DeleteBot(c.Param("id")); err != nil {
		commandError(c, err)
		return
	}
	successResponse(c, s.manager.Snapshot())
}

// handleHealth returns server liveness and a short summary
func (s *Server) handleHealth(c *gin.Context) {
	snap := s.manager.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"bots":          len(snap.Bots),
		"active_bot_id": snap.ActiveBotID,
		"ws_clients":    s.hub.ClientCount(),
	})
}
