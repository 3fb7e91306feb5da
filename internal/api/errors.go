package api

import (
	"errors"
	"grid-scalper-bot-go/internal/bot"
	"grid-scalper-bot-go/internal/manager"
	"grid-scalper-bot-go/internal/models"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Stable error codes returned to clients
const (
	CodeNoActiveBot      = "NO_ACTIVE_BOT"
	CodeCapacityExceeded = "CAPACITY_EXCEEDED"
	CodeUnknownBot       = "UNKNOWN_BOT"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeInvalidState     = "INVALID_STATE"
	CodeBadRequest       = "BAD_REQUEST"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL"
)

// errBadRequest marks malformed request bodies
var errBadRequest = errors.New("bad request")

// classify maps a command error to an HTTP status and a stable code
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, manager.ErrNoActiveBot):
		return http.StatusNotFound, CodeNoActiveBot
	case errors.Is(err, manager.ErrCapacityExceeded):
		return http.StatusBadRequest, CodeCapacityExceeded
	case errors.Is(err, manager.ErrUnknownBot):
		return http.StatusBadRequest, CodeUnknownBot
	case errors.Is(err, models.ErrInvalidConfig), errors.Is(err, bot.ErrStrategyType):
		return http.StatusBadRequest, CodeInvalidConfig
	case errors.Is(err, bot.ErrInvalidTransition), errors.Is(err, bot.ErrStrategyLocked), errors.Is(err, bot.ErrClosed):
		return http.StatusBadRequest, CodeInvalidState
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// commandError sends the classified error for err
func commandError(c *gin.Context, err error) {
	status, code := classify(err)
	errorResponse(c, status, code, err.Error())
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
