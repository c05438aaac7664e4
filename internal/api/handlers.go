package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/divvychat/divvychat/internal/service/pipeline"
	"github.com/divvychat/divvychat/pkg/models"
)

// Request/Response types

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// RejectionResponse is returned when a request is refused before any
// provider work happens
type RejectionResponse struct {
	Error             string  `json:"error"`
	Kind              string  `json:"error_kind"`
	RetryAfterSeconds int     `json:"retry_after_seconds,omitempty"`
	CurrentSpend      float64 `json:"current_spend,omitempty"`
	RequestID         string  `json:"request_id,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// ReadyResponse is the readiness check response
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// CostQueryParams defines query parameters for cost endpoints
type CostQueryParams struct {
	CallerID       string `form:"caller_id"`
	ConversationID string `form:"conversation_id"`
	Tier           string `form:"tier"`
	StartDate      string `form:"start_date"`
	EndDate        string `form:"end_date"`
	Limit          int    `form:"limit"`
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			response.Services["store"] = "degraded"
		} else {
			response.Services["store"] = "ok"
		}
	}

	if s.db != nil {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			response.Services["database"] = "degraded"
		} else {
			response.Services["database"] = "ok"
		}
	}

	// Return 503 if not ready (e.g., during startup)
	if !s.ready.Load() {
		response.Status = "unavailable"
		response.Services["ready"] = "false"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Services["ready"] = "true"
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleReady(c *gin.Context) {
	response := ReadyResponse{
		Ready:     s.ready.Load(),
		Timestamp: time.Now(),
	}

	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleChat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:     "validation failed: " + validationErrs.Error(),
				RequestID: c.GetString("request_id"),
			})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid request body",
			RequestID: c.GetString("request_id"),
		})
		return
	}

	result, err := s.pipeline.Handle(c.Request.Context(), req)
	if err != nil {
		if rej, ok := pipeline.ToRejection(err); ok {
			s.writeRejection(c, rej)
			return
		}
		s.logger.Error("chat pipeline failed", "error", err,
			"request_id", c.GetString("request_id"))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "internal server error",
			RequestID: c.GetString("request_id"),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) writeRejection(c *gin.Context, rej *models.Rejection) {
	status := http.StatusTooManyRequests
	message := "rate limit exceeded"
	switch rej.Kind {
	case models.RejectBudgetExceeded:
		message = "daily budget exhausted"
	case models.RejectConversationTooLong:
		status = http.StatusUnprocessableEntity
		message = "conversation turn cap reached, start a new conversation"
	}

	if rej.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(rej.RetryAfterSeconds))
	}
	c.JSON(status, RejectionResponse{
		Error:             message,
		Kind:              string(rej.Kind),
		RetryAfterSeconds: rej.RetryAfterSeconds,
		CurrentSpend:      rej.CurrentSpend,
		RequestID:         c.GetString("request_id"),
	})
}

func (s *Server) handleListCosts(c *gin.Context) {
	if s.costs == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "cost reporting not configured"})
		return
	}

	params, query, ok := s.bindCostQuery(c)
	if !ok {
		return
	}

	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	records, err := s.costs.List(c.Request.Context(), query, limit)
	if err != nil {
		s.logger.Error("failed to list costs", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to list costs",
			RequestID: c.GetString("request_id"),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"costs": records, "count": len(records)})
}

func (s *Server) handleGetCostSummary(c *gin.Context) {
	if s.costs == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "cost reporting not configured"})
		return
	}

	_, query, ok := s.bindCostQuery(c)
	if !ok {
		return
	}

	summary, err := s.costs.GetSummary(c.Request.Context(), query)
	if err != nil {
		s.logger.Error("failed to get cost summary", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to get cost summary",
			RequestID: c.GetString("request_id"),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGetBudget(c *gin.Context) {
	callerID := c.Param("caller_id")

	status, err := s.budget.Status(c.Request.Context(), callerID)
	if err != nil {
		s.logger.Error("failed to get budget status", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to get budget status",
			RequestID: c.GetString("request_id"),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// bindCostQuery parses the shared cost query parameters. Dates are
// YYYY-MM-DD; the end date is exclusive.
func (s *Server) bindCostQuery(c *gin.Context) (CostQueryParams, models.CostQuery, bool) {
	var params CostQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid query parameters",
			RequestID: c.GetString("request_id"),
		})
		return params, models.CostQuery{}, false
	}

	query := models.CostQuery{
		CallerID:       params.CallerID,
		ConversationID: params.ConversationID,
		Tier:           params.Tier,
	}

	if params.StartDate != "" {
		start, err := time.Parse("2006-01-02", params.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:     "invalid start_date, expected YYYY-MM-DD",
				RequestID: c.GetString("request_id"),
			})
			return params, models.CostQuery{}, false
		}
		query.StartTime = start
	}

	if params.EndDate != "" {
		end, err := time.Parse("2006-01-02", params.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:     "invalid end_date, expected YYYY-MM-DD",
				RequestID: c.GetString("request_id"),
			})
			return params, models.CostQuery{}, false
		}
		query.EndTime = end
	}

	return params, query, true
}
