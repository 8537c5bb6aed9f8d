package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agrovault/notify/internal/domain"
)

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrNoRecipient) ||
		errors.Is(err, domain.ErrNoChannels) ||
		errors.Is(err, domain.ErrUnknownChannel) ||
		errors.Is(err, domain.ErrEmptyMessage)
}

// createNotification accepts one request and dispatches it
// synchronously. A request carrying a future scheduled_at is deferred
// instead and answered with 202 plus a tracking id.
func (s *Server) createNotification(c *gin.Context) {
	var req domain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.ScheduledAt != nil && req.ScheduledAt.After(time.Now()) {
		trackingID, err := s.engine.Schedule(c.Request.Context(), &req, *req.ScheduledAt)
		if err != nil {
			if isValidationError(err) {
				badRequest(c, err)
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"tracking_id":  trackingID,
			"scheduled_at": req.ScheduledAt,
		})
		return
	}

	result, err := s.engine.Submit(c.Request.Context(), &req)
	if err != nil {
		if isValidationError(err) {
			badRequest(c, err)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type bulkRequest struct {
	Recipients   []string       `json:"recipients"`
	Notification domain.Request `json:"notification"`
}

func (s *Server) createBulkNotification(c *gin.Context) {
	var body bulkRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	results, summary, err := s.engine.SubmitBulk(c.Request.Context(), body.Recipients, &body.Notification)
	if err != nil {
		if isValidationError(err) {
			badRequest(c, err)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
		"results": results,
	})
}

func (s *Server) getNotification(c *gin.Context) {
	result, ok := s.engine.Result(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type confirmRequest struct {
	Status domain.ResultStatus `json:"status"`
}

// confirmNotification applies a provider delivery callback to a sent
// result. Only delivered and cancelled are accepted.
func (s *Server) confirmNotification(c *gin.Context) {
	var body confirmRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if body.Status != domain.StatusDelivered && body.Status != domain.StatusCancelled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be delivered or cancelled"})
		return
	}

	if !s.engine.Confirm(c.Request.Context(), c.Param("id"), body.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "confirmation not applicable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": body.Status})
}

type scheduleRequest struct {
	At           time.Time      `json:"at"`
	Notification domain.Request `json:"notification"`
}

func (s *Server) createSchedule(c *gin.Context) {
	var body scheduleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if body.At.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at is required"})
		return
	}

	trackingID, err := s.engine.Schedule(c.Request.Context(), &body.Notification, body.At)
	if err != nil {
		if isValidationError(err) {
			badRequest(c, err)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"tracking_id": trackingID, "at": body.At})
}

func (s *Server) cancelSchedule(c *gin.Context) {
	if !s.engine.CancelScheduled(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found or already fired"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) getWebhookDelivery(c *gin.Context) {
	delivery, ok := s.engine.WebhookStatus(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook delivery not found"})
		return
	}
	c.JSON(http.StatusOK, delivery)
}

func (s *Server) cancelWebhookDelivery(c *gin.Context) {
	if !s.engine.CancelWebhook(c.Param("id")) {
		c.JSON(http.StatusConflict, gin.H{"error": "delivery not found or already terminal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
