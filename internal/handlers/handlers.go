package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/api"
	"github.com/Must-be-Ash/freepik-402demo/internal/gateway"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
	"github.com/Must-be-Ash/freepik-402demo/internal/storage"
	"github.com/Must-be-Ash/freepik-402demo/internal/webhook"
)

const maxWebhookBody = 1 << 20

// Gateway is the part of gateway.Gateway the handlers use
type Gateway interface {
	Submit(ctx context.Context, req *models.GenerationRequest, paymentHeader, host string) (*gateway.Result, error)
	TaskStatus(ctx context.Context, taskID string) (*gateway.Result, error)
}

// Authenticator checks webhook signatures
type Authenticator interface {
	Authenticate(id, timestamp, signature string, rawBody []byte, secret string) webhook.Result
}

// statser is implemented by stores that can report their size
type statser interface {
	Stats() (int, int)
}

type Handler struct {
	gateway       Gateway
	store         storage.TaskStore
	auth          Authenticator
	webhookSecret string
	logger        *zap.Logger
}

// NewHandler creates the HTTP handlers. An empty webhookSecret disables webhook authentication.
func NewHandler(gw Gateway, store storage.TaskStore, auth Authenticator, webhookSecret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		gateway:       gw,
		store:         store,
		auth:          auth,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// POST /api/generate-image
func (h *Handler) GenerateImage(c *gin.Context) {
	var req models.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, api.APIError{
			Error: "Invalid request format",
			Code:  api.ErrorCodeValidationFailed,
		})
		return
	}

	res, err := h.gateway.Submit(c.Request.Context(), &req, c.GetHeader(api.HeaderPayment), c.Request.Host)
	if err != nil {
		h.writeError(c, err)
		return
	}

	writeResult(c, res)
}

// GET /api/task-status?task_id=
func (h *Handler) TaskStatus(c *gin.Context) {
	taskID := c.Query("task_id")

	res, err := h.gateway.TaskStatus(c.Request.Context(), taskID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// Finished tasks are recorded so the webhook GET can serve them as well
	if task, ok := models.TaskFromEnvelope(res.Body); ok && task.Status.Terminal() {
		if err := h.store.Put(c.Request.Context(), task.TaskID, task); err != nil {
			h.logger.Warn("failed to record polled task", zap.String("task_id", task.TaskID), zap.Error(err))
		}
	}

	writeResult(c, res)
}

// POST /api/webhooks/freepik
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.APIError{Error: "Failed to read body", Code: api.ErrorCodeMalformedPayload})
		return
	}

	if h.webhookSecret != "" {
		id := c.GetHeader(api.HeaderWebhookID)
		ts := c.GetHeader(api.HeaderWebhookTimestamp)
		sig := c.GetHeader(api.HeaderWebhookSignature)

		if id == "" || ts == "" || sig == "" {
			h.rejectWebhook(c, "Webhook security headers missing")
			return
		}
		if result := h.auth.Authenticate(id, ts, sig, rawBody, h.webhookSecret); !result.Valid {
			h.rejectWebhook(c, result.Reason)
			return
		}
		h.logger.Debug("webhook signature verified", zap.String("webhook_id", id))
	} else {
		h.logger.Warn("webhook secret not configured, accepting unauthenticated delivery")
	}

	task, err := webhook.ParsePayload(rawBody)
	if err != nil {
		var malformed *webhook.MalformedPayloadError
		if errors.As(err, &malformed) {
			h.logger.Warn("malformed webhook payload", zap.String("reason", malformed.Reason))
			c.JSON(http.StatusBadRequest, api.APIError{Error: malformed.Reason, Code: api.ErrorCodeMalformedPayload})
			return
		}
		c.JSON(http.StatusInternalServerError, api.APIError{Error: "Webhook processing failed", Code: api.ErrorCodeInternalError})
		return
	}

	if err := h.store.Put(c.Request.Context(), task.TaskID, task); err != nil {
		h.logger.Error("failed to store webhook result", zap.String("task_id", task.TaskID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.APIError{Error: "Webhook processing failed", Code: api.ErrorCodeInternalError})
		return
	}

	h.logger.Info("stored webhook result",
		zap.String("task_id", task.TaskID),
		zap.String("status", string(task.Status)),
		zap.Strings("generated", task.Generated),
	)

	c.JSON(http.StatusOK, api.WebhookAck{Success: true, Received: task.TaskID})
}

// GET /api/webhooks/freepik?task_id=
func (h *Handler) GetWebhookResult(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, api.APIError{Error: "task_id parameter required", Code: api.ErrorCodeValidationFailed})
		return
	}

	task, err := h.store.Get(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, api.APIError{Error: "Task not found", Code: api.ErrorCodeTaskNotFound})
			return
		}
		h.logger.Error("failed to read task", zap.String("task_id", taskID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.APIError{Error: "Failed to read task", Code: api.ErrorCodeInternalError})
		return
	}

	c.JSON(http.StatusOK, task)
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{
		"status":               "healthy",
		"timestamp":            time.Now().UTC(),
		"service":              "image-gateway",
		"webhook_verification": h.webhookSecret != "",
	}
	if s, ok := h.store.(statser); ok {
		total, withImages := s.Stats()
		resp["tasks"] = gin.H{"total": total, "with_images": withImages}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) rejectWebhook(c *gin.Context, reason string) {
	h.logger.Warn("webhook rejected", zap.Error(&webhook.AuthError{Reason: reason}), zap.String("remote", c.ClientIP()))
	c.JSON(http.StatusUnauthorized, api.APIError{
		Error:   "Webhook validation failed",
		Code:    api.ErrorCodeWebhookAuth,
		Message: reason,
	})
}

// writeError maps gateway errors onto the normalized JSON error bodies
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validation  *gateway.ValidationError
		configErr   *gateway.ConfigurationError
		unreachable *gateway.UpstreamUnreachableError
		classified  *gateway.ClassifiedUpstreamError
		unexpected  *gateway.UnexpectedUpstreamStatusError
		statusQuery *gateway.StatusQueryError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, api.APIError{Error: validation.Message, Code: api.ErrorCodeValidationFailed})

	case errors.As(err, &configErr):
		h.logger.Error("configuration error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.APIError{Error: configErr.Message, Code: api.ErrorCodeConfiguration})

	case errors.As(err, &unreachable):
		c.JSON(http.StatusInternalServerError, api.APIError{
			Error:       "Facilitator verification failed",
			Code:        api.ErrorCodeUpstreamUnreachable,
			Message:     "Payment verification failed: " + unreachable.Cause.Error(),
			ErrorType:   unreachable.ErrorType(),
			Facilitator: unreachable.Endpoint,
		})

	case errors.As(err, &classified):
		diag := classified.Diagnostics
		c.JSON(http.StatusInternalServerError, api.APIError{
			Error:       "Freepik server error",
			Code:        api.ErrorCodeUpstreamError,
			Message:     classified.Message,
			Status:      classified.Status,
			Details:     classified.Details,
			Diagnostics: &diag,
		})

	case errors.As(err, &unexpected):
		c.JSON(http.StatusInternalServerError, api.APIError{
			Error:  "Unexpected response from Freepik",
			Code:   api.ErrorCodeUnexpectedStatus,
			Status: unexpected.Status,
		})

	case errors.As(err, &statusQuery):
		c.JSON(statusQuery.Status, api.APIError{
			Error:   "Freepik API error",
			Code:    api.ErrorCodeUpstreamError,
			Message: statusQuery.Message,
			Status:  statusQuery.Status,
			TaskID:  statusQuery.TaskID,
		})

	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.APIError{
			Error:   "Failed to generate image",
			Code:    api.ErrorCodeInternalError,
			Message: "Unknown error occurred",
		})
	}
}

func writeResult(c *gin.Context, res *gateway.Result) {
	contentType := "application/json"
	for k, vs := range res.Header {
		if http.CanonicalHeaderKey(k) == "Content-Type" {
			if len(vs) > 0 {
				contentType = vs[0]
			}
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Data(res.StatusCode, contentType, res.Body)
}
