package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/application/finance"
	"github.com/invoicer/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// WebhookHandler receives payment gateway callbacks
type WebhookHandler struct {
	reconciler *finance.PaymentReconciler
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(reconciler *finance.PaymentReconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

var rejectedAck = finance.CallbackAck{ResultCode: 1, ResultDesc: "Rejected"}

// MpesaCallback handles POST /webhooks/mpesa/:tenant_id. Daraja only reads
// the acknowledgement body, so the status is 200 whatever the outcome.
func (h *WebhookHandler) MpesaCallback(c *gin.Context) {
	log := logger.FromContext(c.Request.Context())

	tenantID, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		log.Warn("Callback for invalid tenant id", zap.String("tenant_id", c.Param("tenant_id")))
		c.JSON(http.StatusOK, rejectedAck)
		return
	}
	ctx, log := logger.WithTenantID(c.Request.Context(), log, tenantID.String())
	c.Request = c.Request.WithContext(ctx)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warn("Failed to read callback body", zap.Error(err))
		c.JSON(http.StatusOK, rejectedAck)
		return
	}

	ack, err := h.reconciler.HandleCallback(ctx, tenantID, body)
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(http.StatusOK, ack)
}
