package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/invoicer/backend/internal/application/finance"
)

// PaymentHandler serves recorded and push payments
type PaymentHandler struct {
	BaseHandler
	payments   *finance.PaymentService
	reconciler *finance.PaymentReconciler
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments *finance.PaymentService, reconciler *finance.PaymentReconciler) *PaymentHandler {
	return &PaymentHandler{payments: payments, reconciler: reconciler}
}

// RecordPayment handles POST /payments
func (h *PaymentHandler) RecordPayment(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req finance.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	resp, err := h.payments.RecordPayment(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// ApplyCredit handles POST /payments/:id/apply-credit
func (h *PaymentHandler) ApplyCredit(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	paymentID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req finance.ApplyCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	resp, err := h.payments.ApplyUnappliedCredit(c.Request.Context(), tenantID, paymentID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// GetPayment handles GET /payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	resp, err := h.payments.GetPayment(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// InitiateSTKPush handles POST /payments/mpesa/stk-push
func (h *PaymentHandler) InitiateSTKPush(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req finance.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	resp, err := h.reconciler.Initiate(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// QueryStatus handles GET /payments/:id/status. It asks the gateway
// directly when the payment is still pending.
func (h *PaymentHandler) QueryStatus(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	resp, err := h.reconciler.QueryStatus(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// PollStatus handles GET /payments/status/:token. The client token is the
// only credential, so this route sits outside tenant authentication.
func (h *PaymentHandler) PollStatus(c *gin.Context) {
	resp, err := h.reconciler.PollStatus(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}
