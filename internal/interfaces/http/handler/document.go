package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/application/finance"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/interfaces/http/dto"
)

// DocumentHandler serves invoices and bills
type DocumentHandler struct {
	BaseHandler
	invoices *finance.InvoiceService
}

// NewDocumentHandler creates a new DocumentHandler
func NewDocumentHandler(invoices *finance.InvoiceService) *DocumentHandler {
	return &DocumentHandler{invoices: invoices}
}

type documentAction func(ctx context.Context, tenantID, id uuid.UUID) (*finance.DocumentResponse, error)

// CreateInvoice handles POST /invoices
func (h *DocumentHandler) CreateInvoice(c *gin.Context) {
	h.create(c, h.invoices.CreateInvoice)
}

// CreateBill handles POST /bills
func (h *DocumentHandler) CreateBill(c *gin.Context) {
	h.create(c, h.invoices.CreateBill)
}

func (h *DocumentHandler) create(c *gin.Context, fn func(context.Context, uuid.UUID, finance.CreateDocumentRequest) (*finance.DocumentResponse, error)) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req finance.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	doc, err := fn(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, doc)
}

// GetDocument handles GET /documents/:id
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	h.act(c, h.invoices.GetDocument)
}

// ListInvoices handles GET /invoices
func (h *DocumentHandler) ListInvoices(c *gin.Context) {
	h.list(c, invoicing.KindInvoice)
}

// ListBills handles GET /bills
func (h *DocumentHandler) ListBills(c *gin.Context) {
	h.list(c, invoicing.KindBill)
}

func (h *DocumentHandler) list(c *gin.Context, kind invoicing.DocumentKind) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BindError(c, err)
		return
	}

	page, err := h.invoices.ListDocuments(c.Request.Context(), tenantID, kind, req.ToFilter())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPaginatedResponse(page))
}

// SendInvoice handles POST /invoices/:id/send
func (h *DocumentHandler) SendInvoice(c *gin.Context) {
	h.act(c, h.invoices.SendInvoice)
}

// ReceiveBill handles POST /bills/:id/receive
func (h *DocumentHandler) ReceiveBill(c *gin.Context) {
	h.act(c, h.invoices.ReceiveBill)
}

// CancelDocument handles POST /documents/:id/cancel
func (h *DocumentHandler) CancelDocument(c *gin.Context) {
	h.act(c, h.invoices.CancelDocument)
}

func (h *DocumentHandler) act(c *gin.Context, fn documentAction) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	doc, err := fn(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, doc)
}
