package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/invoicer/backend/internal/infrastructure/logger"
	"github.com/invoicer/backend/internal/interfaces/http/dto"
	"github.com/invoicer/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// invalidInput lists plain domain errors that describe bad caller input
var invalidInput = []error{
	payment.ErrInvalidAmount,
	payment.ErrInvalidMethod,
	payment.ErrInvalidTarget,
	payment.ErrInvalidPhone,
	payment.ErrInvalidToken,
	payment.ErrMalformedCallback,
	invoicing.ErrInvalidLineItem,
	ledger.ErrAccountNotFound,
	ledger.ErrInvalidAccount,
}

// gatewayErrors are reported to callers as one generic failure
var gatewayErrors = []error{
	payment.ErrGatewayNotConfigured,
	payment.ErrGatewayUnavailable,
	payment.ErrGatewayRequestFailed,
	payment.ErrGatewayInvalidResponse,
}

func getRequestID(c *gin.Context) string {
	if id := logger.GetRequestID(c.Request.Context()); id != "" {
		return id
	}
	return c.GetHeader(logger.RequestIDHeader)
}

// tenantID returns the tenant resolved by the tenant middleware. Routes
// behind that middleware always have one; a missing value answers 401.
func (h *BaseHandler) tenantID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.GetTenantID(c)
	if !ok {
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Authentication required")
	}
	return id, ok
}

// pathID parses a uuid path parameter
func (h *BaseHandler) pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// BindError answers a failed ShouldBind call. Validator failures list the
// offending fields; anything else is a malformed body.
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, "Malformed request body")
		return
	}
	details := make([]dto.ValidationDetail, len(verrs))
	for i, fe := range verrs {
		details[i] = dto.ValidationDetail{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: fe.Error(),
		}
	}
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse("Request validation failed", getRequestID(c), details))
}

// HandleError maps service errors to HTTP responses. Gateway and
// unexpected errors are logged; their detail never reaches the caller.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	requestID := getRequestID(c)

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, domainErr.Message, requestID))
		return
	}

	for _, target := range invalidInput {
		if errors.Is(err, target) {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(dto.ErrCodeInvalidInput, err.Error(), requestID))
			return
		}
	}

	log := logger.FromContext(c.Request.Context())
	for _, target := range gatewayErrors {
		if errors.Is(err, target) {
			log.Warn("Payment gateway error", zap.Error(err))
			c.JSON(http.StatusBadGateway, dto.NewErrorResponseWithRequestID(
				dto.ErrCodePaymentGateway, "Payment could not be completed, please try again", requestID))
			return
		}
	}

	log.Error("Unhandled error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInternal, "An unexpected error occurred", requestID))
}
