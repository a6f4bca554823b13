package dto

import (
	"net/http"
	"testing"

	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeErrorCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"NOT_FOUND", ErrCodeNotFound},
		{"PAYMENT_NOT_FOUND", ErrCodePaymentNotFound},
		{"TENANT_SUSPENDED", ErrCodeTenantSuspended},
		{"OVER_ALLOCATION", ErrCodeOverAllocation},
		{"INTERNAL_ERROR", ErrCodeInternal},
		{"ERR_CONFLICT", ErrCodeConflict},
		{"", ErrCodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeErrorCode(tt.in))
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodePaymentNotFound, http.StatusNotFound},
		{ErrCodeTenantSuspended, http.StatusForbidden},
		{ErrCodeOverAllocation, http.StatusUnprocessableEntity},
		{ErrCodeNotAllocatable, http.StatusUnprocessableEntity},
		{ErrCodeNotPayable, http.StatusUnprocessableEntity},
		{ErrCodeNoLineItems, http.StatusBadRequest},
		{ErrCodeConcurrencyConflict, http.StatusConflict},
		{ErrCodePaymentGateway, http.StatusBadGateway},
		{"ERR_INVALID_DUE_DATE", http.StatusBadRequest},
		{"ERR_PLAN_NOT_FOUND", http.StatusNotFound},
		{"ERR_SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, GetHTTPStatus(tt.code))
		})
	}
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeNotFound, "Document not found", "req-1")
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Data)
	assert.Equal(t, "req-1", resp.Error.RequestID)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestNewPaginatedResponse(t *testing.T) {
	page := shared.NewPaginated([]string{"a", "b"}, 21, 2, 10)
	resp := NewPaginatedResponse(page)

	assert.True(t, resp.Success)
	assert.Equal(t, []string{"a", "b"}, resp.Data)
	assert.Equal(t, int64(21), resp.Meta.Total)
	assert.Equal(t, 3, resp.Meta.TotalPages)
	assert.Equal(t, 10, resp.Meta.PageSize)
}

func TestListRequest_ToFilter(t *testing.T) {
	f := ListRequest{Page: 3, PageSize: 50, OrderBy: "due_date", OrderDir: "ASC", Search: " INV ", Status: "sent"}.ToFilter()
	assert.Equal(t, 3, f.Page)
	assert.Equal(t, 50, f.PageSize)
	assert.Equal(t, "due_date", f.OrderBy)
	assert.Equal(t, "asc", f.OrderDir)
	assert.Equal(t, "INV", f.Search)
	assert.Equal(t, "sent", f.Filters["status"])

	d := ListRequest{}.ToFilter()
	assert.Equal(t, 1, d.Page)
	assert.Equal(t, 20, d.PageSize)
	assert.Equal(t, "created_at", d.OrderBy)
	assert.NotContains(t, d.Filters, "status")
}
