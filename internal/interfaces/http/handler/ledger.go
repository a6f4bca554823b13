package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/invoicer/backend/internal/application/finance"
)

// LedgerHandler serves ledger reports
type LedgerHandler struct {
	BaseHandler
	reports *finance.ReportService
	now     func() time.Time
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(reports *finance.ReportService) *LedgerHandler {
	return &LedgerHandler{reports: reports, now: time.Now}
}

// TrialBalanceQuery holds the trial balance query parameters
type TrialBalanceQuery struct {
	// AsOf is a date (2006-01-02) or RFC 3339 timestamp; defaults to now
	AsOf string `form:"as_of"`
}

// TrialBalance handles GET /ledger/trial-balance
func (h *LedgerHandler) TrialBalance(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var q TrialBalanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	asOf, err := parseAsOf(q.AsOf, h.now())
	if err != nil {
		h.BadRequest(c, "as_of must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
		return
	}

	resp, err := h.reports.TrialBalance(c.Request.Context(), tenantID, asOf)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// parseAsOf reads a bare date as the end of that day in UTC
func parseAsOf(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}
