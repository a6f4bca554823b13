package invoicing

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LineItem is owned by exactly one document. Subtotal, TaxAmount and
// LineTotal are derived and recomputed on every change.
type LineItem struct {
	ID          uuid.UUID
	LineNo      int
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal // percent, 16 means 16%
	AccountCode string          // optional revenue/expense mapping

	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	LineTotal decimal.Decimal
}

// NewLineItem validates and prices a line
func NewLineItem(description string, quantity, unitPrice, taxRate decimal.Decimal, accountCode string) (LineItem, error) {
	if strings.TrimSpace(description) == "" {
		return LineItem{}, fmt.Errorf("%w: description is required", ErrInvalidLineItem)
	}
	if !quantity.IsPositive() {
		return LineItem{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidLineItem)
	}
	if unitPrice.IsNegative() {
		return LineItem{}, fmt.Errorf("%w: unit price cannot be negative", ErrInvalidLineItem)
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(hundred) {
		return LineItem{}, fmt.Errorf("%w: tax rate must be between 0 and 100", ErrInvalidLineItem)
	}
	item := LineItem{
		ID:          uuid.New(),
		Description: strings.TrimSpace(description),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		TaxRate:     taxRate,
		AccountCode: strings.TrimSpace(accountCode),
	}
	item.recalculate()
	return item, nil
}

// recalculate prices the line: subtotal = qty*price, tax = subtotal*rate/100,
// both rounded to cents, total = subtotal + tax.
func (l *LineItem) recalculate() {
	l.Subtotal = l.Quantity.Mul(l.UnitPrice).Round(2)
	l.TaxAmount = l.Subtotal.Mul(l.TaxRate).Div(hundred).Round(2)
	l.LineTotal = l.Subtotal.Add(l.TaxAmount)
}
