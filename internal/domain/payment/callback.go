package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CallbackResult is the typed form of an inbound gateway callback. Fields
// the gateway left out stay at their zero value.
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            decimal.Decimal
	Receipt           string
	Phone             string
	TransactionTime   *time.Time
	Raw               []byte
}

// Succeeded reports whether the gateway confirmed the payment
func (r *CallbackResult) Succeeded() bool {
	return r.ResultCode == ResultCodeSuccess
}

// Cancelled reports whether the customer aborted the prompt
func (r *CallbackResult) Cancelled() bool {
	return r.ResultCode == ResultCodeCancelledByUser
}

// HasAmount reports whether the callback carried an amount
func (r *CallbackResult) HasAmount() bool {
	return r.Amount.IsPositive()
}

// Outcome converts the callback into a state machine outcome
func (r *CallbackResult) Outcome(at time.Time) Outcome {
	return Outcome{
		ResultCode: r.ResultCode,
		ResultDesc: r.ResultDesc,
		Receipt:    r.Receipt,
		Raw:        r.Raw,
		Origin:     OriginWebhook,
		At:         at,
	}
}

const transactionTimeLayout = "20060102150405"

// ParseCallback normalizes an STK callback body. Key lookup is case
// insensitive, the Body envelope is optional, and missing metadata items are
// tolerated. Only the result code is mandatory.
func ParseCallback(body []byte) (*CallbackResult, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	cb := root
	if env, ok := object(root, "Body"); ok {
		cb = env
	}
	if inner, ok := object(cb, "stkCallback"); ok {
		cb = inner
	}

	code, ok := intField(cb, "ResultCode")
	if !ok {
		return nil, fmt.Errorf("%w: missing result code", ErrMalformedCallback)
	}

	res := &CallbackResult{
		CheckoutRequestID: stringField(cb, "CheckoutRequestID"),
		MerchantRequestID: stringField(cb, "MerchantRequestID"),
		ResultCode:        code,
		ResultDesc:        stringField(cb, "ResultDesc"),
		Amount:            decimal.Zero,
		Raw:               append([]byte(nil), body...),
	}

	meta, _ := object(cb, "CallbackMetadata")
	items, _ := lookup(meta, "Item")
	list, _ := items.([]any)
	for _, raw := range list {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := strings.ToLower(stringField(item, "Name"))
		value, _ := lookup(item, "Value")
		switch name {
		case "amount":
			if amt, err := decimal.NewFromString(scalar(value)); err == nil {
				res.Amount = amt
			}
		case "mpesareceiptnumber":
			res.Receipt = scalar(value)
		case "phonenumber":
			res.Phone = scalar(value)
		case "transactiondate":
			if t, err := time.ParseInLocation(transactionTimeLayout, scalar(value), eastAfrica); err == nil {
				res.TransactionTime = &t
			}
		}
	}
	return res, nil
}

var eastAfrica = time.FixedZone("EAT", 3*60*60)

func lookup(m map[string]any, key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func object(m map[string]any, key string) (map[string]any, bool) {
	v, ok := lookup(m, key)
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

func stringField(m map[string]any, key string) string {
	v, _ := lookup(m, key)
	return scalar(v)
}

func intField(m map[string]any, key string) (int, bool) {
	v, ok := lookup(m, key)
	if !ok || v == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(scalar(v)))
	if err != nil {
		return 0, false
	}
	return n, true
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
