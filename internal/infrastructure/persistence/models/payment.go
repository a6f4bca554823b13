package models

import (
	"encoding/base64"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// payloadEnvelope is how a gateway payload is stored: the body as received
// plus which channel delivered it. The body is kept as a JSON string so the
// JSONB column cannot reformat it. Bodies that are not valid UTF-8 are
// base64 encoded.
type payloadEnvelope struct {
	Source   payment.Origin `json:"source"`
	Payload  string         `json:"payload"`
	Encoding string         `json:"encoding,omitempty"`
}

const payloadBase64 = "base64"

func wrapPayload(origin payment.Origin, raw []byte) datatypes.JSON {
	if len(raw) == 0 && origin == "" {
		return nil
	}
	env := payloadEnvelope{Source: origin, Payload: string(raw)}
	if !utf8.Valid(raw) {
		env.Payload = base64.StdEncoding.EncodeToString(raw)
		env.Encoding = payloadBase64
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	return datatypes.JSON(out)
}

func unwrapPayload(stored datatypes.JSON) []byte {
	if len(stored) == 0 {
		return nil
	}
	var env payloadEnvelope
	if err := json.Unmarshal(stored, &env); err != nil {
		return []byte(stored)
	}
	if env.Payload == "" {
		return nil
	}
	if env.Encoding == payloadBase64 {
		raw, err := base64.StdEncoding.DecodeString(env.Payload)
		if err != nil {
			return []byte(stored)
		}
		return raw
	}
	return []byte(env.Payload)
}

// PaymentModel is the persistence model for the Payment aggregate root.
type PaymentModel struct {
	AggregateModel
	TenantID          uuid.UUID          `gorm:"type:uuid;not null;index:idx_payment_tenant_status,priority:1;index:idx_payment_tenant_checkout,priority:1;index:idx_payment_tenant_phone,priority:1;uniqueIndex:idx_payment_tenant_number,priority:1"`
	Number            *string            `gorm:"type:varchar(50);uniqueIndex:idx_payment_tenant_number,priority:2"`
	Method            payment.Method     `gorm:"type:varchar(20);not null"`
	Amount            decimal.Decimal    `gorm:"type:decimal(18,2);not null;index:idx_payment_tenant_phone,priority:3"`
	Currency          string             `gorm:"type:varchar(3);not null;default:'KES'"`
	Status            payment.Status     `gorm:"type:varchar(20);not null;index:idx_payment_tenant_status,priority:2"`
	Phone             string             `gorm:"type:varchar(20);index:idx_payment_tenant_phone,priority:2"`
	CounterpartyRef   string             `gorm:"type:varchar(100);index"`
	TargetKind        payment.TargetKind `gorm:"type:varchar(20)"`
	TargetID          *uuid.UUID         `gorm:"type:uuid;index"`
	ClientToken       *string            `gorm:"type:varchar(64);uniqueIndex"`
	CheckoutRequestID *string            `gorm:"type:varchar(100);index:idx_payment_tenant_checkout,priority:2"`
	MerchantRequestID string             `gorm:"type:varchar(100)"`
	Reference         string             `gorm:"type:varchar(100)"`
	ResultCode        *int
	ResultDesc        string         `gorm:"type:varchar(500)"`
	RawPayload        datatypes.JSON `gorm:"type:jsonb"`
	PollCount         int            `gorm:"not null;default:0"`
	LastQueriedAt     *time.Time
	ReceivedAt        *time.Time
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment.
func (m *PaymentModel) ToDomain() *payment.Payment {
	p := &payment.Payment{
		Number:            deref(m.Number),
		Method:            m.Method,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Status:            m.Status,
		Phone:             m.Phone,
		CounterpartyRef:   m.CounterpartyRef,
		Target:            payment.Target{Kind: m.TargetKind},
		ClientToken:       deref(m.ClientToken),
		CheckoutRequestID: deref(m.CheckoutRequestID),
		MerchantRequestID: m.MerchantRequestID,
		Reference:         m.Reference,
		ResultCode:        m.ResultCode,
		ResultDesc:        m.ResultDesc,
		RawPayload:        unwrapPayload(m.RawPayload),
		PayloadOrigin:     payloadOrigin(m.RawPayload),
		PollCount:         m.PollCount,
		LastQueriedAt:     m.LastQueriedAt,
		ReceivedAt:        m.ReceivedAt,
	}
	if m.TargetID != nil {
		p.Target.ID = *m.TargetID
	}
	m.PopulateAggregateRoot(&p.BaseAggregateRoot)
	p.TenantID = m.TenantID
	return p
}

// FromDomain populates the persistence model from a domain Payment.
func (m *PaymentModel) FromDomain(p *payment.Payment) {
	m.FromDomainAggregateRoot(p.BaseAggregateRoot)
	m.TenantID = p.TenantID
	m.Number = nullable(p.Number)
	m.Method = p.Method
	m.Amount = p.Amount
	m.Currency = p.Currency
	m.Status = p.Status
	m.Phone = p.Phone
	m.CounterpartyRef = p.CounterpartyRef
	m.TargetKind = p.Target.Kind
	m.TargetID = nil
	if p.Target.ID != uuid.Nil {
		id := p.Target.ID
		m.TargetID = &id
	}
	m.ClientToken = nullable(p.ClientToken)
	m.CheckoutRequestID = nullable(p.CheckoutRequestID)
	m.MerchantRequestID = p.MerchantRequestID
	m.Reference = p.Reference
	m.ResultCode = p.ResultCode
	m.ResultDesc = p.ResultDesc
	m.RawPayload = wrapPayload(p.PayloadOrigin, p.RawPayload)
	m.PollCount = p.PollCount
	m.LastQueriedAt = p.LastQueriedAt
	m.ReceivedAt = p.ReceivedAt
}

func payloadOrigin(stored datatypes.JSON) payment.Origin {
	if len(stored) == 0 {
		return ""
	}
	var env payloadEnvelope
	if err := json.Unmarshal(stored, &env); err != nil {
		return ""
	}
	return env.Source
}

// PaymentAllocationModel records part of a payment settling one document.
type PaymentAllocationModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID       uuid.UUID       `gorm:"type:uuid;not null;index:idx_allocation_tenant_document,priority:1;index:idx_allocation_tenant_payment,priority:1"`
	PaymentID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_allocation_tenant_payment,priority:2"`
	DocumentID     uuid.UUID       `gorm:"type:uuid;not null;index:idx_allocation_tenant_document,priority:2"`
	DocumentNumber string          `gorm:"type:varchar(50);not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	BatchID        uuid.UUID       `gorm:"type:uuid;not null;index"`
	CreatedAt      time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PaymentAllocationModel) TableName() string {
	return "payment_allocations"
}

// ToDomain converts the persistence model to a domain Allocation.
func (m *PaymentAllocationModel) ToDomain() *payment.Allocation {
	return &payment.Allocation{
		ID:             m.ID,
		TenantID:       m.TenantID,
		PaymentID:      m.PaymentID,
		DocumentID:     m.DocumentID,
		DocumentNumber: m.DocumentNumber,
		Amount:         m.Amount,
		BatchID:        m.BatchID,
		CreatedAt:      m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain Allocation.
func (m *PaymentAllocationModel) FromDomain(a *payment.Allocation) {
	m.ID = a.ID
	m.TenantID = a.TenantID
	m.PaymentID = a.PaymentID
	m.DocumentID = a.DocumentID
	m.DocumentNumber = a.DocumentNumber
	m.Amount = a.Amount
	m.BatchID = a.BatchID
	m.CreatedAt = a.CreatedAt
}

// GatewayEventModel is the append-only log of inbound gateway messages.
type GatewayEventModel struct {
	ID         uuid.UUID           `gorm:"type:uuid;primary_key"`
	TenantID   uuid.UUID           `gorm:"type:uuid;not null;index"`
	PaymentID  *uuid.UUID          `gorm:"type:uuid;index"`
	ExternalID string              `gorm:"type:varchar(100);index"`
	Origin     payment.Origin      `gorm:"type:varchar(20);not null"`
	Status     payment.EventStatus `gorm:"type:varchar(20);not null"`
	ResultCode *int
	Error      string         `gorm:"type:varchar(500)"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (GatewayEventModel) TableName() string {
	return "payment_gateway_events"
}

// ToDomain converts the persistence model to a domain GatewayEvent.
func (m *GatewayEventModel) ToDomain() *payment.GatewayEvent {
	return &payment.GatewayEvent{
		ID:         m.ID,
		TenantID:   m.TenantID,
		PaymentID:  m.PaymentID,
		ExternalID: m.ExternalID,
		Origin:     m.Origin,
		Status:     m.Status,
		ResultCode: m.ResultCode,
		Error:      m.Error,
		Payload:    unwrapPayload(m.Payload),
		ReceivedAt: m.ReceivedAt,
	}
}

// FromDomain populates the persistence model from a domain GatewayEvent.
func (m *GatewayEventModel) FromDomain(e *payment.GatewayEvent) {
	m.ID = e.ID
	m.TenantID = e.TenantID
	m.PaymentID = e.PaymentID
	m.ExternalID = e.ExternalID
	m.Origin = e.Origin
	m.Status = e.Status
	m.ResultCode = e.ResultCode
	m.Error = e.Error
	m.Payload = wrapPayload(e.Origin, e.Payload)
	m.ReceivedAt = e.ReceivedAt
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
