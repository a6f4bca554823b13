package finance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/application/finance"
	"github.com/invoicer/backend/internal/domain/identity"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/invoicer/backend/internal/infrastructure/cache"
	"github.com/invoicer/backend/internal/infrastructure/persistence"
	"github.com/invoicer/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockGateway is a mock implementation of payment.Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) InitiatePush(ctx context.Context, req payment.PushRequest) (*payment.PushResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.PushResponse), args.Error(1)
}

func (m *MockGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*payment.QueryResult, error) {
	args := m.Called(ctx, checkoutRequestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.QueryResult), args.Error(1)
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const (
	callbackBase = "https://pay.example.com/api/v1/webhooks/mpesa"
	returnBase   = "https://app.example.com"
)

type harness struct {
	t           *testing.T
	ctx         context.Context
	db          *gorm.DB
	scope       *persistence.GormTransactionScope
	clock       *testClock
	tenant      *identity.Tenant
	tenants     *persistence.GormTenantRepository
	gateway     *MockGateway
	publisher   *recordingPublisher
	idempotency *cache.InMemoryIdempotencyStore

	sequences  *finance.SequenceGenerator
	poster     *finance.LedgerPoster
	allocator  *finance.PaymentAllocator
	invoices   *finance.InvoiceService
	payments   *finance.PaymentService
	reconciler *finance.PaymentReconciler
	reports    *finance.ReportService
}

type harnessOption func(*finance.PaymentReconcilerConfig)

func withoutIdempotencyStore() harnessOption {
	return func(c *finance.PaymentReconcilerConfig) { c.IdempotencyStore = nil }
}

func withLocker(l finance.QueryLocker) harnessOption {
	return func(c *finance.PaymentReconcilerConfig) { c.Locker = l }
}

func withSettings(s finance.ReconciliationSettings) harnessOption {
	return func(c *finance.PaymentReconcilerConfig) {
		s.CallbackURL = callbackBase
		s.ReturnURL = returnBase + "/"
		c.Settings = s
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	h := &harness{
		t:           t,
		ctx:         context.Background(),
		db:          db,
		scope:       persistence.NewGormTransactionScope(db),
		clock:       &testClock{now: time.Now()},
		tenants:     persistence.NewGormTenantRepository(db),
		gateway:     new(MockGateway),
		publisher:   &recordingPublisher{},
		idempotency: cache.NewInMemoryIdempotencyStore(),
	}
	t.Cleanup(func() { _ = h.idempotency.Close() })

	h.tenant, err = identity.NewTenant("ACME", "Acme Traders", "KE")
	require.NoError(t, err)
	require.NoError(t, h.tenants.Save(h.ctx, h.tenant))

	h.sequences = finance.NewSequenceGenerator(finance.SequenceGeneratorConfig{
		Scope: h.scope,
		Retry: shared.NoWaitRetryPolicy(3),
	})
	h.poster = finance.NewLedgerPoster(finance.LedgerPosterConfig{
		Sequences: h.sequences,
		Now:       h.clock.Now,
	})
	h.allocator = finance.NewPaymentAllocator(finance.PaymentAllocatorConfig{
		Scope:          h.scope,
		Poster:         h.poster,
		Tenants:        h.tenants,
		EventPublisher: h.publisher,
		Now:            h.clock.Now,
	})
	h.invoices = finance.NewInvoiceService(finance.InvoiceServiceConfig{
		Scope:          h.scope,
		Sequences:      h.sequences,
		Poster:         h.poster,
		Tenants:        h.tenants,
		EventPublisher: h.publisher,
		Now:            h.clock.Now,
	})
	h.payments = finance.NewPaymentService(finance.PaymentServiceConfig{
		Scope:          h.scope,
		Sequences:      h.sequences,
		Poster:         h.poster,
		Allocator:      h.allocator,
		Tenants:        h.tenants,
		EventPublisher: h.publisher,
		Now:            h.clock.Now,
	})

	settings := finance.DefaultReconciliationSettings()
	settings.CallbackURL = callbackBase
	settings.ReturnURL = returnBase + "/"
	rc := finance.PaymentReconcilerConfig{
		Scope:            h.scope,
		Gateway:          h.gateway,
		Sequences:        h.sequences,
		Poster:           h.poster,
		Allocator:        h.allocator,
		Tenants:          h.tenants,
		IdempotencyStore: h.idempotency,
		EventPublisher:   h.publisher,
		Settings:         settings,
		Now:              h.clock.Now,
	}
	for _, opt := range opts {
		opt(&rc)
	}
	h.reconciler = finance.NewPaymentReconciler(rc)
	h.reports = finance.NewReportService(h.scope)
	return h
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// invoiceRequest builds a one-line invoice at 16% tax
func invoiceRequest(customer string, price string, issued time.Time) finance.CreateDocumentRequest {
	return finance.CreateDocumentRequest{
		CounterpartyRef:  customer,
		CounterpartyName: "Customer " + customer,
		IssueDate:        issued,
		DueDate:          issued.AddDate(0, 0, 30),
		Items: []finance.LineItemInput{{
			Description: "Consulting",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   dec(price),
			TaxRate:     decimal.NewFromInt(16),
		}},
	}
}

// sentInvoice creates and sends an invoice
func (h *harness) sentInvoice(customer, price string, issued time.Time) *finance.DocumentResponse {
	h.t.Helper()
	doc, err := h.invoices.CreateInvoice(h.ctx, h.tenant.ID, invoiceRequest(customer, price, issued))
	require.NoError(h.t, err)
	doc, err = h.invoices.SendInvoice(h.ctx, h.tenant.ID, doc.ID)
	require.NoError(h.t, err)
	return doc
}

func (h *harness) document(id uuid.UUID) *finance.DocumentResponse {
	h.t.Helper()
	doc, err := h.invoices.GetDocument(h.ctx, h.tenant.ID, id)
	require.NoError(h.t, err)
	return doc
}

func (h *harness) entryFor(source ledger.SourceRef) *ledger.JournalEntry {
	h.t.Helper()
	var entry *ledger.JournalEntry
	require.NoError(h.t, h.scope.Execute(h.ctx, func(repos finance.TransactionalRepositories) error {
		var err error
		entry, err = repos.Journals().FindBySource(h.ctx, h.tenant.ID, source)
		return err
	}))
	return entry
}

func (h *harness) entryCount(source ledger.SourceRef) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.scope.Execute(h.ctx, func(repos finance.TransactionalRepositories) error {
		var err error
		n, err = repos.Journals().CountBySource(h.ctx, h.tenant.ID, source)
		return err
	}))
	return n
}

func (h *harness) payment(id uuid.UUID) *payment.Payment {
	h.t.Helper()
	var p *payment.Payment
	require.NoError(h.t, h.scope.Execute(h.ctx, func(repos finance.TransactionalRepositories) error {
		var err error
		p, err = repos.Payments().FindByID(h.ctx, h.tenant.ID, id)
		return err
	}))
	require.NotNil(h.t, p)
	return p
}

func (h *harness) countRows(model any, query string, args ...any) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}
