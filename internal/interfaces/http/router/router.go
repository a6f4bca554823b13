package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/invoicer/backend/internal/infrastructure/logger"
	"github.com/invoicer/backend/internal/interfaces/http/handler"
	"github.com/invoicer/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup collects the routes of one area of the API
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	subgroups  []*DomainGroup
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// Group creates a sub-group within this domain
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	subgroup := NewDomainGroup(name, prefix)
	dg.subgroups = append(dg.subgroups, subgroup)
	return subgroup
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
	for _, subgroup := range dg.subgroups {
		subgroup.RegisterRoutes(group)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}

// Handlers holds every HTTP handler the API serves
type Handlers struct {
	Documents     *handler.DocumentHandler
	Payments      *handler.PaymentHandler
	Webhooks      *handler.WebhookHandler
	Ledger        *handler.LedgerHandler
	Subscriptions *handler.SubscriptionHandler
	System        *handler.SystemHandler
}

// EngineConfig configures the gin engine
type EngineConfig struct {
	Logger         *zap.Logger
	Tracing        middleware.TracingConfig
	Tenant         middleware.TenantMiddlewareConfig
	MaxBodySize    int64
	TrustedProxies []string
	Handlers       Handlers
}

// NewEngine builds the gin engine with the middleware chain and every route
func NewEngine(cfg EngineConfig) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	engine.Use(middleware.Tracing(cfg.Tracing))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.BodyLimit(cfg.MaxBodySize))

	h := cfg.Handlers
	engine.GET("/health", h.System.Health)

	tenantAuth := []gin.HandlerFunc{middleware.TenantContext(cfg.Tenant), middleware.SpanAttributes()}

	documents := NewDomainGroup("documents", "").Use(tenantAuth...)
	documents.POST("/invoices", h.Documents.CreateInvoice).
		GET("/invoices", h.Documents.ListInvoices).
		POST("/invoices/:id/send", h.Documents.SendInvoice).
		POST("/bills", h.Documents.CreateBill).
		GET("/bills", h.Documents.ListBills).
		POST("/bills/:id/receive", h.Documents.ReceiveBill).
		GET("/documents/:id", h.Documents.GetDocument).
		POST("/documents/:id/cancel", h.Documents.CancelDocument)

	payments := NewDomainGroup("payments", "/payments").Use(tenantAuth...)
	payments.POST("", h.Payments.RecordPayment).
		GET("/:id", h.Payments.GetPayment).
		GET("/:id/status", h.Payments.QueryStatus).
		POST("/:id/apply-credit", h.Payments.ApplyCredit).
		POST("/mpesa/stk-push", h.Payments.InitiateSTKPush)

	ledger := NewDomainGroup("ledger", "/ledger").Use(tenantAuth...)
	ledger.GET("/trial-balance", h.Ledger.TrialBalance)

	billing := NewDomainGroup("billing", "").Use(tenantAuth...)
	billing.POST("/plans", h.Subscriptions.CreatePlan).
		POST("/subscriptions", h.Subscriptions.CreateSubscription).
		GET("/subscriptions/mrr", h.Subscriptions.MonthlyRecurringRevenue).
		GET("/subscriptions/:id", h.Subscriptions.GetSubscription).
		POST("/subscriptions/:id/cancel", h.Subscriptions.CancelSubscription)

	// the gateway and paying customers call these without a tenant token
	public := NewDomainGroup("public", "")
	public.POST("/webhooks/mpesa/:tenant_id", h.Webhooks.MpesaCallback).
		GET("/payments/status/:token", h.Payments.PollStatus).
		GET("/system/info", h.System.Info)

	NewRouter(engine, WithAPIVersion("v1")).
		Register(documents).
		Register(payments).
		Register(ledger).
		Register(billing).
		Register(public).
		Setup()

	log.Info("HTTP routes registered", zap.Int("routes", len(engine.Routes())))
	return engine, nil
}
