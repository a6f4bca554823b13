package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/identity"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/sequence"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QueryLocker serialises gateway status queries for one payment across
// service instances.
type QueryLocker interface {
	// TryLock returns ok=false without error when someone else holds key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// ReconciliationSettings tunes the push-payment reconciliation flow
type ReconciliationSettings struct {
	// WebhookWindow is how long a poll waits for the callback before the
	// gateway is queried directly.
	WebhookWindow time.Duration
	// MaxPolls and PollMaxAge tell the client to stop polling.
	MaxPolls   int
	PollMaxAge time.Duration
	// FallbackWindow bounds the phone and amount match for callbacks whose
	// correlation id is unknown.
	FallbackWindow time.Duration
	IdempotencyTTL time.Duration
	QueryLockTTL   time.Duration
	// CallbackURL is the webhook base; the tenant id is appended.
	CallbackURL string
	// ReturnURL is the client base a successful poll redirects to. Empty
	// disables redirects.
	ReturnURL     string
	DefaultRegion string
}

// DefaultReconciliationSettings returns the production defaults
func DefaultReconciliationSettings() ReconciliationSettings {
	return ReconciliationSettings{
		WebhookWindow:  30 * time.Second,
		MaxPolls:       20,
		PollMaxAge:     5 * time.Minute,
		FallbackWindow: 10 * time.Minute,
		IdempotencyTTL: 24 * time.Hour,
		QueryLockTTL:   15 * time.Second,
		DefaultRegion:  identity.DefaultCountry,
	}
}

var (
	ackAccepted = CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}
	ackRejected = CallbackAck{ResultCode: 1, ResultDesc: "Rejected"}
	ackUnknown  = CallbackAck{ResultCode: 1, ResultDesc: "Unknown transaction"}
	ackFailed   = CallbackAck{ResultCode: 1, ResultDesc: "Processing failed"}
)

// PaymentReconciler drives mobile-money push payments from initiation to a
// terminal state, from whichever of the webhook or a status query arrives
// first. The payment row lock plus the one-way state machine make every
// path idempotent: a second delivery finds a terminal payment and changes
// nothing.
type PaymentReconciler struct {
	scope          TransactionScope
	gateway        payment.Gateway
	sequences      *SequenceGenerator
	poster         *LedgerPoster
	allocator      *PaymentAllocator
	tenants        identity.TenantRepository
	idempotency    shared.IdempotencyStore
	locker         QueryLocker
	eventPublisher shared.EventPublisher
	settings       ReconciliationSettings
	logger         *zap.Logger
	now            func() time.Time
}

// PaymentReconcilerConfig holds configuration for the reconciler
type PaymentReconcilerConfig struct {
	Scope     TransactionScope
	Gateway   payment.Gateway
	Sequences *SequenceGenerator
	Poster    *LedgerPoster
	Allocator *PaymentAllocator
	Tenants   identity.TenantRepository
	// IdempotencyStore is an optional fast path for repeated callbacks.
	IdempotencyStore shared.IdempotencyStore
	// Locker is optional; without it concurrent queries rely on the row lock.
	Locker         QueryLocker
	EventPublisher shared.EventPublisher
	Settings       ReconciliationSettings
	Logger         *zap.Logger
	Now            func() time.Time
}

// NewPaymentReconciler creates a new PaymentReconciler
func NewPaymentReconciler(config PaymentReconcilerConfig) *PaymentReconciler {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	settings := config.Settings
	defaults := DefaultReconciliationSettings()
	if settings.WebhookWindow <= 0 {
		settings.WebhookWindow = defaults.WebhookWindow
	}
	if settings.MaxPolls <= 0 {
		settings.MaxPolls = defaults.MaxPolls
	}
	if settings.PollMaxAge <= 0 {
		settings.PollMaxAge = defaults.PollMaxAge
	}
	if settings.FallbackWindow <= 0 {
		settings.FallbackWindow = defaults.FallbackWindow
	}
	if settings.IdempotencyTTL <= 0 {
		settings.IdempotencyTTL = defaults.IdempotencyTTL
	}
	if settings.QueryLockTTL <= 0 {
		settings.QueryLockTTL = defaults.QueryLockTTL
	}
	if settings.DefaultRegion == "" {
		settings.DefaultRegion = defaults.DefaultRegion
	}
	return &PaymentReconciler{
		scope:          config.Scope,
		gateway:        config.Gateway,
		sequences:      config.Sequences,
		poster:         config.Poster,
		allocator:      config.Allocator,
		tenants:        config.Tenants,
		idempotency:    config.IdempotencyStore,
		locker:         config.Locker,
		eventPublisher: config.EventPublisher,
		settings:       settings,
		logger:         logger,
		now:            now,
	}
}

// Initiate records a payment request and asks the gateway to prompt the
// customer. The payment is committed before the gateway is called so a fast
// callback always finds it.
func (r *PaymentReconciler) Initiate(ctx context.Context, tenantID uuid.UUID, req InitiatePaymentRequest) (*InitiatePaymentResponse, error) {
	region := r.settings.DefaultRegion
	if r.tenants != nil {
		t, err := r.tenants.FindByID(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if err := t.EnsureActive(); err != nil {
			return nil, err
		}
		if t.Country != "" {
			region = t.Country
		}
	}

	phone, err := payment.NormalizePhone(req.Phone, region)
	if err != nil {
		return nil, err
	}
	target := payment.Target{Kind: payment.TargetKind(req.TargetKind)}
	if req.TargetID != nil {
		target.ID = *req.TargetID
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	token, err := payment.NewClientToken()
	if err != nil {
		return nil, err
	}

	// Step 1: record the attempt
	var (
		p         *payment.Payment
		reference string
	)
	err = r.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		amount, ref, err := r.resolveTarget(ctx, repos, tenantID, target, req.Amount)
		if err != nil {
			return err
		}
		reference = ref
		p, err = payment.NewGatewayPayment(tenantID, amount, phone, target, token)
		if err != nil {
			return err
		}
		return repos.Payments().Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	// Step 2: push to the gateway
	resp, pushErr := r.gateway.InitiatePush(ctx, payment.PushRequest{
		Amount:           p.Amount,
		Phone:            phone,
		AccountReference: reference,
		Description:      "Payment " + reference,
		CallbackURL:      r.callbackURL(tenantID),
	})

	// Step 3: record what the gateway said
	err = r.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		locked, err := repos.Payments().FindByIDForUpdate(ctx, tenantID, p.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return payment.ErrNotFound
		}
		if pushErr != nil {
			if err := locked.Fail(payment.Outcome{
				ResultCode: -1,
				ResultDesc: "push request was not accepted",
				Origin:     payment.OriginInitiate,
				At:         r.now(),
			}, false); err != nil {
				return err
			}
		} else if err := locked.MarkPending(resp.CheckoutRequestID, resp.MerchantRequestID, r.now()); err != nil {
			return err
		}
		p = locked
		return repos.Payments().Update(ctx, locked)
	})
	if pushErr != nil {
		r.logger.Warn("Gateway push failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("payment_id", p.ID.String()),
			zap.Error(pushErr))
		if err != nil {
			r.logger.Error("Failed to record push failure", zap.String("payment_id", p.ID.String()), zap.Error(err))
		}
		return nil, pushErr
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("Payment push initiated",
		zap.String("tenant_id", tenantID.String()),
		zap.String("payment_id", p.ID.String()),
		zap.String("checkout_request_id", p.CheckoutRequestID),
		zap.String("amount", p.Amount.StringFixed(2)))

	return &InitiatePaymentResponse{
		PaymentID:         p.ID,
		ClientToken:       p.ClientToken,
		CheckoutRequestID: p.CheckoutRequestID,
		Status:            string(p.Status),
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// resolveTarget checks the target can take the payment and fills in the
// amount when the caller left it out.
func (r *PaymentReconciler) resolveTarget(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, target payment.Target, amount decimal.Decimal) (decimal.Decimal, string, error) {
	switch target.Kind {
	case payment.TargetDocument:
		doc, err := repos.Documents().FindByID(ctx, tenantID, target.ID)
		if err != nil {
			return decimal.Zero, "", err
		}
		if doc == nil {
			return decimal.Zero, "", fmt.Errorf("document %s: %w", target.ID, shared.ErrNotFound)
		}
		if err := doc.AcceptsPayment(); err != nil {
			return decimal.Zero, "", err
		}
		allocated, err := repos.Allocations().SumByDocument(ctx, tenantID, doc.ID)
		if err != nil {
			return decimal.Zero, "", err
		}
		outstanding := doc.OutstandingBalance(allocated)
		if amount.IsZero() {
			amount = outstanding
		}
		if amount.GreaterThan(outstanding) {
			return decimal.Zero, "", fmt.Errorf("%w: document %s has %s outstanding",
				payment.ErrOverAllocation, doc.Number, outstanding.StringFixed(2))
		}
		return amount, doc.Number, nil

	case payment.TargetSubscription:
		sub, err := repos.Subscriptions().FindByID(ctx, tenantID, target.ID)
		if err != nil {
			return decimal.Zero, "", err
		}
		if sub == nil {
			return decimal.Zero, "", fmt.Errorf("subscription %s: %w", target.ID, shared.ErrNotFound)
		}
		if amount.IsZero() {
			plan, err := repos.Plans().FindByID(ctx, tenantID, sub.PlanID)
			if err != nil {
				return decimal.Zero, "", err
			}
			if plan == nil {
				return decimal.Zero, "", fmt.Errorf("plan %s: %w", sub.PlanID, shared.ErrNotFound)
			}
			amount = plan.Price
		}
		return amount, "SUB-" + strings.ToUpper(sub.ID.String()[:8]), nil
	}
	return amount, "ACCOUNT", nil
}

// HandleCallback applies a gateway webhook. It returns the acknowledgement
// body for the gateway together with any processing error; the body is
// valid in both cases.
func (r *PaymentReconciler) HandleCallback(ctx context.Context, tenantID uuid.UUID, body []byte) (CallbackAck, error) {
	now := r.now()

	cb, err := payment.ParseCallback(body)
	if err != nil {
		r.logger.Error("Rejected malformed gateway callback",
			zap.String("tenant_id", tenantID.String()),
			zap.ByteString("payload", body),
			zap.Error(err))
		r.recordFailure(ctx, payment.NewGatewayEvent(tenantID, payment.OriginWebhook, "", body, now), err)
		return ackRejected, err
	}

	// Fast path: replays of a callback we already finished
	key := reconciliationKey(tenantID, cb.CheckoutRequestID)
	if cb.CheckoutRequestID != "" && r.isProcessed(ctx, key) {
		r.logger.Info("Callback already processed (idempotency check)",
			zap.String("checkout_request_id", cb.CheckoutRequestID))
		return ackAccepted, nil
	}

	var (
		events  eventBatch
		status  payment.EventStatus
		matched *payment.Payment
	)
	err = r.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		event := payment.NewGatewayEvent(tenantID, payment.OriginWebhook, cb.CheckoutRequestID, cb.Raw, now)
		code := cb.ResultCode
		event.ResultCode = &code

		p, err := r.matchCallback(ctx, repos, tenantID, cb)
		if err != nil {
			return err
		}
		if p == nil {
			status = payment.EventUnmatched
			event.Resolve(nil, status)
			event.Error = payment.ErrUnknownCorrelation.Error()
			return repos.GatewayEvents().Create(ctx, event)
		}
		matched = p

		if cb.HasAmount() && !cb.Amount.Equal(p.Amount) {
			r.logger.Warn("Callback amount differs from the payment",
				zap.String("payment_id", p.ID.String()),
				zap.String("expected", p.Amount.StringFixed(2)),
				zap.String("received", cb.Amount.StringFixed(2)))
		}

		status, err = r.settle(ctx, repos, p, cb.Outcome(now), cb.Succeeded(), cb.Cancelled(), &events)
		if err != nil {
			return err
		}
		event.Resolve(p, status)
		return repos.GatewayEvents().Create(ctx, event)
	})
	if err != nil {
		r.logger.Error("Failed to process gateway callback",
			zap.String("tenant_id", tenantID.String()),
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.ByteString("payload", body),
			zap.Error(err))
		r.recordFailure(ctx, payment.NewGatewayEvent(tenantID, payment.OriginWebhook, cb.CheckoutRequestID, cb.Raw, now), err)
		return ackFailed, err
	}

	if status == payment.EventUnmatched {
		r.logger.Warn("Callback matches no payment",
			zap.String("tenant_id", tenantID.String()),
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.ByteString("payload", body))
		return ackUnknown, payment.ErrUnknownCorrelation
	}

	events.publish(ctx, r.eventPublisher, r.logger)
	if cb.CheckoutRequestID != "" {
		r.markProcessed(ctx, key)
	}
	if matched.CheckoutRequestID != "" && matched.CheckoutRequestID != cb.CheckoutRequestID {
		r.markProcessed(ctx, reconciliationKey(tenantID, matched.CheckoutRequestID))
	}

	r.logger.Info("Gateway callback processed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("payment_id", matched.ID.String()),
		zap.String("status", string(matched.Status)),
		zap.String("event_status", string(status)))
	return ackAccepted, nil
}

// matchCallback finds and locks the payment a callback belongs to: by
// correlation id first, then the most recent pending payment for the same
// phone and amount inside the fallback window.
func (r *PaymentReconciler) matchCallback(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, cb *payment.CallbackResult) (*payment.Payment, error) {
	if cb.CheckoutRequestID != "" {
		p, err := repos.Payments().FindByCheckoutRequestIDForUpdate(ctx, tenantID, cb.CheckoutRequestID)
		if err != nil || p != nil {
			return p, err
		}
	}

	if !cb.HasAmount() || cb.Phone == "" {
		return nil, nil
	}
	phone, err := payment.NormalizePhone(cb.Phone, r.settings.DefaultRegion)
	if err != nil {
		return nil, nil
	}
	since := r.now().Add(-r.settings.FallbackWindow)
	candidates, err := repos.Payments().FindPendingByPhoneAmountForUpdate(ctx, tenantID, phone, cb.Amount, since)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > 1 {
		r.logger.Warn("Fallback match found several pending payments, using the most recent",
			zap.String("tenant_id", tenantID.String()),
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.Int("candidates", len(candidates)))
	}
	return &candidates[0], nil
}

// QueryStatus asks the gateway for the state of a pending payment and
// applies a terminal answer exactly as a webhook would.
func (r *PaymentReconciler) QueryStatus(ctx context.Context, tenantID, paymentID uuid.UUID) (*PaymentStatusResponse, error) {
	var p *payment.Payment
	err := r.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		p, err = repos.Payments().FindByID(ctx, tenantID, paymentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, payment.ErrNotFound
	}

	p, err = r.queryGateway(ctx, p)
	if err != nil {
		return nil, err
	}
	return statusResponse(p, false), nil
}

func (r *PaymentReconciler) queryGateway(ctx context.Context, p *payment.Payment) (*payment.Payment, error) {
	if p.Status.IsTerminal() || p.CheckoutRequestID == "" {
		return p, nil
	}

	if r.locker != nil {
		release, ok, err := r.locker.TryLock(ctx, "mpesa:query:"+p.ID.String(), r.settings.QueryLockTTL)
		switch {
		case err != nil:
			r.logger.Warn("Query lock unavailable, continuing without it",
				zap.String("payment_id", p.ID.String()),
				zap.Error(err))
		case !ok:
			return p, nil
		default:
			defer release()
		}
	}

	res, err := r.gateway.QueryStatus(ctx, p.CheckoutRequestID)
	if err != nil {
		r.logger.Warn("Gateway status query failed",
			zap.String("payment_id", p.ID.String()),
			zap.Error(err))
		return p, fmt.Errorf("query payment %s: %w", p.ID, err)
	}

	now := r.now()
	var (
		events  eventBatch
		updated *payment.Payment
	)
	err = r.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		locked, err := repos.Payments().FindByIDForUpdate(ctx, p.TenantID, p.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return payment.ErrNotFound
		}
		updated = locked
		if locked.Status.IsTerminal() {
			return nil
		}
		locked.RecordGatewayQuery(now)
		if res.State == payment.QueryPending {
			return repos.Payments().Update(ctx, locked)
		}

		event := payment.NewGatewayEvent(p.TenantID, payment.OriginGatewayQuery, p.CheckoutRequestID, res.Raw, now)
		code := res.ResultCode
		event.ResultCode = &code
		outcome := payment.Outcome{
			ResultCode: res.ResultCode,
			ResultDesc: res.ResultDesc,
			Raw:        res.Raw,
			Origin:     payment.OriginGatewayQuery,
			At:         now,
		}
		status, err := r.settle(ctx, repos, locked, outcome, res.State == payment.QuerySucceeded, res.State == payment.QueryCancelled, &events)
		if err != nil {
			return err
		}
		event.Resolve(locked, status)
		return repos.GatewayEvents().Create(ctx, event)
	})
	if err != nil {
		return p, err
	}

	events.publish(ctx, r.eventPublisher, r.logger)
	if updated.Status.IsTerminal() {
		r.markProcessed(ctx, reconciliationKey(updated.TenantID, updated.CheckoutRequestID))
	}
	return updated, nil
}

// PollStatus answers a client polling with its opaque token. Once the
// webhook window has passed without a callback the gateway is queried
// directly; after the poll cap the client is told to stop.
func (r *PaymentReconciler) PollStatus(ctx context.Context, token string) (*PaymentStatusResponse, error) {
	if err := payment.ValidateClientToken(token); err != nil {
		return nil, err
	}

	now := r.now()
	var (
		p         *payment.Payment
		stop      bool
		query     bool
		reflected bool
	)
	err := r.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		found, err := repos.Payments().FindByClientToken(ctx, token)
		if err != nil {
			return err
		}
		if found == nil {
			return payment.ErrNotFound
		}
		if found.Status.IsTerminal() {
			p = found
			reflected, err = r.targetReflected(ctx, repos, found)
			return err
		}

		locked, err := repos.Payments().FindByIDForUpdate(ctx, found.TenantID, found.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return payment.ErrNotFound
		}
		locked.RecordPoll(now)
		if err := repos.Payments().Update(ctx, locked); err != nil {
			return err
		}
		p = locked

		age := now.Sub(p.CreatedAt)
		stop = p.PollCount >= r.settings.MaxPolls || age >= r.settings.PollMaxAge
		query = !stop && age >= r.settings.WebhookWindow &&
			(p.LastQueriedAt == nil || now.Sub(*p.LastQueriedAt) >= r.settings.WebhookWindow)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if query {
		updated, err := r.queryGateway(ctx, p)
		if err == nil {
			p = updated
			reflected = true
		}
	}

	return r.pollResponse(p, stop, reflected), nil
}

// pollResponse reports a payment in the client vocabulary. A completed
// payment whose effects are not visible yet is still pending.
func (r *PaymentReconciler) pollResponse(p *payment.Payment, stop, reflected bool) *PaymentStatusResponse {
	resp := statusResponse(p, stop)
	switch {
	case p.Status == payment.StatusCompleted && reflected:
		resp.Status = PollStatusSuccess
		resp.Redirect = r.redirectFor(p)
	case p.Status == payment.StatusFailed, p.Status == payment.StatusCancelled:
		resp.Status = PollStatusFailed
	case p.Status == payment.StatusCompleted:
		resp.Status = PollStatusPending
		resp.Message = "Waiting for confirmation"
		resp.StopPolling = false
	default:
		resp.Status = PollStatusPending
	}
	return resp
}

// redirectFor is where the client goes once the payment succeeded
func (r *PaymentReconciler) redirectFor(p *payment.Payment) string {
	if r.settings.ReturnURL == "" {
		return ""
	}
	base := strings.TrimRight(r.settings.ReturnURL, "/")
	switch p.Target.Kind {
	case payment.TargetDocument:
		return base + "/documents/" + p.Target.ID.String()
	case payment.TargetSubscription:
		return base + "/subscriptions/" + p.Target.ID.String()
	default:
		return base + "/payments/" + p.ID.String()
	}
}

// targetReflected reports whether a completed payment's effects are
// visible: its cash-side entry has been posted.
func (r *PaymentReconciler) targetReflected(ctx context.Context, repos TransactionalRepositories, p *payment.Payment) (bool, error) {
	if p.Status != payment.StatusCompleted {
		return true, nil
	}
	entry, err := repos.Journals().FindBySource(ctx, p.TenantID, ledger.PaymentSource(p.ID))
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// settle moves a locked payment to its terminal state. A payment that is
// already terminal is reported as a duplicate and left untouched.
func (r *PaymentReconciler) settle(ctx context.Context, repos TransactionalRepositories, p *payment.Payment, outcome payment.Outcome, succeeded, cancelled bool, events *eventBatch) (payment.EventStatus, error) {
	if p.Status.IsTerminal() {
		r.logger.Info("Payment already in a terminal state",
			zap.String("payment_id", p.ID.String()),
			zap.String("status", string(p.Status)),
			zap.String("origin", string(outcome.Origin)))
		return payment.EventDuplicate, nil
	}

	if !succeeded {
		if err := p.Fail(outcome, cancelled); err != nil {
			return "", err
		}
		if err := repos.Payments().Update(ctx, p); err != nil {
			return "", err
		}
		events.collect(p)
		return payment.EventProcessed, nil
	}

	number, err := r.sequences.GenerateInTx(ctx, repos, p.TenantID, sequence.DocumentTypePayment, outcome.At.Year())
	if err != nil {
		return "", err
	}
	if err := p.Complete(number, outcome); err != nil {
		return "", err
	}
	if err := repos.Payments().Update(ctx, p); err != nil {
		return "", err
	}

	allocations, err := r.settleTarget(ctx, repos, p, events)
	if err != nil {
		return "", err
	}
	if _, err := r.poster.PostPayment(ctx, repos, p, allocations); err != nil {
		return "", err
	}
	events.collect(p)
	return payment.EventProcessed, nil
}

// settleTarget applies a completed payment to what it was raised for. Money
// the target can no longer take stays on the payment as unapplied credit.
func (r *PaymentReconciler) settleTarget(ctx context.Context, repos TransactionalRepositories, p *payment.Payment, events *eventBatch) ([]payment.Allocation, error) {
	switch p.Target.Kind {
	case payment.TargetDocument:
		doc, err := repos.Documents().FindByIDForUpdate(ctx, p.TenantID, p.Target.ID)
		if err != nil {
			return nil, err
		}
		if doc == nil || doc.AcceptsPayment() != nil {
			r.logger.Warn("Payment target no longer accepts payments, keeping as credit",
				zap.String("payment_id", p.ID.String()),
				zap.String("document_id", p.Target.ID.String()))
			return nil, nil
		}
		allocated, err := repos.Allocations().SumByDocument(ctx, p.TenantID, doc.ID)
		if err != nil {
			return nil, err
		}
		amount := decimal.Min(p.Amount, doc.OutstandingBalance(allocated))
		if !amount.IsPositive() {
			return nil, nil
		}
		result, err := r.allocator.AllocateInTx(ctx, repos, p, []AllocationTarget{{DocumentID: doc.ID, Amount: amount}})
		if err != nil {
			return nil, err
		}
		for _, d := range result.Documents {
			events.collect(d)
		}
		return result.Allocations, nil

	case payment.TargetSubscription:
		sub, err := repos.Subscriptions().FindByIDForUpdate(ctx, p.TenantID, p.Target.ID)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			r.logger.Warn("Subscription for payment not found", zap.String("payment_id", p.ID.String()))
			return nil, nil
		}
		plan, err := repos.Plans().FindByID(ctx, p.TenantID, sub.PlanID)
		if err != nil {
			return nil, err
		}
		if err := sub.Activate(plan, p.ID, *p.ReceivedAt); err != nil {
			r.logger.Warn("Subscription could not be activated, keeping payment as credit",
				zap.String("payment_id", p.ID.String()),
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err))
			return nil, nil
		}
		return nil, repos.Subscriptions().Update(ctx, sub)
	}
	return nil, nil
}

// SweepStale queries the gateway for pending payments whose webhook never
// arrived. It returns how many reached a terminal state.
func (r *PaymentReconciler) SweepStale(ctx context.Context, limit int) (int, error) {
	var stale []payment.Payment
	err := r.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		stale, err = repos.Payments().FindStalePending(ctx, r.now().Add(-r.settings.WebhookWindow), limit)
		return err
	})
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range stale {
		updated, err := r.queryGateway(ctx, &stale[i])
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return resolved, err
			}
			continue
		}
		if updated.Status.IsTerminal() {
			resolved++
		}
	}
	return resolved, nil
}

func (r *PaymentReconciler) callbackURL(tenantID uuid.UUID) string {
	return strings.TrimRight(r.settings.CallbackURL, "/") + "/" + tenantID.String()
}

func (r *PaymentReconciler) isProcessed(ctx context.Context, key string) bool {
	if r.idempotency == nil {
		return false
	}
	done, err := r.idempotency.IsProcessed(ctx, key)
	if err != nil {
		r.logger.Warn("Idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return done
}

func (r *PaymentReconciler) markProcessed(ctx context.Context, key string) {
	if r.idempotency == nil {
		return
	}
	if _, err := r.idempotency.MarkProcessed(ctx, key, r.settings.IdempotencyTTL); err != nil {
		r.logger.Warn("Failed to mark callback processed", zap.String("key", key), zap.Error(err))
	}
}

// recordFailure keeps an audit row for a message that could not be applied.
// It runs in its own transaction because the failed one was rolled back.
func (r *PaymentReconciler) recordFailure(ctx context.Context, event *payment.GatewayEvent, cause error) {
	event.Resolve(nil, payment.EventRejected)
	event.Error = cause.Error()
	err := r.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		return repos.GatewayEvents().Create(ctx, event)
	})
	if err != nil {
		r.logger.Error("Failed to store gateway event", zap.Error(err))
	}
}

func reconciliationKey(tenantID uuid.UUID, checkoutRequestID string) string {
	return "mpesa:" + tenantID.String() + ":" + checkoutRequestID
}

func statusResponse(p *payment.Payment, stop bool) *PaymentStatusResponse {
	resp := &PaymentStatusResponse{
		Status:      string(p.Status),
		Amount:      p.Amount,
		Number:      p.Number,
		Reference:   p.Reference,
		StopPolling: stop || p.Status.IsTerminal(),
	}
	switch p.Status {
	case payment.StatusCompleted:
		resp.Message = "Payment received"
	case payment.StatusFailed:
		resp.Message = "Payment could not be completed"
	case payment.StatusCancelled:
		resp.Message = "Payment was cancelled"
	default:
		resp.Status = string(payment.StatusPending)
		resp.Message = "Waiting for confirmation"
		if stop {
			resp.Message = "Still waiting for confirmation, check again later"
		}
	}
	return resp
}
