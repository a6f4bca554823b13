package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/infrastructure/cache"
	"github.com/invoicer/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Daraja timestamps are East Africa Time
var eastAfricaTime = time.FixedZone("EAT", 3*60*60)

const (
	maxAccountReference = 12
	maxTransactionDesc  = 13
	tokenRefreshMargin  = time.Minute
)

// MpesaAdapter implements payment.Gateway against Safaricom's Daraja API
type MpesaAdapter struct {
	config     *MpesaConfig
	httpClient *http.Client
	tokens     cache.TokenCache
	logger     *zap.Logger
	now        func() time.Time
}

// MpesaAdapterOption configures an MpesaAdapter
type MpesaAdapterOption func(*MpesaAdapter)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) MpesaAdapterOption {
	return func(a *MpesaAdapter) {
		a.httpClient = client
	}
}

// WithTokenCache shares access tokens through cache instead of per process
func WithTokenCache(tokens cache.TokenCache) MpesaAdapterOption {
	return func(a *MpesaAdapter) {
		a.tokens = tokens
	}
}

// WithLogger sets the adapter logger
func WithLogger(logger *zap.Logger) MpesaAdapterOption {
	return func(a *MpesaAdapter) {
		a.logger = logger
	}
}

// WithClock sets the clock used for request timestamps
func WithClock(now func() time.Time) MpesaAdapterOption {
	return func(a *MpesaAdapter) {
		a.now = now
	}
}

// NewMpesaAdapter creates a new M-Pesa adapter
func NewMpesaAdapter(config *MpesaConfig, opts ...MpesaAdapterOption) (*MpesaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &MpesaAdapter{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     cache.NewInMemoryTokenCache(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// InitiatePush sends an STK push prompt to the customer's phone. Only
// failures that happened before the request left are retried; repeating a
// push Daraja may have received could prompt the customer twice.
func (a *MpesaAdapter) InitiatePush(ctx context.Context, req payment.PushRequest) (_ *payment.PushResponse, err error) {
	ctx, span := telemetry.StartSpan(ctx, "mpesa.stk_push", trace.SpanKindClient)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, fmt.Errorf("%w: M-Pesa accepts whole shillings only, got %s", payment.ErrInvalidAmount, req.Amount)
	}
	if req.Phone == "" || req.CallbackURL == "" {
		return nil, fmt.Errorf("%w: phone and callback URL are required", payment.ErrGatewayRequestFailed)
	}

	timestamp, password := a.credentials()
	body := mpesaSTKPushRequest{
		BusinessShortCode: a.config.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   mpesaTransactionType,
		Amount:            req.Amount.IntPart(),
		PartyA:            req.Phone,
		PartyB:            a.config.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       req.CallbackURL,
		AccountReference:  truncate(req.AccountReference, maxAccountReference),
		TransactionDesc:   truncate(req.Description, maxTransactionDesc),
	}

	var (
		status   int
		respBody []byte
	)
	err = a.config.Retry.Do(ctx, isUnsent, func(attempt int) error {
		if attempt > 1 {
			a.logger.Warn("Retrying STK push that was not sent", zap.Int("attempt", attempt))
		}
		var postErr error
		status, respBody, postErr = a.post(ctx, mpesaPushPath, body)
		return postErr
	})
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, gatewayError(status, respBody)
	}

	var resp mpesaSTKPushResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrGatewayInvalidResponse, err)
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: %s %s", payment.ErrGatewayRequestFailed, resp.ResponseCode, resp.ResponseDescription)
	}

	telemetry.SetAttributes(span, telemetry.AttrCheckoutRequestID, resp.CheckoutRequestID)
	a.logger.Info("STK push accepted",
		zap.String("checkout_request_id", resp.CheckoutRequestID),
		zap.String("merchant_request_id", resp.MerchantRequestID),
		zap.String("account_reference", body.AccountReference))

	return &payment.PushResponse{
		CheckoutRequestID:   resp.CheckoutRequestID,
		MerchantRequestID:   resp.MerchantRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
	}, nil
}

// QueryStatus asks Daraja for the outcome of an STK push. A push the
// customer has not answered yet is reported as pending.
func (a *MpesaAdapter) QueryStatus(ctx context.Context, checkoutRequestID string) (_ *payment.QueryResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "mpesa.stk_query", trace.SpanKindClient,
		telemetry.AttrCheckoutRequestID, checkoutRequestID)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	var result *payment.QueryResult
	err = a.config.Retry.Do(ctx, isTransient, func(attempt int) error {
		timestamp, password := a.credentials()
		status, respBody, err := a.post(ctx, mpesaQueryPath, mpesaQueryRequest{
			BusinessShortCode: a.config.ShortCode,
			Password:          password,
			Timestamp:         timestamp,
			CheckoutRequestID: checkoutRequestID,
		})
		if err != nil {
			return err
		}
		result, err = parseQueryResponse(status, respBody)
		return err
	})
	if err != nil {
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.AttrResultCode, result.ResultCode)
	return result, nil
}

func parseQueryResponse(status int, body []byte) (*payment.QueryResult, error) {
	if status >= 300 {
		var errResp mpesaErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.ErrorCode == mpesaErrorStillProcessing {
			return &payment.QueryResult{
				State:      payment.QueryPending,
				ResultCode: -1,
				ResultDesc: errResp.ErrorMessage,
				Raw:        body,
			}, nil
		}
		return nil, gatewayError(status, body)
	}

	var resp mpesaQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrGatewayInvalidResponse, err)
	}
	if resp.ResultCode == "" {
		return &payment.QueryResult{State: payment.QueryPending, ResultCode: -1, ResultDesc: resp.ResponseDescription, Raw: body}, nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(resp.ResultCode))
	if err != nil {
		return nil, fmt.Errorf("%w: result code %q", payment.ErrGatewayInvalidResponse, resp.ResultCode)
	}
	return &payment.QueryResult{
		State:      payment.StateForResultCode(code),
		ResultCode: code,
		ResultDesc: resp.ResultDesc,
		Raw:        body,
	}, nil
}

// credentials returns the request timestamp and the matching password,
// base64(shortcode + passkey + timestamp).
func (a *MpesaAdapter) credentials() (string, string) {
	timestamp := a.now().In(eastAfricaTime).Format("20060102150405")
	raw := a.config.ShortCode + a.config.Passkey + timestamp
	return timestamp, base64.StdEncoding.EncodeToString([]byte(raw))
}

func (a *MpesaAdapter) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return 0, nil, &unsentError{err: err}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("mpesa: failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.baseURL()+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("mpesa: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return a.do(req)
}

// accessToken returns a cached OAuth token or fetches a new one
func (a *MpesaAdapter) accessToken(ctx context.Context) (string, error) {
	key := "mpesa:" + a.config.ConsumerKey
	if token, ok, err := a.tokens.Get(ctx, key); err != nil {
		a.logger.Warn("Token cache unavailable", zap.Error(err))
	} else if ok {
		return token, nil
	}

	var tok mpesaTokenResponse
	err := a.config.Retry.Do(ctx, isTransient, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.baseURL()+mpesaTokenPath, nil)
		if err != nil {
			return fmt.Errorf("mpesa: failed to create token request: %w", err)
		}
		req.SetBasicAuth(a.config.ConsumerKey, a.config.ConsumerSecret)
		status, body, err := a.do(req)
		if err != nil {
			return err
		}
		if status >= 300 {
			return gatewayError(status, body)
		}
		if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
			return fmt.Errorf("%w: no access token", payment.ErrGatewayInvalidResponse)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	ttl := 55 * time.Minute
	if secs, err := strconv.Atoi(tok.ExpiresIn); err == nil && time.Duration(secs)*time.Second > 2*tokenRefreshMargin {
		ttl = time.Duration(secs)*time.Second - tokenRefreshMargin
	}
	if err := a.tokens.Set(ctx, key, tok.AccessToken, ttl); err != nil {
		a.logger.Warn("Failed to cache access token", zap.Error(err))
	}
	return tok.AccessToken, nil
}

func (a *MpesaAdapter) do(req *http.Request) (int, []byte, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return 0, nil, &unsentError{err: wrapped}
		}
		return 0, nil, wrapped
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", payment.ErrGatewayUnavailable, err)
	}
	return resp.StatusCode, body, nil
}

// gatewayError maps a non-2xx Daraja response. 5xx and 429 are transient.
func gatewayError(status int, body []byte) error {
	sentinel := payment.ErrGatewayRequestFailed
	if status >= 500 || status == http.StatusTooManyRequests {
		sentinel = payment.ErrGatewayUnavailable
	}
	var errResp mpesaErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.ErrorCode != "" {
		return fmt.Errorf("%w: HTTP %d %s - %s", sentinel, status, errResp.ErrorCode, errResp.ErrorMessage)
	}
	return fmt.Errorf("%w: HTTP %d", sentinel, status)
}

func isTransient(err error) bool {
	return errors.Is(err, payment.ErrGatewayUnavailable)
}

// unsentError marks a failure before the request reached Daraja
type unsentError struct {
	err error
}

func (e *unsentError) Error() string { return e.err.Error() }

func (e *unsentError) Unwrap() error { return e.err }

func isUnsent(err error) bool {
	var unsent *unsentError
	return errors.As(err, &unsent) && isTransient(err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ payment.Gateway = (*MpesaAdapter)(nil)
