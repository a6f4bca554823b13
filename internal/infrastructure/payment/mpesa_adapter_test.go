package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaraja is a minimal Daraja stand-in. Handlers for push and query can
// be swapped per test.
type fakeDaraja struct {
	server      *httptest.Server
	tokenCalls  atomic.Int32
	queryCalls  atomic.Int32
	pushCalls   atomic.Int32
	pushStatus  int
	lastPush    mpesaSTKPushRequest
	lastAuth    string
	queryStatus []int
	queryBodies []string
}

func newFakeDaraja(t *testing.T) *fakeDaraja {
	t.Helper()
	f := &fakeDaraja{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.tokenCalls.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"tok-123","expires_in":"3599"}`))
	})
	mux.HandleFunc(mpesaPushPath, func(w http.ResponseWriter, r *http.Request) {
		f.pushCalls.Add(1)
		f.lastAuth = r.Header.Get("Authorization")
		if f.pushStatus != 0 {
			w.WriteHeader(f.pushStatus)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&f.lastPush)
		_, _ = w.Write([]byte(`{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`))
	})
	mux.HandleFunc(mpesaQueryPath, func(w http.ResponseWriter, r *http.Request) {
		i := int(f.queryCalls.Add(1)) - 1
		if i >= len(f.queryStatus) {
			i = len(f.queryStatus) - 1
		}
		w.WriteHeader(f.queryStatus[i])
		_, _ = w.Write([]byte(f.queryBodies[i]))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDaraja) respondToQuery(status int, body string) {
	f.queryStatus = append(f.queryStatus, status)
	f.queryBodies = append(f.queryBodies, body)
}

var fixedNow = time.Date(2024, 3, 15, 7, 30, 0, 0, time.UTC)

func newTestAdapter(t *testing.T, f *fakeDaraja, opts ...MpesaAdapterOption) *MpesaAdapter {
	t.Helper()
	a, err := NewMpesaAdapter(&MpesaConfig{
		BaseURL:        f.server.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		Retry:          shared.NoWaitRetryPolicy(3),
	}, append([]MpesaAdapterOption{WithClock(func() time.Time { return fixedNow })}, opts...)...)
	require.NoError(t, err)
	return a
}

func TestMpesaConfig_Validate(t *testing.T) {
	valid := MpesaConfig{ConsumerKey: "k", ConsumerSecret: "s", ShortCode: "174379", Passkey: "p"}

	tests := []struct {
		name    string
		mutate  func(c *MpesaConfig)
		wantErr error
	}{
		{"valid", func(c *MpesaConfig) {}, nil},
		{"missing consumer key", func(c *MpesaConfig) { c.ConsumerKey = "" }, ErrMpesaMissingConsumerKey},
		{"missing consumer secret", func(c *MpesaConfig) { c.ConsumerSecret = "" }, ErrMpesaMissingConsumerSecret},
		{"missing short code", func(c *MpesaConfig) { c.ShortCode = "" }, ErrMpesaMissingShortCode},
		{"missing passkey", func(c *MpesaConfig) { c.Passkey = "" }, ErrMpesaMissingPasskey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("environment hosts", func(t *testing.T) {
		sandbox := valid
		sandbox.IsSandbox = true
		assert.Equal(t, mpesaSandboxURL, sandbox.baseURL())
		assert.Equal(t, mpesaProductionURL, valid.baseURL())
	})
}

func TestMpesaAdapter_InitiatePush(t *testing.T) {
	f := newFakeDaraja(t)
	a := newTestAdapter(t, f)

	resp, err := a.InitiatePush(context.Background(), payment.PushRequest{
		Amount:           decimal.NewFromInt(116),
		Phone:            "254712345678",
		AccountReference: "INV-2024-0001",
		Description:      "Payment for INV-2024-0001",
		CallbackURL:      "https://pay.example.com/api/v1/webhooks/mpesa/t1",
	})
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", resp.MerchantRequestID)
	assert.Equal(t, "Bearer tok-123", f.lastAuth)

	push := f.lastPush
	assert.Equal(t, "20240315103000", push.Timestamp)
	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379passkey20240315103000"))
	assert.Equal(t, wantPassword, push.Password)
	assert.Equal(t, int64(116), push.Amount)
	assert.Equal(t, "254712345678", push.PartyA)
	assert.Equal(t, "174379", push.PartyB)
	assert.Equal(t, mpesaTransactionType, push.TransactionType)
	assert.Equal(t, "INV-2024-000", push.AccountReference)
	assert.Len(t, push.TransactionDesc, maxTransactionDesc)
}

func TestMpesaAdapter_InitiatePush_Rejections(t *testing.T) {
	f := newFakeDaraja(t)
	a := newTestAdapter(t, f)
	base := payment.PushRequest{Phone: "254712345678", CallbackURL: "https://cb"}

	t.Run("fractional amount", func(t *testing.T) {
		req := base
		req.Amount = decimal.RequireFromString("10.50")
		_, err := a.InitiatePush(context.Background(), req)
		assert.ErrorIs(t, err, payment.ErrInvalidAmount)
	})

	t.Run("missing callback", func(t *testing.T) {
		req := base
		req.Amount = decimal.NewFromInt(10)
		req.CallbackURL = ""
		_, err := a.InitiatePush(context.Background(), req)
		assert.ErrorIs(t, err, payment.ErrGatewayRequestFailed)
	})

	assert.Zero(t, f.tokenCalls.Load())
}

func TestMpesaAdapter_QueryStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantState payment.QueryState
		wantCode  int
	}{
		{
			name:      "still processing",
			status:    http.StatusInternalServerError,
			body:      `{"requestId":"r1","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`,
			wantState: payment.QueryPending,
			wantCode:  -1,
		},
		{
			name:      "succeeded",
			status:    http.StatusOK,
			body:      `{"ResponseCode":"0","ResultCode":"0","ResultDesc":"The service request is processed successfully."}`,
			wantState: payment.QuerySucceeded,
			wantCode:  0,
		},
		{
			name:      "cancelled by user",
			status:    http.StatusOK,
			body:      `{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`,
			wantState: payment.QueryCancelled,
			wantCode:  1032,
		},
		{
			name:      "timed out",
			status:    http.StatusOK,
			body:      `{"ResponseCode":"0","ResultCode":"1037","ResultDesc":"DS timeout user cannot be reached"}`,
			wantState: payment.QueryFailed,
			wantCode:  1037,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeDaraja(t)
			f.respondToQuery(tt.status, tt.body)
			a := newTestAdapter(t, f)

			result, err := a.QueryStatus(context.Background(), "ws_CO_1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, result.State)
			assert.Equal(t, tt.wantCode, result.ResultCode)
			assert.JSONEq(t, tt.body, string(result.Raw))
		})
	}
}

func TestMpesaAdapter_QueryStatus_RetriesTransientErrors(t *testing.T) {
	f := newFakeDaraja(t)
	f.respondToQuery(http.StatusServiceUnavailable, `{"errorCode":"503.001","errorMessage":"busy"}`)
	f.respondToQuery(http.StatusOK, `{"ResponseCode":"0","ResultCode":"0","ResultDesc":"ok"}`)
	a := newTestAdapter(t, f)

	result, err := a.QueryStatus(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, payment.QuerySucceeded, result.State)
	assert.Equal(t, int32(2), f.queryCalls.Load())
	// the token is fetched once and reused
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestMpesaAdapter_QueryStatus_ClientErrorIsNotRetried(t *testing.T) {
	f := newFakeDaraja(t)
	f.respondToQuery(http.StatusBadRequest, `{"errorCode":"400.002.02","errorMessage":"Bad Request - Invalid CheckoutRequestID"}`)
	a := newTestAdapter(t, f)

	_, err := a.QueryStatus(context.Background(), "nope")
	require.ErrorIs(t, err, payment.ErrGatewayRequestFailed)
	assert.Contains(t, err.Error(), "Invalid CheckoutRequestID")
	assert.Equal(t, int32(1), f.queryCalls.Load())
}

func TestMpesaAdapter_BadCredentials(t *testing.T) {
	f := newFakeDaraja(t)
	a, err := NewMpesaAdapter(&MpesaConfig{
		BaseURL:        f.server.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "wrong",
		ShortCode:      "174379",
		Passkey:        "passkey",
	})
	require.NoError(t, err)

	_, err = a.InitiatePush(context.Background(), payment.PushRequest{
		Amount: decimal.NewFromInt(1), Phone: "254712345678", CallbackURL: "https://cb",
	})
	assert.ErrorIs(t, err, payment.ErrGatewayRequestFailed)
}

func TestMpesaAdapter_GatewayDown(t *testing.T) {
	f := newFakeDaraja(t)
	a := newTestAdapter(t, f)
	f.server.Close()

	_, err := a.QueryStatus(context.Background(), "ws_CO_1")
	assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
}

// refusingTransport fails the first dials to the push endpoint
type refusingTransport struct {
	refusals atomic.Int32
}

func (rt *refusingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Path == mpesaPushPath && rt.refusals.Load() > 0 {
		rt.refusals.Add(-1)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestMpesaAdapter_InitiatePush_Retries(t *testing.T) {
	req := payment.PushRequest{Amount: decimal.NewFromInt(10), Phone: "254712345678", CallbackURL: "https://cb"}

	t.Run("a refused connection is retried", func(t *testing.T) {
		f := newFakeDaraja(t)
		transport := &refusingTransport{}
		transport.refusals.Store(2)
		a := newTestAdapter(t, f, WithHTTPClient(&http.Client{Transport: transport}))

		resp, err := a.InitiatePush(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)
		assert.Equal(t, int32(1), f.pushCalls.Load())
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		f := newFakeDaraja(t)
		transport := &refusingTransport{}
		transport.refusals.Store(5)
		a := newTestAdapter(t, f, WithHTTPClient(&http.Client{Transport: transport}))

		_, err := a.InitiatePush(context.Background(), req)
		assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
		assert.Equal(t, int32(2), transport.refusals.Load())
		assert.Zero(t, f.pushCalls.Load())
	})

	t.Run("a push Daraja received is not repeated", func(t *testing.T) {
		f := newFakeDaraja(t)
		f.pushStatus = http.StatusServiceUnavailable
		a := newTestAdapter(t, f)

		_, err := a.InitiatePush(context.Background(), req)
		assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
		assert.Equal(t, int32(1), f.pushCalls.Load())
	})
}

func TestUnconfiguredGateway(t *testing.T) {
	var gw payment.Gateway = UnconfiguredGateway{}

	resp, err := gw.InitiatePush(context.Background(), payment.PushRequest{Amount: decimal.NewFromInt(10)})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, payment.ErrGatewayNotConfigured)

	result, err := gw.QueryStatus(context.Background(), "ws_CO_1")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, payment.ErrGatewayNotConfigured)
}
