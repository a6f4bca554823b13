package payment

import (
	"errors"
	"strings"
	"time"

	"github.com/invoicer/backend/internal/domain/shared"
)

const (
	mpesaSandboxURL    = "https://sandbox.safaricom.co.ke"
	mpesaProductionURL = "https://api.safaricom.co.ke"

	mpesaTokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	mpesaPushPath  = "/mpesa/stkpush/v1/processrequest"
	mpesaQueryPath = "/mpesa/stkpushquery/v1/query"
)

// MpesaConfig contains configuration for the Daraja STK push API
type MpesaConfig struct {
	// BaseURL overrides the environment's API host, mainly for tests
	BaseURL        string
	IsSandbox      bool
	ConsumerKey    string
	ConsumerSecret string
	// ShortCode is the paybill or till receiving the money
	ShortCode string
	Passkey   string
	Timeout   time.Duration
	Retry     shared.RetryPolicy
}

// Errors for configuration validation
var (
	ErrMpesaMissingConsumerKey    = errors.New("mpesa: missing consumer key")
	ErrMpesaMissingConsumerSecret = errors.New("mpesa: missing consumer secret")
	ErrMpesaMissingShortCode      = errors.New("mpesa: missing short code")
	ErrMpesaMissingPasskey        = errors.New("mpesa: missing passkey")
)

// Validate validates the configuration
func (c *MpesaConfig) Validate() error {
	if c.ConsumerKey == "" {
		return ErrMpesaMissingConsumerKey
	}
	if c.ConsumerSecret == "" {
		return ErrMpesaMissingConsumerSecret
	}
	if c.ShortCode == "" {
		return ErrMpesaMissingShortCode
	}
	if c.Passkey == "" {
		return ErrMpesaMissingPasskey
	}
	return nil
}

func (c *MpesaConfig) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.IsSandbox {
		return mpesaSandboxURL
	}
	return mpesaProductionURL
}
