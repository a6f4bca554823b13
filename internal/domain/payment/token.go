package payment

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// ClientTokenPrefix prefixes every opaque polling token
const ClientTokenPrefix = "chk"

// NewClientToken returns an opaque, URL-safe token the client polls with.
// It carries no gateway identifiers.
func NewClientToken() (string, error) {
	tid, err := typeid.Generate(ClientTokenPrefix)
	if err != nil {
		return "", fmt.Errorf("payment: generate client token: %w", err)
	}
	return tid.String(), nil
}

// ValidateClientToken checks that s is a well-formed client token
func ValidateClientToken(s string) error {
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tid.Prefix() != ClientTokenPrefix {
		return fmt.Errorf("%w: unexpected prefix %q", ErrInvalidToken, tid.Prefix())
	}
	return nil
}
