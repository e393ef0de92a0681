package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUndecodable is returned when a credential cannot be parsed into claims.
var ErrUndecodable = errors.New("credential undecodable")

// Claims is the decoded payload of an access credential.
type Claims struct {
	// Subject is the account's stable login identifier.
	Subject string
	// AccountID is the numeric account id.
	AccountID int64
	// BranchID identifies the restaurant branch a back-office account is
	// scoped to. Zero for storefront accounts.
	BranchID int64
	// Role is the raw role claim in whatever shape the server issued it.
	Role RoleClaim
	// IssuedAt and ExpiresAt are taken from the registered iat/exp claims.
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Fresh reports whether the credential is still usable at the given instant.
// A credential is fresh iff now is strictly before its expiry. Freshness is
// evaluated lazily by callers; nothing in this package runs timers.
func (c *Claims) Fresh(now time.Time) bool {
	if c == nil {
		return false
	}
	return now.Before(c.ExpiresAt)
}

// TTL returns the remaining lifetime at the given instant, negative when
// already expired.
func (c *Claims) TTL(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

type wireClaims struct {
	AccountID int64     `json:"account_id"`
	BranchID  int64     `json:"branch_id,omitempty"`
	Role      RoleClaim `json:"role"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser()

// Decode parses a compact credential string without verifying its signature.
// The server is the sole verifier; the client only needs the payload to
// derive identity, role, and freshness.
//
// A credential that cannot be parsed, or that carries no expiry, yields
// [ErrUndecodable]. Decode never panics, whatever the input.
func Decode(raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrUndecodable)
	}

	var wire wireClaims
	if _, _, err := parser.ParseUnverified(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	if wire.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrUndecodable)
	}

	claims := &Claims{
		Subject:   wire.Subject,
		AccountID: wire.AccountID,
		BranchID:  wire.BranchID,
		Role:      wire.Role,
		ExpiresAt: wire.ExpiresAt.Time,
	}
	if wire.IssuedAt != nil {
		claims.IssuedAt = wire.IssuedAt.Time
	}

	return claims, nil
}
