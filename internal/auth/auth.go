// Package auth verifies bearer tokens presented on the push endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/naka0519/TownReady/internal/config"
)

// ErrUnauthorized wraps every verification failure
var ErrUnauthorized = errors.New("unauthorized")

// Claims are the identity assertions the guard checks
type Claims struct {
	Issuer   string
	Subject  string
	Email    string
	Audience string
}

// Verifier validates a raw token and returns its claims
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Guard decides whether a push request may be processed
type Guard struct {
	enabled   bool
	verifier  Verifier
	issuers   []string
	principal string
}

// NewGuard builds a guard from configuration. When verification is disabled
// no verifier is constructed.
func NewGuard(cfg config.AuthConfig) (*Guard, error) {
	if !cfg.Verify {
		return &Guard{}, nil
	}

	var v Verifier
	switch cfg.Mode {
	case config.AuthModeGoogle:
		v = NewGoogleVerifier(cfg.Audience)
	case config.AuthModeHMAC:
		v = NewHMACVerifier([]byte(cfg.HMACSecret), cfg.Audience)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	return NewGuardWithVerifier(v, cfg.AcceptedIssuers, cfg.ServiceAccount), nil
}

// NewGuardWithVerifier returns an enabled guard using v
func NewGuardWithVerifier(v Verifier, issuers []string, principal string) *Guard {
	return &Guard{
		enabled:   true,
		verifier:  v,
		issuers:   issuers,
		principal: principal,
	}
}

// Enabled reports whether tokens are checked at all
func (g *Guard) Enabled() bool {
	return g.enabled
}

// Check validates the Authorization header value. It fails closed: any
// verifier error or panic yields ErrUnauthorized.
func (g *Guard) Check(ctx context.Context, authorization string) (err error) {
	if !g.enabled {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: verifier panic: %v", ErrUnauthorized, r)
		}
	}()

	token, ok := bearerToken(authorization)
	if !ok {
		return fmt.Errorf("%w: missing or malformed bearer token", ErrUnauthorized)
	}

	claims, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims == nil {
		return fmt.Errorf("%w: no claims", ErrUnauthorized)
	}
	if !g.issuerAccepted(claims.Issuer) {
		return fmt.Errorf("%w: unexpected issuer %q", ErrUnauthorized, claims.Issuer)
	}
	if g.principal != "" && claims.Email != g.principal && claims.Subject != g.principal {
		return fmt.Errorf("%w: unexpected principal", ErrUnauthorized)
	}
	return nil
}

func (g *Guard) issuerAccepted(iss string) bool {
	for _, accepted := range g.issuers {
		if iss == accepted {
			return true
		}
	}
	return false
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.Contains(token, " ") {
		return "", false
	}
	return token, true
}
