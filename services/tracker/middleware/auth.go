// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package middleware provides HTTP middleware for the tracker service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, validates it using the configured AuthProvider, and stores the
// resulting Identity in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store Identity in context
//	           │
//	           ▼
//	       Resolver (retrieves via GetIdentity, enforces Policy)
//
// The middleware never aborts the request: resolvers enforce the access
// policy so authorization failures surface as GraphQL errors with codes
// rather than bare HTTP statuses.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
)

// ErrUnauthorized reports a request with no valid identity where one is
// required.
var ErrUnauthorized = errors.New("no valid access token provided")

// ErrForbidden reports an authenticated identity that lacks a required
// claim.
var ErrForbidden = errors.New("access token does not grant this operation")

// identityKey is the context key for storing the Identity.
const identityKey = "numtracker_identity"

// validateTimeout bounds how long one token validation may take.
const validateTimeout = 5 * time.Second

// Identity is the validated caller of a request.
type Identity struct {
	// Subject is the token's sub claim.
	Subject string

	// Claims holds every claim from the validated token.
	Claims map[string]any
}

// Claim resolves a claim by name. Nested values are addressed with '/'
// separators, eg "realm_access/roles".
func (id *Identity) Claim(name string) (any, bool) {
	if id == nil || name == "" {
		return nil, false
	}
	var current any = id.Claims
	for _, part := range strings.Split(name, "/") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// HasClaim reports whether a claim resolves to a truthy value: boolean
// true, a non-empty string, a non-zero number, or a non-empty list.
func (id *Identity) HasClaim(name string) bool {
	value, ok := id.Claim(name)
	if !ok {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	default:
		return value != nil
	}
}

// Policy names the claims an identity must carry for read and write
// operations. An empty claim name means no requirement for that level
// beyond holding a valid token.
type Policy struct {
	// AccessClaim is required to query paths and allocate scan numbers.
	AccessClaim string

	// AdminClaim is required to view and change configurations.
	AdminClaim string
}

// CanRead checks an identity against the read policy.
func (p Policy) CanRead(id *Identity) error {
	return p.check(id, p.AccessClaim)
}

// CanWrite checks an identity against the write policy.
func (p Policy) CanWrite(id *Identity) error {
	return p.check(id, p.AdminClaim)
}

func (p Policy) check(id *Identity, claim string) error {
	if id == nil {
		return ErrUnauthorized
	}
	if claim == "" {
		return nil
	}
	if !id.HasClaim(claim) {
		return fmt.Errorf("%w: missing claim %q", ErrForbidden, claim)
	}
	return nil
}

// Authorizer couples a Policy with whether authentication is configured
// at all. When disabled, every check passes regardless of identity.
type Authorizer struct {
	Enabled bool
	Policy  Policy
}

// CanRead checks read access, passing everything when auth is disabled.
func (a Authorizer) CanRead(id *Identity) error {
	if !a.Enabled {
		return nil
	}
	return a.Policy.CanRead(id)
}

// CanWrite checks write access, passing everything when auth is disabled.
func (a Authorizer) CanWrite(id *Identity) error {
	if !a.Enabled {
		return nil
	}
	return a.Policy.CanWrite(id)
}

// AuthProvider validates bearer tokens.
type AuthProvider interface {
	// Validate checks a raw bearer token and returns the caller's
	// identity. An empty or invalid token returns an error wrapping
	// ErrUnauthorized.
	Validate(ctx context.Context, token string) (*Identity, error)
}

// OIDCProvider validates tokens against an OIDC issuer's published keys.
type OIDCProvider struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider discovers the issuer's configuration and JWKS endpoint.
// Audience checking is skipped; the policy claims carry the authorization
// decision instead.
func NewOIDCProvider(ctx context.Context, issuer string) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover OIDC issuer %s: %w", issuer, err)
	}
	verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return &OIDCProvider{verifier: verifier}, nil
}

// Validate implements AuthProvider.
func (p *OIDCProvider) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	idToken, err := p.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %v", ErrUnauthorized, err)
	}
	return &Identity{Subject: idToken.Subject, Claims: claims}, nil
}

// identityCtxKey keys the Identity in a request context, for handlers
// that only see an http.Request (the GraphQL executor).
type identityCtxKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the identity stored by the middleware.
// Returns nil when the request carried no valid token.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*Identity)
	return id
}

// SetIdentity stores the validated identity in the Gin context and the
// underlying request context.
func SetIdentity(c *gin.Context, id *Identity) {
	c.Set(identityKey, id)
	c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
}

// GetIdentity retrieves the validated identity from the Gin context.
// Returns nil when the request carried no valid token.
func GetIdentity(c *gin.Context) *Identity {
	if v, exists := c.Get(identityKey); exists {
		if id, ok := v.(*Identity); ok {
			return id
		}
	}
	return nil
}

// AuthMiddleware creates a Gin middleware that validates bearer tokens.
//
// A nil provider disables authentication: every request proceeds with no
// identity and an empty Policy admits it. With a provider configured,
// validation failures leave a nil identity in the context; the resolvers
// reject the operation when the policy requires one.
func AuthMiddleware(provider AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if provider == nil {
			c.Next()
			return
		}

		token := extractBearerToken(c)
		if token != "" {
			ctx, cancel := context.WithTimeout(c.Request.Context(), validateTimeout)
			id, err := provider.Validate(ctx, token)
			cancel()
			if err == nil {
				SetIdentity(c, id)
			}
		}

		c.Next()
	}
}

// extractBearerToken extracts the token from the Authorization header.
//
// Parses the Authorization header expecting format: "Bearer <token>".
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
