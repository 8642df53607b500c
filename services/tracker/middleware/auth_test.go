// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package middleware

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// staticProvider validates exactly one token.
type staticProvider struct {
	token    string
	identity *Identity
}

func (p *staticProvider) Validate(_ context.Context, token string) (*Identity, error) {
	if token == p.token {
		return p.identity, nil
	}
	return nil, ErrUnauthorized
}

func runRequest(provider AuthProvider, header string) *Identity {
	var got *Identity
	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/", func(c *gin.Context) {
		got = GetIdentity(c)
	})

	req := httptest.NewRequest("GET", "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	router.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestAuthMiddleware_NilProviderAllowsAll(t *testing.T) {
	got := runRequest(nil, "")
	assert.Nil(t, got)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	provider := &staticProvider{
		token:    "good-token",
		identity: &Identity{Subject: "user-1"},
	}
	got := runRequest(provider, "Bearer good-token")
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.Subject)
}

func TestAuthMiddleware_InvalidTokenLeavesNoIdentity(t *testing.T) {
	provider := &staticProvider{token: "good-token"}
	assert.Nil(t, runRequest(provider, "Bearer bad-token"))
	assert.Nil(t, runRequest(provider, ""))
	assert.Nil(t, runRequest(provider, "Basic abc"))
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"BEARER abc123", "abc123"},
		{"Bearer  spaced ", "spaced"},
		{"Basic abc123", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			c.Request.Header.Set("Authorization", tc.header)
		}
		assert.Equal(t, tc.want, extractBearerToken(c), tc.header)
	}
}

func TestIdentity_Claim(t *testing.T) {
	id := &Identity{
		Subject: "user-1",
		Claims: map[string]any{
			"simple": "value",
			"realm_access": map[string]any{
				"roles": []any{"numtracker-admin"},
			},
		},
	}

	v, ok := id.Claim("simple")
	require.True(t, ok)
	assert.Equal(t, "value", v)

	v, ok = id.Claim("realm_access/roles")
	require.True(t, ok)
	assert.Equal(t, []any{"numtracker-admin"}, v)

	_, ok = id.Claim("missing")
	assert.False(t, ok)
	_, ok = id.Claim("simple/nested")
	assert.False(t, ok)

	var nilID *Identity
	_, ok = nilID.Claim("simple")
	assert.False(t, ok)
}

func TestIdentity_HasClaim_Truthiness(t *testing.T) {
	id := &Identity{Claims: map[string]any{
		"bool_true":    true,
		"bool_false":   false,
		"string_set":   "yes",
		"string_empty": "",
		"number_set":   float64(1),
		"number_zero":  float64(0),
		"list_full":    []any{"a"},
		"list_empty":   []any{},
	}}

	assert.True(t, id.HasClaim("bool_true"))
	assert.False(t, id.HasClaim("bool_false"))
	assert.True(t, id.HasClaim("string_set"))
	assert.False(t, id.HasClaim("string_empty"))
	assert.True(t, id.HasClaim("number_set"))
	assert.False(t, id.HasClaim("number_zero"))
	assert.True(t, id.HasClaim("list_full"))
	assert.False(t, id.HasClaim("list_empty"))
	assert.False(t, id.HasClaim("missing"))
}

func TestPolicy(t *testing.T) {
	policy := Policy{AccessClaim: "can_read", AdminClaim: "can_admin"}

	reader := &Identity{Claims: map[string]any{"can_read": true}}
	admin := &Identity{Claims: map[string]any{"can_read": true, "can_admin": true}}

	assert.NoError(t, policy.CanRead(reader))
	assert.ErrorIs(t, policy.CanWrite(reader), ErrForbidden)
	assert.NoError(t, policy.CanRead(admin))
	assert.NoError(t, policy.CanWrite(admin))
	assert.ErrorIs(t, policy.CanRead(nil), ErrUnauthorized)
	assert.ErrorIs(t, policy.CanWrite(nil), ErrUnauthorized)
}

func TestPolicy_NoClaimConfigured(t *testing.T) {
	// holding any valid token is enough when no claim is named
	policy := Policy{}
	assert.NoError(t, policy.CanRead(&Identity{}))
	assert.NoError(t, policy.CanWrite(&Identity{}))
	assert.ErrorIs(t, policy.CanRead(nil), ErrUnauthorized)
}

func TestAuthorizer_Disabled(t *testing.T) {
	auth := Authorizer{Enabled: false, Policy: Policy{AccessClaim: "x", AdminClaim: "y"}}
	assert.NoError(t, auth.CanRead(nil))
	assert.NoError(t, auth.CanWrite(nil))
}

func TestAuthorizer_Enabled(t *testing.T) {
	auth := Authorizer{Enabled: true, Policy: Policy{AdminClaim: "can_admin"}}
	assert.ErrorIs(t, auth.CanWrite(nil), ErrUnauthorized)
	assert.ErrorIs(t, auth.CanWrite(&Identity{}), ErrForbidden)
	assert.NoError(t, auth.CanWrite(&Identity{Claims: map[string]any{"can_admin": true}}))
}
