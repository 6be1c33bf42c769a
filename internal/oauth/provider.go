// Package oauth implements third-party identity federation over the
// OAuth 2.0 authorization-code flow with PKCE. Providers differ only in
// how they surface identity claims; the flow logic is provider-agnostic.
package oauth

import "context"

// Identity is the set of claims a provider asserts about the user.
// Nonce is empty for providers that do not issue a signed identity token.
type Identity struct {
	Subject       string
	Email         string
	Name          string
	Nonce         string
	EmailVerified bool
}

// Tokens is the result of redeeming an authorization code.
type Tokens struct {
	AccessToken string
	IDToken     string
}

// Provider abstracts one federation upstream. Adding a provider means
// implementing this interface and registering it with the Flow; the flow
// logic itself does not change.
type Provider interface {
	Name() string
	// AuthCodeURL builds the authorization redirect carrying state, nonce
	// and the PKCE challenge.
	AuthCodeURL(state, nonce, codeChallenge string) string
	// Exchange redeems the authorization code, proving possession of the
	// PKCE verifier. Network or upstream HTTP failures surface as
	// auth.ErrTransientUpstream.
	Exchange(ctx context.Context, code, codeVerifier string) (*Tokens, error)
	// Identity obtains verified claims from the exchanged tokens, either
	// by validating a signed identity assertion or by calling the
	// provider's userinfo endpoint.
	Identity(ctx context.Context, tokens *Tokens) (*Identity, error)
}
