package oauth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"kontoros.org/internal/auth"
)

const googleIssuer = "https://accounts.google.com"

// Google federates through full OIDC: the identity comes from a signed
// id_token verified against Google's published key set, with the audience
// pinned to our client id.
type Google struct {
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogle discovers Google's OIDC configuration and prepares the
// exchange config and id_token verifier.
func NewGoogle(ctx context.Context, clientID, clientSecret, redirectURL string) (*Google, error) {
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return &Google{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) AuthCodeURL(state, nonce, codeChallenge string) string {
	return g.config.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (g *Google) Exchange(ctx context.Context, code, codeVerifier string) (*Tokens, error) {
	tok, err := g.config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: google token exchange: %v", auth.ErrTransientUpstream, err)
	}
	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, fmt.Errorf("google token response missing id_token")
	}
	return &Tokens{AccessToken: tok.AccessToken, IDToken: rawIDToken}, nil
}

func (g *Google) Identity(ctx context.Context, tokens *Tokens) (*Identity, error) {
	idToken, err := g.verifier.Verify(ctx, tokens.IDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Nonce         string `json:"nonce"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id_token claims: %w", err)
	}
	return &Identity{
		Subject:       claims.Sub,
		Email:         claims.Email,
		Name:          claims.Name,
		Nonce:         claims.Nonce,
		EmailVerified: claims.EmailVerified,
	}, nil
}
