package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"kontoros.org/internal/auth"
)

const facebookGraphURL = "https://graph.facebook.com/v18.0"

// Facebook has no OIDC identity assertion; claims come from the Graph
// userinfo endpoint using the exchanged access token. Email is only
// present when the user granted the permission.
type Facebook struct {
	config     *oauth2.Config
	graphURL   string
	httpClient *http.Client
}

// NewFacebook prepares the exchange config and a bounded-timeout client
// for the Graph userinfo call.
func NewFacebook(clientID, clientSecret, redirectURL string) *Facebook {
	return &Facebook{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     facebook.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"public_profile", "email"},
		},
		graphURL:   facebookGraphURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *Facebook) Name() string { return "facebook" }

// AuthCodeURL omits the PKCE parameters: the Graph dialog only honors them
// with advanced app configuration.
func (f *Facebook) AuthCodeURL(state, nonce, codeChallenge string) string {
	return f.config.AuthCodeURL(state)
}

func (f *Facebook) Exchange(ctx context.Context, code, codeVerifier string) (*Tokens, error) {
	tok, err := f.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: facebook token exchange: %v", auth.ErrTransientUpstream, err)
	}
	return &Tokens{AccessToken: tok.AccessToken}, nil
}

func (f *Facebook) Identity(ctx context.Context, tokens *Tokens) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.graphURL+"/me?fields=id,name,email", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: facebook userinfo: %v", auth.ErrTransientUpstream, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: facebook userinfo status %d", auth.ErrTransientUpstream, res.StatusCode)
	}

	var profile struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(res.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode facebook userinfo: %w", err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("facebook userinfo missing subject")
	}
	return &Identity{Subject: profile.ID, Email: profile.Email, Name: profile.Name}, nil
}
