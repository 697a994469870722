package sso

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goAccess"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	// ErrMissingEmail is returned when the identity provider does not
	// release an email address. goAccess keys accounts by email.
	ErrMissingEmail = fmt.Errorf("%w: identity provider returned no email", goAccess.ErrInvalidCredentials)
	// ErrUnverifiedEmail is returned when OIDCConfig.RequireVerifiedEmail is
	// set and the email_verified claim is not true.
	ErrUnverifiedEmail = fmt.Errorf("%w: email not verified by identity provider", goAccess.ErrInvalidCredentials)
	// ErrMissingIDToken is returned when the token response lacks id_token.
	ErrMissingIDToken = fmt.Errorf("%w: id_token missing from token response", goAccess.ErrInvalidCredentials)
)

// OIDCConfig configures an OpenID Connect relying party.
type OIDCConfig struct {
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	// RequireVerifiedEmail rejects ID tokens whose email_verified claim is
	// absent or false.
	RequireVerifiedEmail bool `mapstructure:"require_verified_email"`
}

// Validate reports missing required settings.
func (c OIDCConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.IssuerURL) == "":
		return errors.New("sso: oidc issuer_url is required")
	case strings.TrimSpace(c.ClientID) == "":
		return errors.New("sso: oidc client_id is required")
	case strings.TrimSpace(c.RedirectURL) == "":
		return errors.New("sso: oidc redirect_url is required")
	}
	return nil
}

// Claims is the subset of ID token claims goAccess reads.
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
}

// OIDC runs the authorization code flow against one issuer.
type OIDC struct {
	oauth2               *oauth2.Config
	verifier             *oidc.IDTokenVerifier
	states               *StateStore
	requireVerifiedEmail bool
}

// NewOIDC discovers the issuer and builds the relying party. states may be
// shared with a SAML provider; nil creates a private store.
func NewOIDC(ctx context.Context, cfg OIDCConfig, states *StateStore) (*OIDC, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("sso: discover oidc issuer: %w", err)
	}

	scopes := make([]string, 0, len(cfg.Scopes)+1)
	scopes = append(scopes, oidc.ScopeOpenID)
	for _, s := range cfg.Scopes {
		s = strings.TrimSpace(s)
		if s != "" && s != oidc.ScopeOpenID {
			scopes = append(scopes, s)
		}
	}
	if len(scopes) == 1 {
		scopes = append(scopes, "profile", "email")
	}

	if states == nil {
		states = NewStateStore(0, 0)
	}
	return &OIDC{
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier:             provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		states:               states,
		requireVerifiedEmail: cfg.RequireVerifiedEmail,
	}, nil
}

// Start returns the authorization URL for a new round trip. target is the
// deep link restored after the callback.
func (o *OIDC) Start(target string) (string, error) {
	state, err := o.states.Issue(Pending{Target: target})
	if err != nil {
		return "", fmt.Errorf("sso: issue state: %w", err)
	}
	return o.oauth2.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Callback consumes state, exchanges code and verifies the ID token. It
// returns the external profile and the captured deep link.
func (o *OIDC) Callback(ctx context.Context, state, code string) (goAccess.User, string, error) {
	pending, err := o.states.Consume(state)
	if err != nil {
		return goAccess.User{}, "", err
	}
	if code == "" {
		return goAccess.User{}, "", fmt.Errorf("%w: authorization code missing", goAccess.ErrInvalidCredentials)
	}

	token, err := o.oauth2.Exchange(ctx, code)
	if err != nil {
		return goAccess.User{}, "", fmt.Errorf("%w: code exchange: %v", goAccess.ErrInvalidCredentials, err)
	}
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return goAccess.User{}, "", ErrMissingIDToken
	}
	idToken, err := o.verifier.Verify(ctx, raw)
	if err != nil {
		return goAccess.User{}, "", fmt.Errorf("%w: verify id_token: %v", goAccess.ErrInvalidCredentials, err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return goAccess.User{}, "", fmt.Errorf("%w: decode claims: %v", goAccess.ErrInvalidCredentials, err)
	}
	profile, err := ProfileFromClaims(claims, o.requireVerifiedEmail)
	if err != nil {
		return goAccess.User{}, "", err
	}
	return profile, pending.Target, nil
}

// ProfileFromClaims maps verified ID token claims to an external profile.
func ProfileFromClaims(c Claims, requireVerified bool) (goAccess.User, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return goAccess.User{}, ErrMissingEmail
	}
	if requireVerified && (c.EmailVerified == nil || !*c.EmailVerified) {
		return goAccess.User{}, ErrUnverifiedEmail
	}
	return goAccess.User{
		Email:        email,
		AuthProvider: goAccess.ProviderOAuth,
		Active:       true,
		Verified:     c.EmailVerified != nil && *c.EmailVerified,
	}, nil
}
