package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	app "newsthumb/src/app"
	cfg "newsthumb/src/configuration"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var errIssuerNotAllowed = errors.New("issuer not allowed")

type (
	// IdentityProvider runs the authorization code flow against an OpenID provider.
	IdentityProvider interface {
		AuthCodeURL(state, redirectURL string) string
		Exchange(ctx context.Context, code, redirectURL string) (*app.User, error)
	}

	OIDCProvider struct {
		oidcProvider *oidc.Provider
		verifier     *oidc.IDTokenVerifier
		authConfig   oauth2.Config
		issuers      []string
	}
)

// NewOIDCProvider performs discovery against config.Auth.Host.
func NewOIDCProvider(ctx context.Context, config *cfg.Properties) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, config.Auth.Host)
	if err != nil {
		return nil, fmt.Errorf("creating OIDC provider: %w", err)
	}
	return &OIDCProvider{
		oidcProvider: provider,
		// the issuer is checked against the allow-list instead
		verifier: provider.Verifier(&oidc.Config{ClientID: config.Auth.ID, SkipIssuerCheck: true}),
		authConfig: oauth2.Config{
			ClientID:     config.Auth.ID,
			ClientSecret: config.Auth.Secret,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		issuers: config.Auth.Issuers,
	}, nil
}

func (o *OIDCProvider) AuthCodeURL(state, redirectURL string) string {
	authConfig := o.authConfig
	authConfig.RedirectURL = redirectURL
	return authConfig.AuthCodeURL(state)
}

func (o *OIDCProvider) Exchange(ctx context.Context, code, redirectURL string) (*app.User, error) {
	authConfig := o.authConfig
	authConfig.RedirectURL = redirectURL

	// Exchange the authorization code for access and id tokens
	token, err := authConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("error getting access token: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("no id_token in token response")
	}
	idToken, err := o.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("error verifying ID token: %w", err)
	}
	if err := checkIssuer(idToken.Issuer, o.issuers); err != nil {
		return nil, err
	}

	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("can not parse ID token claims: %w", err)
	}
	return &app.User{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
		Issuer:  idToken.Issuer,
	}, nil
}

func checkIssuer(issuer string, allowed []string) error {
	if issuer == "" || !slices.Contains(allowed, issuer) {
		return fmt.Errorf("%w: %q", errIssuerNotAllowed, issuer)
	}
	return nil
}
