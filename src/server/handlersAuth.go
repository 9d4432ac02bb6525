package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"time"

	app "newsthumb/src/app"
	cfg "newsthumb/src/configuration"

	"github.com/gin-gonic/gin"
)

const (
	msgAuthFailed   = "Authentication failed"
	msgAuthDown     = "Sign-in is currently unavailable"
	msgLoggedOut    = "You have been logged out"
	authorizeRoute  = "/authorize"
	homeRoute       = "/"
	oauthStateBytes = 16
)

type AuthHandler struct {
	sessionHandler
	identity    IdentityProvider
	layout      *app.Layout
	redirectURL string
	timeout     time.Duration
}

func randString(nByte int) (string, error) {
	b := make([]byte, nByte)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewAuthHandler accepts a nil identity provider: sign-in then reports
// itself unavailable instead of failing at startup.
func NewAuthHandler(config *cfg.Properties, session sessionHandler, identity IdentityProvider, layout *app.Layout) *AuthHandler {
	return &AuthHandler{
		sessionHandler: session,
		identity:       identity,
		layout:         layout,
		redirectURL:    config.Auth.Redirect,
		timeout:        config.Auth.ReadTimeout,
	}
}

func (a *AuthHandler) Login(c *gin.Context) {
	state := a.load(c)
	if a.identity == nil {
		a.finish(c, state, msgAuthDown)
		return
	}
	oauthState, err := randString(oauthStateBytes)
	if err != nil {
		slog.Error("can not generate oauth state", "error", err)
		a.finish(c, state, msgAuthFailed)
		return
	}
	state.OAuthState = oauthState
	if err := a.store.Save(c, state); err != nil {
		slog.Error("can not save session", "error", err)
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": "error", "error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, a.identity.AuthCodeURL(oauthState, a.callbackURL(c)))
}

func (a *AuthHandler) Authorize(c *gin.Context) {
	state := a.load(c)
	expected := state.OAuthState
	state.OAuthState = ""

	if a.identity == nil {
		a.finish(c, state, msgAuthDown)
		return
	}
	if errParam := c.Query("error"); errParam != "" {
		slog.Warn("identity provider returned an error", "error", errParam)
		a.finish(c, state, msgAuthFailed)
		return
	}
	got := c.Query("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		slog.Warn("oauth state mismatch")
		a.finish(c, state, msgAuthFailed)
		return
	}
	code := c.Query("code")
	if code == "" {
		a.finish(c, state, msgAuthFailed)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.timeout)
	defer cancel()
	user, err := a.identity.Exchange(ctx, code, a.callbackURL(c))
	if err != nil {
		slog.Warn("authorization failed", "error", err)
		a.finish(c, state, msgAuthFailed)
		return
	}

	state.User = user
	slog.Info("user signed in", "sub", user.Subject, "issuer", user.Issuer)
	a.finish(c, state, "")
}

func (a *AuthHandler) Logout(c *gin.Context) {
	state := a.load(c)
	if app.ValidWorkspace(state.Workspace) {
		if err := a.layout.Remove(state.Workspace); err != nil {
			slog.Warn("can not remove workspace", "workspace", state.Workspace, "error", err)
		}
	}
	if err := a.store.Clear(c); err != nil {
		slog.Warn("can not clear session", "error", err)
	}
	a.finish(c, &app.State{}, msgLoggedOut)
}

// callbackURL is the configured redirect or, by default, /authorize on the
// host the browser used to reach us.
func (a *AuthHandler) callbackURL(c *gin.Context) string {
	if a.redirectURL != "" {
		return a.redirectURL
	}
	return requestBaseURL(c) + authorizeRoute
}

func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}
