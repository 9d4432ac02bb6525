package repository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	app "newsthumb/src/app"
	cfg "newsthumb/src/configuration"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const stateKey = "state"

type (
	// StateStore persists the per-session State between requests.
	StateStore interface {
		Load(c *gin.Context) (*app.State, error)
		Save(c *gin.Context, state *app.State) error
		Clear(c *gin.Context) error
		Flash(c *gin.Context, message string)
		Flashes(c *gin.Context) []string
	}

	CookieStore struct{}
)

// NewCookieStore builds the signed cookie backend and the gin middleware
// that attaches it to every request.
func NewCookieStore(config *cfg.Properties, secret []byte) (*CookieStore, gin.HandlerFunc) {
	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   config.Session.MaxAge,
		Secure:   config.Session.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return &CookieStore{}, sessions.Sessions(config.Session.Name, store)
}

func (s *CookieStore) Load(c *gin.Context) (*app.State, error) {
	state := &app.State{}
	raw, ok := sessions.Default(c).Get(stateKey).(string)
	if !ok || raw == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		return &app.State{}, fmt.Errorf("decode session state: %w", err)
	}
	return state, nil
}

func (s *CookieStore) Save(c *gin.Context, state *app.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	session := sessions.Default(c)
	session.Set(stateKey, string(raw))
	if err := session.Save(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *CookieStore) Clear(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Flash queues a message for the next rendered page. It is written out by the
// next Save or Clear.
func (s *CookieStore) Flash(c *gin.Context, message string) {
	sessions.Default(c).AddFlash(message)
}

// Flashes pops queued messages and persists their removal.
func (s *CookieStore) Flashes(c *gin.Context) []string {
	session := sessions.Default(c)
	flashes := session.Flashes()
	if len(flashes) == 0 {
		return nil
	}
	result := make([]string, 0, len(flashes))
	for _, f := range flashes {
		if msg, ok := f.(string); ok {
			result = append(result, msg)
		}
	}
	if err := session.Save(); err != nil {
		slog.Warn("can not persist consumed flashes", "error", err)
	}
	return result
}
