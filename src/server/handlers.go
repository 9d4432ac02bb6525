package server

import (
	"log/slog"
	"net/http"

	app "newsthumb/src/app"
	db "newsthumb/src/repository"

	"github.com/gin-gonic/gin"
)

// sessionHandler loads the per-request State and writes it back once a
// handler is done with it.
type sessionHandler struct {
	store db.StateStore
}

func (s sessionHandler) load(c *gin.Context) *app.State {
	state, err := s.store.Load(c)
	if err != nil {
		slog.Warn("discarding unreadable session", "error", err)
		return &app.State{}
	}
	return state
}

// finish saves state, queues message (if any) and sends the browser home.
func (s sessionHandler) finish(c *gin.Context, state *app.State, message string) {
	if message != "" {
		s.store.Flash(c, message)
	}
	if err := s.store.Save(c, state); err != nil {
		slog.Error("can not save session", "error", err)
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": "error", "error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, homeRoute)
}
