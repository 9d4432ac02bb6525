package server

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const timeLayout = "2006-01-02 15:04:05"

//go:embed templates/*.html
var templatesFS embed.FS

func loadTemplates() *template.Template {
	return template.Must(template.ParseFS(templatesFS, "templates/*.html"))
}

type PageHandler struct {
	sessionHandler
	location *time.Location
	now      func() time.Time
}

func NewPageHandler(session sessionHandler, location *time.Location, now func() time.Time) *PageHandler {
	return &PageHandler{
		sessionHandler: session,
		location:       location,
		now:            now,
	}
}

func (p *PageHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Root renders the page. Reading flashes is the only session write.
func (p *PageHandler) Root(c *gin.Context) {
	state := p.load(c)
	c.HTML(http.StatusOK, "index.html", gin.H{
		"User":      state.User,
		"Time":      p.now().In(p.location).Format(timeLayout),
		"Zone":      p.location.String(),
		"Images":    state.Images,
		"Composite": state.Composite,
		"Flashes":   p.store.Flashes(c),
	})
}
