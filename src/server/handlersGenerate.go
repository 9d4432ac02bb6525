package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	app "newsthumb/src/app"
	"newsthumb/src/external"
	"newsthumb/src/imaging"

	"github.com/gin-gonic/gin"
)

const (
	msgUploadFirst = "Please upload images first"
	msgGenerated   = "News thumbnail generated"
	msgGenFailed   = "Could not generate the news thumbnail"
)

type GenerateHandler struct {
	sessionHandler
	layout    *app.Layout
	captioner external.Captioner
	renderer  *imaging.Renderer
	mirror    app.Mirror
	now       func() time.Time
}

func NewGenerateHandler(session sessionHandler, layout *app.Layout, captioner external.Captioner,
	renderer *imaging.Renderer, mirror app.Mirror, now func() time.Time) *GenerateHandler {
	return &GenerateHandler{
		sessionHandler: session,
		layout:         layout,
		captioner:      captioner,
		renderer:       renderer,
		mirror:         mirror,
		now:            now,
	}
}

func (g *GenerateHandler) PostGenerate(c *gin.Context) {
	state := g.load(c)

	generated, err := g.process(c.Request.Context(), *state, requestBaseURL(c))
	if err != nil {
		g.finish(c, state, generateErrorMessage(err))
		return
	}
	g.finish(c, &generated, msgGenerated)
}

// process renders the composite for the current image set. Validation runs
// before the caption service is asked or anything is written.
func (g *GenerateHandler) process(ctx context.Context, state app.State, baseURL string) (app.State, error) {
	if !state.SignedIn() {
		return state, app.ErrNotSignedIn
	}
	if len(state.Images) == 0 || !app.ValidWorkspace(state.Workspace) {
		return state, app.ErrNoImages
	}

	paths := make([]string, 0, len(state.Images))
	refs := make([]string, 0, len(state.Images))
	for _, url := range state.Images {
		path, err := g.layout.PathFor(url)
		if err != nil {
			return state, err
		}
		paths = append(paths, path)
		refs = append(refs, baseURL+url)
	}

	caption := g.captioner.Caption(ctx, refs)

	output := g.layout.CompositePath(state.Workspace)
	bounds, err := g.renderer.Render(paths, caption, output)
	if err != nil {
		return state, err
	}
	url, err := g.layout.URLFor(output)
	if err != nil {
		return state, err
	}
	mirrorFiles(ctx, g.mirror, g.layout, output)

	state.Composite = fmt.Sprintf("%s?v=%d", url, g.now().Unix())
	slog.Info("generated composite", "workspace", state.Workspace, "width", bounds.Dx(), "height", bounds.Dy())
	return state, nil
}

func generateErrorMessage(err error) string {
	switch {
	case errors.Is(err, app.ErrNotSignedIn):
		return msgSignInFirst
	case errors.Is(err, app.ErrNoImages), errors.Is(err, imaging.ErrEmptyImageSet):
		return msgUploadFirst
	default:
		slog.Error("composite generation failed", "error", err)
		return msgGenFailed
	}
}
