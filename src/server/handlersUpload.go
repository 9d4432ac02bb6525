package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"

	app "newsthumb/src/app"
	"newsthumb/src/imaging"

	"github.com/gin-gonic/gin"
)

const (
	imagesFormField = "images"

	msgSignInFirst = "Please log in first"
	msgNoFiles     = "No files selected"
	msgTooMany     = "You can upload a maximum of 5 images"
)

type UploadHandler struct {
	sessionHandler
	layout *app.Layout
	mirror app.Mirror
}

func NewUploadHandler(session sessionHandler, layout *app.Layout, mirror app.Mirror) *UploadHandler {
	return &UploadHandler{
		sessionHandler: session,
		layout:         layout,
		mirror:         mirror,
	}
}

func (u *UploadHandler) PostImages(c *gin.Context) {
	state := u.load(c)

	var files []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil {
		files = form.File[imagesFormField]
	}

	processed, err := u.process(c.Request.Context(), *state, files)
	if err != nil {
		// rejected uploads leave the session as it was
		u.finish(c, state, uploadErrorMessage(err))
		return
	}
	u.finish(c, &processed, fmt.Sprintf("Uploaded and processed %d images", len(processed.Images)))
}

// process validates the submission, writes originals and thumbnails into the
// session workspace and returns the state with the new image set.
func (u *UploadHandler) process(ctx context.Context, state app.State, files []*multipart.FileHeader) (app.State, error) {
	switch {
	case !state.SignedIn():
		return state, app.ErrNotSignedIn
	case len(files) == 0:
		return state, app.ErrNoFiles
	case len(files) > app.MaxImages:
		return state, app.ErrTooManyFiles
	}

	if !app.ValidWorkspace(state.Workspace) {
		state.Workspace = app.NewWorkspace()
	}
	if err := u.layout.Reset(state.Workspace); err != nil {
		return state, err
	}

	urls := make([]string, 0, len(files))
	seen := make(map[string]bool, len(files))
	for i, file := range files {
		if !app.AllowedImage(file.Filename) {
			continue
		}
		name := app.StoredFilename(file.Filename, i, seen)

		url, err := u.persist(ctx, state.Workspace, name, file)
		if err != nil {
			slog.Warn("skipping upload", "file", name, "error", err)
			continue
		}
		urls = append(urls, url)
	}

	state.ReplaceImages(urls)
	slog.Info("processed upload", "workspace", state.Workspace, "received", len(files), "accepted", len(urls))
	return state, nil
}

// persist writes one file and its thumbnail, returning the thumbnail URL.
func (u *UploadHandler) persist(ctx context.Context, workspace, name string, file *multipart.FileHeader) (string, error) {
	original := u.layout.OriginalPath(workspace, name)
	if err := saveUploadedFile(file, original); err != nil {
		return "", err
	}
	thumbnail := u.layout.ThumbnailPath(workspace, name)
	if _, err := imaging.MakeThumbnail(original, thumbnail); err != nil {
		_ = os.Remove(original)
		return "", err
	}
	url, err := u.layout.URLFor(thumbnail)
	if err != nil {
		return "", err
	}
	mirrorFiles(ctx, u.mirror, u.layout, original, thumbnail)
	return url, nil
}

func saveUploadedFile(file *multipart.FileHeader, dst string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return out.Close()
}

// mirrorFiles copies artifacts to object storage. Failures are only logged:
// the local copy is the one pages are served from.
func mirrorFiles(ctx context.Context, mirror app.Mirror, layout *app.Layout, files ...string) {
	if mirror == nil {
		return
	}
	for _, file := range files {
		if err := mirror.MirrorFile(ctx, layout.ObjectKey(file), file); err != nil {
			slog.Warn("can not mirror artifact", "file", file, "error", err)
		}
	}
}

func uploadErrorMessage(err error) string {
	switch {
	case errors.Is(err, app.ErrNotSignedIn):
		return msgSignInFirst
	case errors.Is(err, app.ErrNoFiles):
		return msgNoFiles
	case errors.Is(err, app.ErrTooManyFiles):
		return msgTooMany
	default:
		slog.Error("upload failed", "error", err)
		return "Upload failed"
	}
}
