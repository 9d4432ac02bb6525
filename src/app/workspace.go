package app

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// StaticURLPrefix is the route the static root is served under.
	StaticURLPrefix = "/static"

	uploadsDir    = "uploads"
	thumbnailsDir = "thumbnails"
	generatedDir  = "generated"
	compositeName = "news_thumbnail.jpg"
)

// Layout maps session workspaces onto the static asset root:
//
//	<root>/uploads/<workspace>/<name>
//	<root>/uploads/thumbnails/<workspace>/<name>
//	<root>/generated/<workspace>/news_thumbnail.jpg
type Layout struct {
	root string
}

func NewLayout(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve static root %q: %w", root, err)
	}
	return &Layout{root: abs}, nil
}

func (l *Layout) Root() string {
	return l.root
}

// NewWorkspace returns a fresh workspace identifier.
func NewWorkspace() string {
	return uuid.NewString()
}

// ValidWorkspace guards against identifiers that did not come from NewWorkspace.
func ValidWorkspace(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (l *Layout) OriginalPath(workspace, name string) string {
	return filepath.Join(l.root, uploadsDir, workspace, name)
}

func (l *Layout) ThumbnailPath(workspace, name string) string {
	return filepath.Join(l.root, uploadsDir, thumbnailsDir, workspace, name)
}

func (l *Layout) CompositePath(workspace string) string {
	return filepath.Join(l.root, generatedDir, workspace, compositeName)
}

// Prepare creates the directories a workspace writes into.
func (l *Layout) Prepare(workspace string) error {
	if !ValidWorkspace(workspace) {
		return fmt.Errorf("invalid workspace %q", workspace)
	}
	for _, dir := range l.dirs(workspace) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// URLFor turns a file below the root into its public URL.
func (l *Layout) URLFor(file string) (string, error) {
	rel, err := filepath.Rel(l.root, file)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside of the static root", file)
	}
	return StaticURLPrefix + "/" + filepath.ToSlash(rel), nil
}

// PathFor resolves a public URL produced by URLFor back to a file path.
// Query strings are ignored and anything escaping the root is rejected.
func (l *Layout) PathFor(url string) (string, error) {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	if !strings.HasPrefix(url, StaticURLPrefix+"/") {
		return "", fmt.Errorf("%s is not a static URL", url)
	}
	rel := path.Clean(strings.TrimPrefix(url, StaticURLPrefix+"/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside of the static root", url)
	}
	return filepath.Join(l.root, filepath.FromSlash(rel)), nil
}

// ObjectKey names a file below the root for the object storage mirror.
func (l *Layout) ObjectKey(file string) string {
	rel, err := filepath.Rel(l.root, file)
	if err != nil {
		return filepath.Base(file)
	}
	return filepath.ToSlash(rel)
}

// Remove deletes every artifact of a workspace.
func (l *Layout) Remove(workspace string) error {
	if !ValidWorkspace(workspace) {
		return fmt.Errorf("invalid workspace %q", workspace)
	}
	for _, dir := range l.dirs(workspace) {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	return nil
}

// Reset empties a workspace and recreates its directories.
func (l *Layout) Reset(workspace string) error {
	if err := l.Remove(workspace); err != nil {
		return err
	}
	return l.Prepare(workspace)
}

func (l *Layout) dirs(workspace string) []string {
	return []string{
		filepath.Join(l.root, uploadsDir, workspace),
		filepath.Join(l.root, uploadsDir, thumbnailsDir, workspace),
		filepath.Join(l.root, generatedDir, workspace),
	}
}
