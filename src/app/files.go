package app

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	imageAvailableFormats = []string{"png", "jpg", "jpeg", "gif"}

	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// AllowedImage reports whether the file name carries one of the accepted image extensions.
func AllowedImage(name string) bool {
	return checkIn(strings.ToLower(name), imageAvailableFormats)
}

// SanitizeFilename reduces an uploaded file name to a safe base name made of
// ASCII letters, digits, dots, dashes and underscores. An empty result means
// nothing usable was left.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._-")
	return name
}

// StoredFilename picks the workspace name for the index-th upload of a batch.
// Names left without a stem after sanitizing become image_<index>.<ext>, and a
// name already in taken gets a numeric prefix until it is free. The result is
// recorded in taken.
func StoredFilename(original string, index int, taken map[string]bool) string {
	name := SanitizeFilename(original)
	if !AllowedImage(name) {
		name = fmt.Sprintf("image_%d%s", index, strings.ToLower(filepath.Ext(original)))
	}
	candidate := name
	for n := index; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%d_%s", n, name)
	}
	taken[candidate] = true
	return candidate
}

func checkIn(key string, filters []string) bool {
	parsed := strings.Split(key, ".")
	if len(parsed) > 1 {
		for _, f := range filters {
			if f == parsed[len(parsed)-1] {
				return true
			}
		}
	}
	return false
}
