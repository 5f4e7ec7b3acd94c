package domain

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// DefaultFilename is used when no valid filename can be determined
const DefaultFilename = "download"

// SanitizeFilename reduces a suggested filename to a plain base name
// so it cannot escape the download directory.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	clean := filepath.Base(strings.TrimSpace(name))
	if clean == "." || clean == ".." || clean == "/" || clean == "" {
		return DefaultFilename
	}
	return clean
}

// FilenameFromURL returns the last path segment of rawURL, or DefaultFilename
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultFilename
	}
	return SanitizeFilename(path.Base(u.Path))
}
