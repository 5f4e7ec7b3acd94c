package server

import (
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// BrowseHandler serves a read-only listing of the download directory
type BrowseHandler struct {
	rootDir string
	logger  *zap.Logger
}

// NewBrowseHandler creates a new BrowseHandler
func NewBrowseHandler(rootDir string, logger *zap.Logger) *BrowseHandler {
	return &BrowseHandler{
		rootDir: rootDir,
		logger:  logger,
	}
}

// HandleBrowse lists a directory or serves a downloaded file
func (h *BrowseHandler) HandleBrowse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestPath := strings.TrimPrefix(r.URL.Path, "/files")
	requestPath = strings.Trim(requestPath, "/")

	h.logger.Debug("browse request", zap.String("path", requestPath))

	fullPath, ok := h.resolve(requestPath)
	if !ok {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "Path not found", http.StatusNotFound)
		} else {
			h.logger.Error("failed to stat path", zap.String("path", fullPath), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	if !info.IsDir() {
		h.serveFile(w, fullPath, info)
		return
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		h.logger.Error("failed to read directory", zap.String("path", fullPath), zap.Error(err))
		http.Error(w, "Failed to read directory", http.StatusInternalServerError)
		return
	}

	h.renderDirectoryListing(w, requestPath, buildFileEntries(entries))
}

// HandleLogout returns 401 to clear browser credentials
func (h *BrowseHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", authRealm)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Logged Out</title></head>
<body>
    <h1>Logged Out</h1>
    <p><a href="/files">Log in again</a></p>
</body>
</html>`))
}

// resolve maps a URL path below /files to a path inside the download directory
func (h *BrowseHandler) resolve(requestPath string) (string, bool) {
	root := filepath.Clean(h.rootDir)
	full := filepath.Join(root, filepath.FromSlash(requestPath))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// fileEntry represents a file or directory entry
type fileEntry struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

func buildFileEntries(entries []os.DirEntry) []fileEntry {
	fileEntries := make([]fileEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		fileEntries = append(fileEntries, fileEntry{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   entry.IsDir(),
		})
	}

	// directories first, then alphabetically
	sort.Slice(fileEntries, func(i, j int) bool {
		a, b := fileEntries[i], fileEntries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return fileEntries
}

func browseLink(p string) string {
	if p == "" {
		return "/files/"
	}
	return "/files/" + (&url.URL{Path: filepath.ToSlash(p)}).EscapedPath()
}

func (h *BrowseHandler) renderDirectoryListing(w http.ResponseWriter, requestPath string, entries []fileEntry) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Downloads - /` + html.EscapeString(requestPath) + `</title>
    <style>
        body { font-family: sans-serif; margin: 20px; }
        table { border-collapse: collapse; width: 100%; }
        th, td { text-align: left; padding: 6px 12px; border-bottom: 1px solid #ddd; }
        .size { text-align: right; }
    </style>
</head>
<body>
    <h1>` + buildBreadcrumb(requestPath) + `</h1>
    <p><a href="/files/logout">Logout</a></p>
    <table>
        <tr><th>Name</th><th class="size">Size</th><th>Modified</th></tr>
`)

	if requestPath != "" {
		parent := filepath.Dir(requestPath)
		if parent == "." {
			parent = ""
		}
		b.WriteString(`        <tr><td colspan="3"><a href="` + browseLink(parent) + `">..</a></td></tr>
`)
	}

	for _, entry := range entries {
		name := html.EscapeString(entry.Name)
		size := "-"
		if entry.IsDir {
			name += "/"
		} else {
			size = humanize.Bytes(uint64(entry.Size))
		}
		link := browseLink(filepath.Join(requestPath, entry.Name))
		fmt.Fprintf(&b, "        <tr><td><a href=\"%s\">%s</a></td><td class=\"size\">%s</td><td>%s</td></tr>\n",
			link, name, size, entry.ModTime.Format("2006-01-02 15:04:05"))
	}

	b.WriteString(`    </table>
</body>
</html>`)
	w.Write([]byte(b.String()))
}

func buildBreadcrumb(requestPath string) string {
	breadcrumb := `<a href="/files/">/</a>`
	current := ""
	for _, part := range strings.Split(filepath.ToSlash(requestPath), "/") {
		if part == "" {
			continue
		}
		current = filepath.Join(current, part)
		breadcrumb += ` <a href="` + browseLink(current) + `">` + html.EscapeString(part) + `</a> /`
	}
	return strings.TrimSuffix(breadcrumb, " /")
}

func (h *BrowseHandler) serveFile(w http.ResponseWriter, fullPath string, info os.FileInfo) {
	f, err := os.Open(fullPath)
	if err != nil {
		h.logger.Error("failed to open file", zap.String("path", fullPath), zap.Error(err))
		http.Error(w, "File not available", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	filename := filepath.Base(fullPath)
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filename}))

	if _, err := io.Copy(w, f); err != nil {
		h.logger.Error("failed to stream file", zap.String("path", fullPath), zap.Error(err))
		return
	}

	h.logger.Info("file served via browser",
		zap.String("path", fullPath),
		zap.String("size", humanize.Bytes(uint64(info.Size()))))
}
