package server

import (
	"path"
	"path/filepath"
)

const indexPage = "index.html"

// resolvePath maps a request path onto the served tree the same way
// afero's http adapter does, so a stat here sees the file the FileServer
// will open.
func resolvePath(root, urlPath string) string {
	if root == "" {
		root = "."
	}
	return filepath.Join(root, filepath.FromSlash(normalizeRequestPath(urlPath)))
}

// normalizeRequestPath returns the cleaned, rooted form of a URL path.
func normalizeRequestPath(rawPath string) string {
	return path.Clean("/" + rawPath)
}
