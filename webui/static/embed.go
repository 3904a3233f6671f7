// Package static holds the dashboard page and its script.
package static

import (
	"embed"
	"io/fs"
)

//go:embed index.html js
var assets embed.FS

// GetFS returns the embedded assets rooted at index.html.
func GetFS() fs.FS {
	return assets
}
