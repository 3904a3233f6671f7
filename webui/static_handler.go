package webui

import (
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mochi_backend/webui/static"
)

const (
	staticPrefix     = "/static"
	dashboardPage    = "index.html"
	assetCacheMaxAge = time.Hour
)

// dashboardAssets serves the embedded dashboard: its page at "/" and the
// scripts under staticPrefix.
type dashboardAssets struct {
	fsys   fs.FS
	prefix string
	maxAge time.Duration
}

func newDashboardAssets(fsys fs.FS) *dashboardAssets {
	if fsys == nil {
		fsys = static.GetFS()
	}
	return &dashboardAssets{fsys: fsys, prefix: staticPrefix, maxAge: assetCacheMaxAge}
}

// files serves individual assets. Directory listings are not exposed.
func (d *dashboardAssets) files() http.Handler {
	files := http.StripPrefix(d.prefix, http.FileServerFS(d.fsys))
	cacheControl := "public, max-age=" + strconv.Itoa(int(d.maxAge.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", cacheControl)
		files.ServeHTTP(w, r)
	})
}

// page serves the dashboard uncached so a new build shows up on reload.
func (d *dashboardAssets) page() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(d.fsys, dashboardPage)
		if err != nil {
			http.Error(w, "Dashboard not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}
