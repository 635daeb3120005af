package frontend

import (
	"embed"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"
)

//go:embed static/*.css
var boardAssets embed.FS

const assetMaxAge = 10 * time.Minute

// AssetsHandler serves the board stylesheets mounted at /static/. The board
// page refreshes itself, so assets carry a cache header; listings are refused.
func AssetsHandler() http.Handler {
	assets, err := fs.Sub(boardAssets, "static")
	if err != nil {
		panic(err)
	}
	files := http.FileServer(http.FS(assets))
	return http.StripPrefix("/static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(assetMaxAge.Seconds())))
		files.ServeHTTP(w, r)
	}))
}
