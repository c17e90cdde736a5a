// Package web ships the dashboard's HTML templates and static assets inside
// the binary.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"mime"
)

var (
	//go:embed templates
	templateFiles embed.FS

	//go:embed static
	staticFiles embed.FS
)

// Layouts come first so pages can fill their blocks.
var templatePatterns = []string{
	"templates/layouts/*.html",
	"templates/partials/*.html",
	"templates/pages/*.html",
}

// Asset types some minimal hosts lack in their mime tables. Without them the
// file server falls back to sniffing and CSS is refused under nosniff.
var assetTypes = map[string]string{
	".css": "text/css; charset=utf-8",
	".js":  "text/javascript; charset=utf-8",
	".svg": "image/svg+xml",
}

func init() {
	for ext, typ := range assetTypes {
		if mime.TypeByExtension(ext) != "" {
			continue
		}
		if err := mime.AddExtensionType(ext, typ); err != nil {
			slog.Warn("register asset mime type", slog.String("ext", ext), slog.Any("error", err))
		}
	}
}

// ParseTemplates parses every embedded page, partial and layout with funcs.
func ParseTemplates(funcs template.FuncMap) (*template.Template, error) {
	return template.New("root").Funcs(funcs).ParseFS(templateFiles, templatePatterns...)
}

// StaticFS returns the asset tree rooted so that css/app.css resolves.
func StaticFS() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}
