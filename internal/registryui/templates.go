package registryui

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// pages maps a logical page name to the parsed layout+page template pair.
// Each layout-based page file defines "title" and "content" blocks consumed
// by templates/layout.html.tmpl; login.html.tmpl and monitor.html.tmpl are
// self-contained and parsed on their own.
var pages = mustParsePages()

func mustParsePages() map[string]*template.Template {
	out := map[string]*template.Template{
		"login":   template.Must(template.ParseFS(templateFS, "templates/login.html.tmpl")),
		"monitor": template.Must(template.ParseFS(templateFS, "templates/monitor.html.tmpl")),
	}
	for _, name := range []string{"tests", "test_detail", "upload", "run_detail"} {
		out[name] = template.Must(template.ParseFS(templateFS,
			"templates/layout.html.tmpl", "templates/"+name+".html.tmpl"))
	}
	return out
}
