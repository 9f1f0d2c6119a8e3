// Package server holds the embedded web assets
package server

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// GetStaticSubFS returns the static files as a sub-filesystem for http.FileServer
func GetStaticSubFS() (fs.FS, error) {
	return fs.Sub(staticFS, "static")
}

// LoadTemplates parses all page templates. Pages are addressed by file name.
func LoadTemplates() (*template.Template, error) {
	return template.ParseFS(templatesFS, "templates/*.tmpl")
}
