// Package web embeds the page templates and static assets.
package web

import "embed"

// TemplatesFS holds the page template and its fragments.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS holds css and js.
//
//go:embed static/*
var StaticFS embed.FS
