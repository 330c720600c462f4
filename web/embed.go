// Package web provides the embedded HTML pages served by the OAuth callback listener.
package web

import "embed"

// TemplatesFS contains the embedded HTML templates.
//
//go:embed all:templates
var TemplatesFS embed.FS
