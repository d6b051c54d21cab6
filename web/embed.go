package web

import "embed"

// Templates embeds the print document templates.
//
//go:embed templates/print/*.html
var Templates embed.FS
