package webassets

import "embed"

// FS contains embedded web assets from this directory.

//go:embed result.html
var FS embed.FS
