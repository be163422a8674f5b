package adw

import "embed"

// templateFiles embeds the built-in workflow template descriptions.
//
//go:embed templates/*.md
var templateFiles embed.FS
