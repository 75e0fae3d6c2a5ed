// Package scriptsassets embeds the per-backend group script templates.
//
// Layout: <backend>/group/<file>. Files ending in ".tmpl" are rendered by
// the templater; all other files are copied verbatim into every group
// directory.
package scriptsassets

import "embed"

// FS holds the built-in backend templates.
//
//go:embed local pbs slurm
var FS embed.FS
