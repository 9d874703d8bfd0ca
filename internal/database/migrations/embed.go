// Package migrations embeds the SQL schema owned by the call core.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
