// Package migrations embeds the SQL schema history of the service
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
