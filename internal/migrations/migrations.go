// Package migrations embeds the goose SQL migrations for each supported
// database dialect.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite3/*.sql
var files embed.FS

// For returns the migration tree for a database driver name.
func For(driver string) (fs.FS, error) {
	if driver == "sqlite3" {
		return fs.Sub(files, "sqlite3")
	}
	return fs.Sub(files, "postgres")
}
