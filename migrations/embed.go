// Package migrations compiles the schema migration files into the
// binary, so a MonoZone deployment never depends on loose .sql files
// sitting next to the executable.
package migrations

import (
	"embed"

	"github.com/twolfekc/monozone-pi/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // embedded files sit at the FS root
}
