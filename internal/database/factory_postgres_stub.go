//go:build !postgres

package database

import "fmt"

// newPostgresDB reports that this gateway binary was built without the
// PostgreSQL driver. factory_postgres.go provides the real constructor
// behind the 'postgres' build tag; SQLite is the tag-free default.
func newPostgresDB(_ FullConfig) (*DB, error) {
	return nil, fmt.Errorf("gateway built without PostgreSQL support; rebuild with -tags postgres or use DB_DRIVER=sqlite")
}
