//go:build !mysql

package database

import "fmt"

// newMySQLDB reports that this gateway binary was built without the MySQL
// driver. factory_mysql.go provides the real constructor behind the
// 'mysql' build tag; SQLite is the tag-free default.
func newMySQLDB(_ FullConfig) (*DB, error) {
	return nil, fmt.Errorf("gateway built without MySQL support; rebuild with -tags mysql or use DB_DRIVER=sqlite")
}
