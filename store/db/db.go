// Package db provides the database driver factory.
package db

import (
	"github.com/gryagbot/gryag/internal/profile"
	"github.com/gryagbot/gryag/store"
	"github.com/gryagbot/gryag/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the runtime profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	return sqlite.NewDB(profile)
}
