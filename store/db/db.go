package db

import (
	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/internal/profile"
	"github.com/chanticle/chanticle/store"
	"github.com/chanticle/chanticle/store/db/postgres"
	"github.com/chanticle/chanticle/store/db/sqlite"
)

// PostgreSQL is the production database with full vector search.
// SQLite is for development and tests only; semantic retrieval is
// unavailable there.

// NewDBDriver creates a new db driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
