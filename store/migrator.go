package store

import (
	"embed"
	"fmt"

	"github.com/pkg/errors"
)

// Fresh installations apply the full LATEST.sql for their driver instead
// of replaying incremental migrations.
//
// Migration Files:
// - Location: store/migration/{driver}/LATEST.sql

//go:embed migration
var migrationFS embed.FS

// LatestSchemaFileName is the name of the latest schema file.
const LatestSchemaFileName = "LATEST.sql"

// LatestSchema returns the full schema for the given driver.
func LatestSchema(driver string) (string, error) {
	path := fmt.Sprintf("migration/%s/%s", driver, LatestSchemaFileName)
	buf, err := migrationFS.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read latest schema for driver %q", driver)
	}
	return string(buf), nil
}
