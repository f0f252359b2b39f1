// store opens the table.Store named in the config - xlsx workbooks, SQLite
// or Postgres.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/goblimey/go-kas-tracker/code/pkg/config"
	"github.com/goblimey/go-kas-tracker/code/pkg/database"
	"github.com/goblimey/go-kas-tracker/code/pkg/sheet"
	"github.com/goblimey/go-kas-tracker/code/pkg/table"
)

// Open opens the configured store.  The returned function closes it.
func Open(conf *config.Config, logger *slog.Logger) (table.Store, func(), error) {
	switch conf.StoreType {
	case "xlsx":
		return sheet.New(conf.Backup, logger), func() {}, nil

	case "sqlite", "postgres":
		dbConfig := database.DBConfig{
			Type:   conf.StoreType,
			Host:   conf.DBHostname,
			Port:   conf.DBPort,
			Name:   conf.DBDatabase,
			User:   conf.DBUser,
			Pass:   conf.DBPassword,
			Logger: logger,
		}

		// An empty name would give a throwaway database.
		if len(dbConfig.Name) == 0 {
			return nil, nil, errors.New(conf.StoreType + " store needs DBDatabase")
		}

		db := database.New(&dbConfig)
		if err := db.Connect(); err != nil {
			return nil, nil, fmt.Errorf("cannot connect to database %s: %w", dbConfig.String(), err)
		}
		return db, func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store type %q", conf.StoreType)
	}
}
