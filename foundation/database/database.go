// Package database provides support for access the database.
package database

import (
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/stdlib"
	"github.com/jmoiron/sqlx"
)

// Config is the required properties to use the database.
type Config struct {
	User       string
	Password   string
	Host       string
	Name       string
	DisableTLS bool
}

// Open knows how to open a database connection based on the configuration.
func Open(cfg Config) (*sqlx.DB, error) {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}
	return sqlx.Connect("pgx", u.String())
}

//bootstrapStatements create the document tables when they do not exist yet
var bootstrapStatements = []string{
	`create table if not exists vehicle (
		vehicle_ref text primary key,
		document jsonb not null
	)`,
	`create table if not exists trip (
		trip_id text primary key,
		document jsonb not null
	)`,
}

// Bootstrap creates the schema objects the application requires. It is safe
// to call on every startup.
func Bootstrap(db *sqlx.DB) error {
	for _, statement := range bootstrapStatements {
		if _, err := db.Exec(statement); err != nil {
			return fmt.Errorf("bootstrapping schema: %w", err)
		}
	}
	return nil
}
