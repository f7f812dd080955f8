package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/agentrelay/config"
)

// NewMigratorFromConfig creates a migrator for the configured database
func NewMigratorFromConfig(cfg *appconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig creates a migrator from the database section
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, err
	}
	if dbType == DatabaseTypeSQLite {
		return nil, fmt.Errorf("%w: sqlite schemas are created by the session store", ErrUnsupportedDatabase)
	}

	sslMode := dbCfg.SSLMode
	if dbType == DatabaseTypeMySQL {
		sslMode = ""
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, sslMode),
		TableName:    "schema_migrations",
	})
}

// NewMigratorFromURL creates a migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
