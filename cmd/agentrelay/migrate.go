package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		runMigrateUp(subargs)
	case "down":
		runMigrateDown(subargs)
	case "status":
		runMigrateStatus(subargs)
	case "version":
		runMigrateVersion(subargs)
	case "goto":
		runMigrateGoto(subargs)
	case "force":
		runMigrateForce(subargs)
	case "reset":
		runMigrateReset(subargs)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Session store migration commands

Migrations apply to the "database" session store backend. SQLite schemas
are created automatically when the server starts.

Usage:
  agentrelay migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration (--all to rollback everything)
  status    Show migration status
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  agentrelay migrate up
  agentrelay migrate up --config /etc/agentrelay/config.yaml
  agentrelay migrate down
  agentrelay migrate status
  agentrelay migrate goto 1
  agentrelay migrate force 0
  agentrelay migrate reset`)
}

// migratorFlags are the connection flags shared by all subcommands
type migratorFlags struct {
	configPath *string
	dbType     *string
	dbURL      *string
}

func registerMigratorFlags(fs *flag.FlagSet) migratorFlags {
	return migratorFlags{
		configPath: fs.String("config", "", "Path to config file"),
		dbType:     fs.String("db-type", "", "Database type (postgres, mysql)"),
		dbURL:      fs.String("db-url", "", "Database connection URL"),
	}
}

// build creates the migrator once the flag set has been parsed
func (f migratorFlags) build() (*migration.DefaultMigrator, error) {
	// If db-type and db-url are provided, use them directly
	if *f.dbType != "" && *f.dbURL != "" {
		return migration.NewMigratorFromURL(*f.dbType, *f.dbURL)
	}

	loader := config.NewLoader()
	if *f.configPath != "" {
		loader = loader.WithConfigPath(*f.configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if *f.dbType != "" {
		cfg.Database.Driver = *f.dbType
	}

	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

// createMigrator parses args and creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	flags := registerMigratorFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags.build()
}

// withMigrator runs fn against a freshly created migrator and exits on failure
func withMigrator(name string, args []string, failure string, fn func(context.Context, *migration.CLI) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := fn(context.Background(), migration.NewCLI(migrator)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", failure, err)
		migrator.Close()
		os.Exit(1)
	}
}

// runMigrateUp applies all pending migrations
func runMigrateUp(args []string) {
	withMigrator("migrate up", args, "Migration failed", func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunUp(ctx)
	})
}

// runMigrateDown rolls back the last migration, or all of them with --all
func runMigrateDown(args []string) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	all := fs.Bool("all", false, "Rollback all migrations")
	flags := registerMigratorFlags(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	migrator, err := flags.build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	ctx := context.Background()

	if *all {
		err = cli.RunDownAll(ctx)
	} else {
		err = cli.RunDown(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration rollback failed: %v\n", err)
		migrator.Close()
		os.Exit(1)
	}
}

// runMigrateStatus shows the status of all migrations
func runMigrateStatus(args []string) {
	withMigrator("migrate status", args, "Failed to get status", func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunStatus(ctx)
	})
}

// runMigrateVersion shows the current migration version
func runMigrateVersion(args []string) {
	withMigrator("migrate version", args, "Failed to get version", func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunVersion(ctx)
	})
}

// runMigrateGoto migrates to a specific version
func runMigrateGoto(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: agentrelay migrate goto <version>\n")
		os.Exit(1)
	}

	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	withMigrator("migrate goto", args[1:], "Migration failed", func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunGoto(ctx, uint(version))
	})
}

// runMigrateForce forces the migration version
func runMigrateForce(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: agentrelay migrate force <version>\n")
		os.Exit(1)
	}

	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	withMigrator("migrate force", args[1:], "Force failed", func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunForce(ctx, int(version))
	})
}

// runMigrateReset rolls back all migrations
func runMigrateReset(args []string) {
	withMigrator("migrate reset", args, "Reset failed", func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunDownAll(ctx)
	})
}
