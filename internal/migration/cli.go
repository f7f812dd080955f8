package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI prints the outcome of migrator operations for the agentrelay binary.
type CLI struct {
	migrator Migrator
	out      io.Writer
}

// NewCLI creates a CLI that writes to stdout.
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, out: os.Stdout}
}

// SetOutput redirects CLI output.
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// step announces op, runs it and reports the resulting schema version.
func (c *CLI) step(ctx context.Context, announce, failure string, op func(context.Context) error) error {
	fmt.Fprintln(c.out, announce)
	if err := op(ctx); err != nil {
		return fmt.Errorf("%s: %w", failure, err)
	}
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	c.printVersion(version, dirty)
	return nil
}

func (c *CLI) printVersion(version uint, dirty bool) {
	if version == 0 {
		fmt.Fprintln(c.out, "Session schema: no migrations applied.")
		return
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(c.out, "Session schema version: %d%s\n", version, suffix)
}

// RunUp applies every pending migration.
func (c *CLI) RunUp(ctx context.Context) error {
	return c.step(ctx, "Applying session store migrations...", "migration failed", c.migrator.Up)
}

// RunDown rolls back the most recent migration.
func (c *CLI) RunDown(ctx context.Context) error {
	return c.step(ctx, "Rolling back the last session store migration...", "rollback failed", c.migrator.Down)
}

// RunDownAll rolls back every migration, dropping the session table.
func (c *CLI) RunDownAll(ctx context.Context) error {
	return c.step(ctx, "Rolling back all session store migrations...", "rollback failed", c.migrator.DownAll)
}

// RunGoto migrates up or down to version.
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.step(ctx, fmt.Sprintf("Migrating session store to version %d...", version), "migration failed",
		func(ctx context.Context) error { return c.migrator.Goto(ctx, version) })
}

// RunForce records version without running any migration.
func (c *CLI) RunForce(ctx context.Context, version int) error {
	return c.step(ctx, fmt.Sprintf("Forcing session store version to %d...", version), "force failed",
		func(ctx context.Context) error { return c.migrator.Force(ctx, version) })
}

// RunVersion prints the current schema version.
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	c.printVersion(version, dirty)
	return nil
}

// RunStatus prints one row per known migration and a summary line.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations embedded for this database.")
		return nil
	}

	applied := 0
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tMIGRATION\tSTATE")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n%d of %d applied, %d pending\n", applied, len(statuses), len(statuses)-applied)
	return nil
}
