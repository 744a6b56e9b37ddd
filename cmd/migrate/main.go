package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/flashorder/internal/storage/mysql"
	"github.com/vladislavdragonenkov/flashorder/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second

	envPostgresDSN = "FLASHORDER_POSTGRES_DSN"
	envMySQLDSN    = "FLASHORDER_MYSQL_DSN"
)

type options struct {
	driver    string
	direction string
	steps     int
	dsn       string
}

func parseOptions(args []string, lookup func(string) (string, bool), output io.Writer) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(output)

	var opts options
	fs.StringVar(&opts.driver, "driver", "postgres", "storage driver: postgres|mysql")
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "database DSN (fallback: "+envPostgresDSN+" or "+envMySQLDSN+")")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.driver = strings.ToLower(strings.TrimSpace(opts.driver))
	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)

	envKey := envPostgresDSN
	switch opts.driver {
	case "postgres":
	case "mysql":
		envKey = envMySQLDSN
	default:
		return options{}, fmt.Errorf("unsupported driver: %s (use postgres|mysql)", opts.driver)
	}
	if opts.dsn == "" {
		if v, ok := lookup(envKey); ok {
			opts.dsn = strings.TrimSpace(v)
		}
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s (or -dsn) is required", envKey)
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.driver == "mysql" {
		return runMySQL(ctx, opts, out)
	}
	return runPostgres(ctx, opts, out)
}

func runPostgres(ctx context.Context, opts options, out io.Writer) error {
	switch opts.direction {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}

	store, err := postgres.Open(ctx, opts.dsn, postgres.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d known=%d\n", opts.direction, state.Version, state.Applied, state.Known)
	return nil
}

// runMySQL поддерживает только up: схема MySQL ведётся через gorm AutoMigrate.
func runMySQL(ctx context.Context, opts options, out io.Writer) error {
	if opts.direction != "up" {
		return fmt.Errorf("mysql supports only direction=up (gorm auto migrate), got %s", opts.direction)
	}

	store, err := mysql.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open mysql store: %w", err)
	}
	defer store.Close()

	if err := store.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("mysql auto migrate failed: %w", err)
	}
	_, _ = fmt.Fprintln(out, "migrate up ok: mysql schema is up to date")
	return nil
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.LookupEnv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
