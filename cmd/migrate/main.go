package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: migrate [flags] <command>

commands:
  up               apply all pending migrations
  down             roll back the latest migration
  status           list migrations and when they were applied
  to <version>     migrate up or down to version (YYYYMMDDHHMMSS)
  create <name>    write a new SQL file into -dir
  validate         check the files in -dir`)
	flag.PrintDefaults()
}

func main() {
	dir := flag.String("dir", migrate.SourceDir, "migrations source directory (create, validate)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	// Offline commands never touch config or the database.
	switch cmd {
	case "create":
		if len(args) != 1 {
			exitf("create needs a migration name")
		}
		path, err := migrate.NewFile(*dir, args[0], time.Now())
		if err != nil {
			exitf("create: %v", err)
		}
		fmt.Println("created", path)
		return
	case "validate":
		if err := migrate.Validate(os.DirFS(*dir)); err != nil {
			exitf("validation failed:\n%v", err)
		}
		fmt.Println("migrations valid")
		return
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		exitf("load config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	if name := dbClient.DB().Dialector.Name(); name != "postgres" {
		exitf("goose migrations target postgres, got %s; use STOREFRONT_AUTO_MIGRATE for mysql and sqlite", name)
	}
	sqlDB, err := dbClient.SQL()
	if err != nil {
		exitf("sql handle: %v", err)
	}
	migrator, err := migrate.New(sqlDB, nil)
	if err != nil {
		exitf("%v", err)
	}

	switch cmd {
	case "up":
		results, err := migrator.Up(ctx)
		report(results...)
		if err != nil {
			exitf("%v", err)
		}
	case "down":
		result, err := migrator.Down(ctx)
		if result != nil {
			report(result)
		}
		if err != nil {
			exitf("%v", err)
		}
	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			exitf("%v", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
		for _, s := range statuses {
			applied := "-"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
		}
		w.Flush()
	case "to":
		if len(args) != 1 {
			exitf("to needs a target version")
		}
		target, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			exitf("invalid version %q: %v", args[0], err)
		}
		results, err := migrator.To(ctx, target)
		report(results...)
		if err != nil {
			exitf("%v", err)
		}
	default:
		usage()
		os.Exit(2)
	}
	logg.Info(ctx, "migrate finished")
}

func report(results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Printf("%-6s %d %s (%s)\n", r.Direction, r.Source.Version, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
