package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"apicatalog.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("PORTAL_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory with SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Directory with SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PORTAL_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var migrations fs.FS
	if *migrationsPath != "" {
		migrations = os.DirFS(*migrationsPath)
	}
	var opts []migrate.Option
	if *seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seedsPath)))
	}
	mgr := migrate.NewManager(db, migrations, opts...)

	var names []string
	switch flag.Arg(0) {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if name != "" {
			names = []string{name}
		}
	case "seed":
		names, err = mgr.Seed(ctx)
	case "status":
		names, err = mgr.Status(ctx)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
	for _, item := range names {
		fmt.Println(item)
	}
}
