// warden-keygen creates an operator API key in Postgres and prints the
// plaintext key once. Run it during setup; only the bcrypt hash is stored.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver

	"github.com/shinobi-ops/warden/internal/store"
)

func main() {
	name := flag.String("name", "", "operator name for the new key")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: warden-keygen -name <operator-name>")
		os.Exit(1)
	}
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "POSTGRES_DSN is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open postgres: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ping postgres: %v\n", err)
		os.Exit(1)
	}

	key, fullKey, err := store.NewStore(db).CreateOperatorKey(ctx, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create operator key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("operator: %s\n", key.Name)
	fmt.Printf("key id:   %s\n", key.ID)
	fmt.Printf("prefix:   %s\n", key.KeyPrefix)
	fmt.Printf("api key:  %s\n", fullKey)
	fmt.Println("\nStore the api key now; it cannot be retrieved again.")
}
