package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/estimate/go/internal/dbconfig"
	"github.com/mcdev12/estimate/go/internal/docstore/pgstore"
)

func main() {
	drop := flag.Bool("drop", false, "drop the documents table before creating it")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *drop {
		if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS documents`); err != nil {
			fmt.Fprintf(os.Stderr, "drop documents: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("dropped table documents")
	}

	if _, err := pool.Exec(ctx, pgstore.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	var count int64
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&count); err != nil {
		fmt.Fprintf(os.Stderr, "count documents: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("schema applied to %s (%d documents)\n", cfg.Redacted(), count)
}
