// Command blacklist is a small administrative CLI for the provider
// blacklist (spec.md §3: "mutated only by administrative paths"),
// replacing the teacher's on-chain cmd/deploy, cmd/setup, cmd/upgrade,
// cmd/verify, and cmd/checkbal tools, none of which have an analog here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/openclaw/deploy-orchestrator/internal/config"
	"github.com/openclaw/deploy-orchestrator/internal/repo"
	"github.com/openclaw/deploy-orchestrator/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	db, err := store.Open(cfg.Postgres.URL)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()

	repo := repo.NewProviderBlacklistRepository(db)
	ctx := context.Background()

	switch os.Args[1] {
	case "add":
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		provider := fs.String("provider", "", "provider address")
		reason := fs.String("reason", "", "reason for blacklisting")
		fs.Parse(os.Args[2:]) //nolint:errcheck
		if *provider == "" {
			fmt.Fprintln(os.Stderr, "add: -provider is required")
			os.Exit(1)
		}
		if err := repo.Add(ctx, *provider, *reason); err != nil {
			log.Fatal("add failed", zap.Error(err))
		}
		fmt.Printf("blacklisted %s\n", *provider)

	case "remove":
		fs := flag.NewFlagSet("remove", flag.ExitOnError)
		provider := fs.String("provider", "", "provider address")
		fs.Parse(os.Args[2:]) //nolint:errcheck
		if *provider == "" {
			fmt.Fprintln(os.Stderr, "remove: -provider is required")
			os.Exit(1)
		}
		if err := repo.Remove(ctx, *provider); err != nil {
			log.Fatal("remove failed", zap.Error(err))
		}
		fmt.Printf("removed %s from blacklist\n", *provider)

	case "list":
		entries, err := repo.List(ctx)
		if err != nil {
			log.Fatal("list failed", zap.Error(err))
		}
		if len(entries) == 0 {
			fmt.Println("blacklist is empty")
			return
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%s\n", e.ProviderAddress, e.Reason, e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
		}

	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: blacklist <add|remove|list> [flags]")
	fmt.Fprintln(os.Stderr, "  add -provider <address> -reason <text>")
	fmt.Fprintln(os.Stderr, "  remove -provider <address>")
	fmt.Fprintln(os.Stderr, "  list")
}
