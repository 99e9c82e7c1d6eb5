// Package main provides threadctl, the admin CLI for inspecting and pruning
// threads directly against the database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/threadline/internal/config"
	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/pkg/models"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfigPath), "Path to config file")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}

	store, err := db.NewStore(db.Config{
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		LogLevel: cfg.Database.GormLogLevel(),
	})
	if err != nil {
		fatal("open database: %v", err)
	}
	defer store.Close()

	threads := db.NewThreadStore(store)
	ctx := context.Background()

	switch flag.Arg(0) {
	case "list":
		err = listThreads(ctx, threads, flag.Arg(1))
	case "show":
		err = showThread(ctx, threads, flag.Arg(1))
	case "delete":
		err = deleteThread(ctx, threads, flag.Arg(1))
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal("%v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: threadctl [-config path] <command>

commands:
  list [status]   list threads, optionally filtered by status
  show <id>       print one thread with its linked articles
  delete <id>     delete a thread, its linkages and orphaned articles`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "threadctl: "+format+"\n", args...)
	os.Exit(1)
}

func listThreads(ctx context.Context, threads *db.ThreadStore, rawStatus string) error {
	params := db.ListParams{PerPage: 100}
	if rawStatus != "" {
		status, err := models.ParseStatus(rawStatus)
		if err != nil {
			return err
		}
		params.Status = status
	}

	list, total, err := threads.List(ctx, params)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tUPDATED\tTITLE")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			t.ID, t.Status, t.UpdatedAt.Format(time.RFC3339), t.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d of %d threads\n", len(list), total)
	return nil
}

func showThread(ctx context.Context, threads *db.ThreadStore, id string) error {
	if id == "" {
		return fmt.Errorf("show requires a thread id")
	}

	thread, err := threads.Get(ctx, id)
	if err != nil {
		return err
	}
	if thread == nil {
		return fmt.Errorf("thread %s not found", id)
	}

	fmt.Printf("ID:      %s\nStatus:  %s\nTitle:   %s\nSummary: %s\nCreated: %s\nUpdated: %s\n",
		thread.ID, thread.Status, thread.Title, thread.Summary,
		thread.CreatedAt.Format(time.RFC3339), thread.UpdatedAt.Format(time.RFC3339))
	if thread.Blocked {
		fmt.Printf("Blocked: %s\n", thread.BlockedReason)
	}

	articles, err := threads.ListArticles(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d linked articles:\n", len(articles))
	for _, a := range articles {
		fmt.Printf("  %s  score=%d cosine=%.3f  %s\n",
			a.AttachedAt.Format(time.RFC3339), a.Score, a.Cosine, a.Article.URL)
	}
	return nil
}

func deleteThread(ctx context.Context, threads *db.ThreadStore, id string) error {
	if id == "" {
		return fmt.Errorf("delete requires a thread id")
	}

	thread, err := threads.Get(ctx, id)
	if err != nil {
		return err
	}
	if thread == nil {
		return fmt.Errorf("thread %s not found", id)
	}

	if err := threads.DeleteCascade(ctx, id); err != nil {
		return err
	}
	fmt.Printf("deleted thread %s\n", id)
	return nil
}
