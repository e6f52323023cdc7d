package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"PriceWatch/internal/app"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	task := flag.String("task", "fetch", "Task to run: fetch, track, refresh or balance")
	article := flag.String("article", "", "Marketplace article (fetch, track)")
	provider := flag.String("provider", "", "Provider for fetch: direct, direct_tier2 or remote (default from config)")
	noCache := flag.Bool("no-cache", false, "Bypass the in-memory cache")
	configPath := flag.String("config", "config.yml", "Path to config.yml")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application := app.New(*configPath)
	defer application.Close()

	log.Printf("Running task: %s", *task)

	var err error
	switch *task {
	case "fetch":
		if *article == "" {
			log.Fatal("-article is required for fetch")
		}
		err = application.RunFetch(ctx, *article, *provider, *noCache)

	case "track":
		if *article == "" {
			log.Fatal("-article is required for track")
		}
		err = application.RunTrack(ctx, *article)

	case "refresh":
		err = application.RunRefresh(ctx)

	case "balance":
		err = application.RunBalance(ctx)

	default:
		log.Fatalf("Unknown task: %s.", *task)
	}
	if err != nil {
		log.Printf("Task %s failed: %v", *task, err)
		application.Close()
		os.Exit(1)
	}
}
