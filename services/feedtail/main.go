package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nostrfeed/feedcore/lib/client"
	"github.com/nostrfeed/feedcore/lib/config"
	"github.com/nostrfeed/feedcore/lib/logging"
	"github.com/nostrfeed/feedcore/lib/types"
)

func main() {
	pubkey := flag.String("pubkey", "", "Author public key (hex)")
	feedKind := flag.String("feed", "notes", "Feed kind: notes, replies, media, articles")
	pages := flag.Int("pages", 2, "Number of pages to load")
	live := flag.Bool("live", false, "Keep the subscription open and print new items")
	flag.Parse()

	if *pubkey == "" {
		fmt.Fprintln(os.Stderr, "feedtail: -pubkey is required")
		os.Exit(1)
	}

	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "feedtail: config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.InitLogger(); err != nil {
		fmt.Fprintf(os.Stderr, "feedtail: logging: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.GetConfig()
	if err != nil {
		logging.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	c, err := client.Dial(ctx, cfg)
	if err != nil {
		logging.Fatalf("Failed to connect to %s: %v", cfg.Relay.URL, err)
	}
	defer c.Close()

	key := types.FeedKey{Pubkey: *pubkey, Kind: types.FeedKind(*feedKind)}

	for i := 0; i < *pages; i++ {
		pageCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		page, err := c.GetPage(pageCtx, key)
		cancel()
		if err != nil {
			logging.Fatalf("Failed to load page %d: %v", i+1, err)
		}
		if page.Exhausted {
			fmt.Println("-- no more pages --")
			break
		}
		for _, item := range page.Items {
			printItem(&item)
		}
	}

	if !*live {
		return
	}

	cancelLive, err := c.SubscribeLive(ctx, key, func(item types.HydratedItem) {
		fmt.Println("-- new --")
		printItem(&item)
	})
	if err != nil {
		logging.Fatalf("Failed to subscribe live: %v", err)
	}
	defer cancelLive()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logging.Info("Shutting down")
}

func printItem(item *types.HydratedItem) {
	content := strings.ReplaceAll(item.Event.Content, "\n", " ")
	if len(content) > 120 {
		content = content[:120] + "..."
	}

	name := item.Author.DisplayName
	if name == "" {
		name = item.Author.Name
	}

	fmt.Printf("[%s] %s: %s (%d likes, %d replies, %d sats)\n",
		item.Event.CreatedAt.Time().Format("2006-01-02 15:04"),
		name, content, item.Stats.Likes, item.Stats.Replies, item.ZappedSats())
}
