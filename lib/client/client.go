// Package client exposes the consumer-facing feed API: paginated feed loads,
// live subscriptions and feed lifecycle, with no event-kind or wire knowledge
// required from callers.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrfeed/feedcore/lib/aggregate"
	"github.com/nostrfeed/feedcore/lib/config"
	"github.com/nostrfeed/feedcore/lib/feeds"
	"github.com/nostrfeed/feedcore/lib/logging"
	"github.com/nostrfeed/feedcore/lib/query"
	"github.com/nostrfeed/feedcore/lib/subscriptions"
	"github.com/nostrfeed/feedcore/lib/transports/websocket"
	"github.com/nostrfeed/feedcore/lib/types"
)

// Transport is the connection the client drives. Satisfied by
// websocket.Client; tests substitute synthetic implementations.
type Transport interface {
	subscriptions.Transport
	Close() error
}

// CancelFunc tears down a live subscription.
type CancelFunc func()

// Client wires transport, correlator, query builder and feed store into the
// API the presentation layer consumes.
type Client struct {
	transport Transport
	router    *subscriptions.Router
	builder   *query.Builder
	store     *feeds.Store

	pageSize     int
	resultBuffer int

	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize sets the page size for feed loads.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithResultBuffer sets each collector's result channel capacity.
func WithResultBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.resultBuffer = n
		}
	}
}

// New creates a client over an already-connected transport and starts the
// dispatch loop.
func New(t Transport, opts ...Option) *Client {
	c := &Client{
		transport:    t,
		router:       subscriptions.NewRouter(t),
		builder:      query.NewBuilder(),
		pageSize:     20,
		resultBuffer: 16,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store = feeds.NewStore(c.fetchPage, feeds.WithPageSize(c.pageSize))

	go c.router.Run()
	return c
}

// Dial connects to the relay named by cfg and returns a ready client.
func Dial(ctx context.Context, cfg *config.Config) (*Client, error) {
	transport := websocket.NewClient(cfg.Relay.URL,
		websocket.WithPingInterval(time.Duration(cfg.Relay.PingInterval)*time.Second),
		websocket.WithFrameBuffer(cfg.Relay.FrameBuffer))
	if err := transport.Connect(ctx); err != nil {
		return nil, err
	}

	return New(transport,
		WithPageSize(cfg.Feeds.PageSize),
		WithResultBuffer(cfg.Feeds.ResultBuffer)), nil
}

// GetPage loads and merges the next older page for the feed, returning the
// deduplicated new items. The caller's ctx bounds the wait; the core imposes
// no timeout of its own.
func (c *Client) GetPage(ctx context.Context, key types.FeedKey) (types.Page, error) {
	return c.store.LoadNextPage(ctx, key)
}

// GetPageN is GetPage with a per-call page size overriding the configured
// default. A non-positive size falls back to the default.
func (c *Client) GetPageN(ctx context.Context, key types.FeedKey, pageSize int) (types.Page, error) {
	return c.store.LoadNextPageN(ctx, key, pageSize)
}

// SubscribeLive opens a persistent subscription for the feed. Each new item
// not already present in the feed is prepended and passed to onItem. The
// returned CancelFunc must be called when the view closes.
func (c *Client) SubscribeLive(ctx context.Context, key types.FeedKey, onItem func(types.HydratedItem)) (CancelFunc, error) {
	id, filter := c.builder.LiveQuery(key)

	collector := aggregate.NewCollector(true,
		aggregate.WithKeep(types.KeepFor(key.Kind)),
		aggregate.WithResultBuffer(c.resultBuffer))

	c.store.EnsureFeed(key)

	if _, err := c.router.Register(ctx, id, nostr.Filters{filter}, collector.Callbacks(), true); err != nil {
		collector.Close()
		return nil, fmt.Errorf("client: subscribe live: %w", err)
	}

	go func() {
		for res := range collector.Results() {
			switch {
			case res.Err != nil:
				logging.Warnf("Live feed %s failed: %v", key, res.Err)
				return
			case res.Live != nil:
				if c.store.MergeLiveUpdate(key, *res.Live) {
					onItem(*res.Live)
				}
			case res.Page != nil:
				// Initial flush of a live query; usually empty because the
				// filter starts at now.
				for _, item := range res.Page.Items {
					if c.store.MergeLiveUpdate(key, item) {
						onItem(item)
					}
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.router.Unregister(id)
			collector.Close()
		})
	}
	return cancel, nil
}

// ClearFeed drops all accumulated pages and resets the cursor for the feed.
func (c *Client) ClearFeed(key types.FeedKey) {
	c.store.Clear(key)
}

// Feed returns a snapshot of the feed's accumulated items in display order.
func (c *Client) Feed(key types.FeedKey) []types.HydratedItem {
	return c.store.Snapshot(key)
}

// Exhausted reports whether the feed has no more pages.
func (c *Client) Exhausted(key types.FeedKey) bool {
	return c.store.Exhausted(key)
}

// Close tears the client down: the transport is closed, which unwinds the
// dispatch loop and fails any outstanding loads.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.transport.Close()
		c.store.Dispose()
	})
	return err
}

// fetchPage is the PageFetcher injected into the feed store: one subscription
// per page request, resolved when the collector flushes on EOSE.
func (c *Client) fetchPage(ctx context.Context, key types.FeedKey, cursor *nostr.Timestamp, pageSize int) (types.Page, error) {
	id, filter := c.builder.PageQuery(key, cursor, pageSize)

	collector := aggregate.NewCollector(false,
		aggregate.WithKeep(types.KeepFor(key.Kind)),
		aggregate.WithResultBuffer(c.resultBuffer))
	defer collector.Close()

	if _, err := c.router.Register(ctx, id, nostr.Filters{filter}, collector.Callbacks(), false); err != nil {
		return types.Page{}, fmt.Errorf("client: load page: %w", err)
	}
	defer c.router.Unregister(id)

	select {
	case res := <-collector.Results():
		if res.Err != nil {
			return types.Page{}, fmt.Errorf("client: load page: %w", res.Err)
		}
		if res.Page == nil {
			return types.Page{}, fmt.Errorf("client: load page: unexpected result")
		}
		return *res.Page, nil
	case <-ctx.Done():
		return types.Page{}, ctx.Err()
	}
}
