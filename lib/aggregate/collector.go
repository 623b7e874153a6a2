// Package aggregate consumes the untyped event stream of one subscription
// and assembles it into hydrated, ordered, deduplicated pages.
package aggregate

import (
	"sort"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrfeed/feedcore/lib/logging"
	"github.com/nostrfeed/feedcore/lib/metrics"
	"github.com/nostrfeed/feedcore/lib/subscriptions"
	"github.com/nostrfeed/feedcore/lib/types"
)

// State of a collector. One-shot collectors go Collecting -> Flushed; live
// ones go Collecting -> Streaming and emit incrementally from then on.
type State int

const (
	Collecting State = iota
	Flushed
	Streaming
)

// Result is the tagged output of a collector: exactly one field is set.
type Result struct {
	Page *types.Page
	Live *types.HydratedItem
	Err  error
}

const defaultResultBuffer = 16

// Collector buckets the raw events of a single subscription by kind and, on
// end of stream, joins them into a Page. Scratch state is subscription-scoped;
// nothing is shared between collectors.
type Collector struct {
	live   bool
	keep   func(*types.HydratedItem) bool
	buffer int

	mu       sync.Mutex
	state    State
	contents map[string]*nostr.Event
	profiles map[string]types.Profile
	stats    map[string]types.Stats
	zaps     map[string][]types.ZapReceipt
	zapSeen  map[string]struct{}
	emitted  map[string]struct{}

	results chan Result
	closed  bool
}

// Option configures a Collector.
type Option func(*Collector)

// WithKeep installs a predicate applied to hydrated items; items it rejects
// never make it into a page or a live emit. Used to narrow kind 1 streams
// into notes/replies/media feed variants.
func WithKeep(keep func(*types.HydratedItem) bool) Option {
	return func(c *Collector) { c.keep = keep }
}

// WithResultBuffer overrides the result channel capacity.
func WithResultBuffer(n int) Option {
	return func(c *Collector) { c.buffer = n }
}

// NewCollector creates a collector. live selects the Streaming terminal state
// instead of Flushed.
func NewCollector(live bool, opts ...Option) *Collector {
	c := &Collector{
		live:     live,
		buffer:   defaultResultBuffer,
		contents: make(map[string]*nostr.Event),
		profiles: make(map[string]types.Profile),
		stats:    make(map[string]types.Stats),
		zaps:     make(map[string][]types.ZapReceipt),
		zapSeen:  make(map[string]struct{}),
		emitted:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.results = make(chan Result, c.buffer)
	return c
}

// Results returns the channel hydrated output arrives on. Closed by Close.
func (c *Collector) Results() <-chan Result {
	return c.results
}

// Callbacks adapts the collector to a router registration.
func (c *Collector) Callbacks() subscriptions.Callbacks {
	return subscriptions.Callbacks{
		OnEvent: c.OnEvent,
		OnEOSE:  c.OnEOSE,
		OnError: c.OnError,
	}
}

// OnEvent buckets one raw event into the scratch maps. Malformed payloads are
// logged and dropped; one bad event never blocks hydration of the rest.
func (c *Collector) OnEvent(ev *nostr.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case types.KindTextNote, types.KindLongForm:
		metrics.EventsReceived.WithLabelValues("content").Inc()
		if _, dup := c.contents[ev.ID]; dup {
			return
		}
		c.contents[ev.ID] = ev
		if c.state == Streaming {
			c.emitLiveLocked(ev)
		}

	case types.KindProfile:
		metrics.EventsReceived.WithLabelValues("profile").Inc()
		profile, err := parseProfile(ev)
		if err != nil {
			c.dropMalformed(ev, err)
			return
		}
		c.profiles[profile.Pubkey] = profile

	case types.KindEventStats:
		metrics.EventsReceived.WithLabelValues("stats").Inc()
		stats, err := parseStats(ev)
		if err != nil {
			c.dropMalformed(ev, err)
			return
		}
		// Snapshots replace each other wholesale: last write wins.
		c.stats[stats.EventID] = stats

	case types.KindZapReceipt:
		metrics.EventsReceived.WithLabelValues("zap").Inc()
		receipt, err := parseZapReceipt(ev)
		if err != nil {
			c.dropMalformed(ev, err)
			return
		}
		if _, dup := c.zapSeen[receipt.ID]; dup {
			return
		}
		c.zapSeen[receipt.ID] = struct{}{}
		c.zaps[receipt.Subject] = append(c.zaps[receipt.Subject], receipt)

	default:
		metrics.EventsReceived.WithLabelValues("other").Inc()
		logging.Debugf("Ignoring event of kind %d on feed subscription", ev.Kind)
	}
}

// OnEOSE assembles the buffered events into a Page and emits it. One-shot
// collectors are done afterwards; live collectors switch to Streaming and
// keep emitting per content event.
func (c *Collector) OnEOSE() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Collecting {
		return
	}

	page := c.assembleLocked()
	if c.live {
		c.state = Streaming
	} else {
		c.state = Flushed
	}

	metrics.PagesEmitted.Inc()
	c.sendLocked(Result{Page: &page})
}

// OnError forwards a subscription-level failure to the consumer.
func (c *Collector) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(Result{Err: err})
}

// Close releases the result channel. Call once the subscription is cancelled;
// pending results are still readable until drained.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.results)
	}
}

// assembleLocked joins every buffered content event with its companions,
// ordered newest first with ties broken by id for determinism.
func (c *Collector) assembleLocked() types.Page {
	items := make([]types.HydratedItem, 0, len(c.contents))
	for _, ev := range c.contents {
		item := c.hydrateLocked(ev)
		if c.keep != nil && !c.keep(&item) {
			continue
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Event.CreatedAt != items[j].Event.CreatedAt {
			return items[i].Event.CreatedAt > items[j].Event.CreatedAt
		}
		return items[i].Event.ID < items[j].Event.ID
	})

	page := types.Page{Items: items}

	// The cursor tracks the oldest raw content event, not the oldest kept
	// item: a page whose items were all narrowed away must still advance
	// pagination instead of reporting a premature end.
	if len(c.contents) == 0 {
		page.Exhausted = true
	} else {
		oldest := nostr.Timestamp(0)
		for _, ev := range c.contents {
			if oldest == 0 || ev.CreatedAt < oldest {
				oldest = ev.CreatedAt
			}
		}
		page.Cursor = oldest
	}
	for _, item := range items {
		c.emitted[item.Event.ID] = struct{}{}
	}
	return page
}

// hydrateLocked joins one content event with whatever companions arrived.
// Missing companions degrade to placeholders; hydration never fails.
func (c *Collector) hydrateLocked(ev *nostr.Event) types.HydratedItem {
	item := types.HydratedItem{Event: *ev}

	if profile, ok := c.profiles[ev.PubKey]; ok {
		item.Author = profile
	} else {
		item.Author = types.PlaceholderProfile(ev.PubKey)
	}

	if stats, ok := c.stats[ev.ID]; ok {
		item.Stats = stats
	} else {
		item.Stats = types.Stats{EventID: ev.ID}
	}

	item.Zaps = c.zaps[ev.ID]
	return item
}

func (c *Collector) emitLiveLocked(ev *nostr.Event) {
	if _, dup := c.emitted[ev.ID]; dup {
		return
	}
	item := c.hydrateLocked(ev)
	if c.keep != nil && !c.keep(&item) {
		return
	}
	c.emitted[ev.ID] = struct{}{}
	metrics.LiveItemsEmitted.Inc()
	c.sendLocked(Result{Live: &item})
}

func (c *Collector) sendLocked(res Result) {
	if c.closed {
		return
	}
	select {
	case c.results <- res:
	default:
		// Consumer is not draining. Dropping beats blocking the dispatch
		// goroutine that every other subscription shares.
		logging.Warnf("Collector result buffer full, dropping result")
	}
}

func (c *Collector) dropMalformed(ev *nostr.Event, err error) {
	metrics.EventsMalformed.Inc()
	logging.Warnf("Dropping malformed event %s (kind %d): %v", ev.ID, ev.Kind, err)
}
