// Package feeds holds accumulated pages per logical feed and drives
// cursor-based pagination over an injected page fetcher.
package feeds

import (
	"context"
	"errors"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nostrfeed/feedcore/lib/logging"
	"github.com/nostrfeed/feedcore/lib/types"
)

var (
	// ErrLoadInFlight is returned when LoadNextPage is called for a key that
	// already has an outstanding page request. At most one request per feed
	// is allowed at a time, so rapid repeated pagination triggers cannot
	// duplicate network traffic.
	ErrLoadInFlight = errors.New("feeds: page load already in flight")

	// ErrDisposed is returned once Dispose has been called.
	ErrDisposed = errors.New("feeds: store disposed")
)

// PageFetcher obtains the next older page for a feed. The store never talks
// to the network itself; the fetcher is injected by the client layer.
type PageFetcher func(ctx context.Context, key types.FeedKey, cursor *nostr.Timestamp, pageSize int) (types.Page, error)

const defaultPageSize = 20

// Store owns all feed state for one client. It has an explicit lifecycle:
// created with NewStore, per-feed state dropped with Clear, the whole store
// released with Dispose. Consumers receive it by injection, never as a
// package-level singleton.
type Store struct {
	fetch    PageFetcher
	pageSize int

	feeds    *xsync.MapOf[types.FeedKey, *feedState]
	disposed chan struct{}
	once     sync.Once
}

type feedState struct {
	mu        sync.Mutex
	items     []types.HydratedItem
	seen      map[string]struct{}
	cursor    *nostr.Timestamp
	exhausted bool
	loading   bool
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize overrides the default page size requested from the fetcher.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewStore creates a store over the given fetcher.
func NewStore(fetch PageFetcher, opts ...Option) *Store {
	s := &Store{
		fetch:    fetch,
		pageSize: defaultPageSize,
		feeds:    xsync.NewMapOf[types.FeedKey, *feedState](),
		disposed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureFeed creates an empty feed for key if absent. Idempotent.
func (s *Store) EnsureFeed(key types.FeedKey) {
	s.ensure(key)
}

func (s *Store) ensure(key types.FeedKey) *feedState {
	fs, _ := s.feeds.LoadOrCompute(key, func() *feedState {
		return &feedState{seen: make(map[string]struct{})}
	})
	return fs
}

// LoadNextPage fetches and merges the next older page for key, returning the
// deduplicated incoming page. Items already present anywhere in the feed are
// dropped from the result. Fails fast with ErrLoadInFlight when a load for
// the key is still outstanding; loads on other keys proceed independently.
func (s *Store) LoadNextPage(ctx context.Context, key types.FeedKey) (types.Page, error) {
	return s.LoadNextPageN(ctx, key, s.pageSize)
}

// LoadNextPageN is LoadNextPage with a per-call page size. A non-positive
// size falls back to the store default.
func (s *Store) LoadNextPageN(ctx context.Context, key types.FeedKey, pageSize int) (types.Page, error) {
	if pageSize <= 0 {
		pageSize = s.pageSize
	}

	select {
	case <-s.disposed:
		return types.Page{}, ErrDisposed
	default:
	}

	fs := s.ensure(key)

	fs.mu.Lock()
	if fs.loading {
		fs.mu.Unlock()
		return types.Page{}, ErrLoadInFlight
	}
	if fs.exhausted {
		fs.mu.Unlock()
		return types.Page{Exhausted: true}, nil
	}
	fs.loading = true
	cursor := fs.cursor
	fs.mu.Unlock()

	page, err := s.fetch(ctx, key, cursor, pageSize)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.loading = false

	if err != nil {
		// Already-accumulated pages stay intact so the caller can retry.
		return types.Page{}, err
	}

	merged := types.Page{Cursor: page.Cursor, Exhausted: page.Exhausted}
	for _, item := range page.Items {
		if _, dup := fs.seen[item.Event.ID]; dup {
			continue
		}
		fs.seen[item.Event.ID] = struct{}{}
		fs.items = append(fs.items, item)
		merged.Items = append(merged.Items, item)
	}

	if page.Exhausted {
		// Cursor stays where it was; pagination has reached the end.
		fs.exhausted = true
	} else {
		next := page.Cursor
		fs.cursor = &next
	}

	logging.Debugf("Feed %s: merged %d/%d items, cursor=%d exhausted=%v",
		key, len(merged.Items), len(page.Items), page.Cursor, fs.exhausted)
	return merged, nil
}

// MergeLiveUpdate prepends a single new item to the front of the feed when it
// is not already present. Returns true when the item was added. Used for
// "new items since you started viewing" rather than reordering rendered rows.
func (s *Store) MergeLiveUpdate(key types.FeedKey, item types.HydratedItem) bool {
	fs := s.ensure(key)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, dup := fs.seen[item.Event.ID]; dup {
		return false
	}
	fs.seen[item.Event.ID] = struct{}{}
	fs.items = append([]types.HydratedItem{item}, fs.items...)
	return true
}

// Clear drops all pages and resets the cursor for key. Called when the feed's
// subject changes, e.g. navigating to a different profile.
func (s *Store) Clear(key types.FeedKey) {
	s.feeds.Delete(key)
}

// Snapshot returns a copy of the feed's accumulated items in display order.
func (s *Store) Snapshot(key types.FeedKey) []types.HydratedItem {
	fs, ok := s.feeds.Load(key)
	if !ok {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]types.HydratedItem, len(fs.items))
	copy(out, fs.items)
	return out
}

// Cursor returns the feed's current pagination cursor, nil before the first
// page.
func (s *Store) Cursor(key types.FeedKey) *nostr.Timestamp {
	fs, ok := s.feeds.Load(key)
	if !ok {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.cursor == nil {
		return nil
	}
	c := *fs.cursor
	return &c
}

// Exhausted reports whether pagination for key has reached the end.
func (s *Store) Exhausted(key types.FeedKey) bool {
	fs, ok := s.feeds.Load(key)
	if !ok {
		return false
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.exhausted
}

// Dispose releases the store. Subsequent loads fail with ErrDisposed.
func (s *Store) Dispose() {
	s.once.Do(func() {
		close(s.disposed)
		s.feeds.Clear()
	})
}
