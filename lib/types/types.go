package types

import (
	"github.com/nbd-wtf/go-nostr"
)

// Event kinds the aggregation layer understands. Everything else arriving on
// a subscription is ignored.
const (
	KindProfile    = 0
	KindTextNote   = 1
	KindLongForm   = 30023
	KindZapReceipt = 9735

	// KindEventStats is the private-range kind caching relays use to ship
	// aggregate counter snapshots for a content event.
	KindEventStats = 10000100
)

// FeedKind selects which slice of a pubkey's activity a feed shows.
type FeedKind string

const (
	FeedNotes    FeedKind = "notes"
	FeedReplies  FeedKind = "replies"
	FeedMedia    FeedKind = "media"
	FeedArticles FeedKind = "articles"
)

// FeedKey identifies one logical feed. Comparable, so it can key maps directly.
type FeedKey struct {
	Pubkey string
	Kind   FeedKind
}

func (k FeedKey) String() string {
	return string(k.Kind) + ":" + k.Pubkey
}

// Profile is the parsed content of a kind 0 metadata event.
type Profile struct {
	Pubkey      string `json:"pubkey"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	About       string `json:"about"`
	Picture     string `json:"picture"`
	Nip05       string `json:"nip05"`

	// Placeholder is set when no metadata event arrived before end of stream
	// and the author had to be synthesized.
	Placeholder bool `json:"-"`
}

// PlaceholderProfile returns the stand-in author used when a content event's
// kind 0 never arrives. Hydration must not fail on a missing profile.
func PlaceholderProfile(pubkey string) Profile {
	return Profile{
		Pubkey:      pubkey,
		Name:        "unknown",
		Placeholder: true,
	}
}

// Stats is an aggregate counter snapshot for one content event, parsed from
// the content of a KindEventStats event. Counters are whole non-negative
// integers. Snapshots replace each other wholesale; they are never summed.
type Stats struct {
	EventID    string `json:"event_id"`
	Likes      int64  `json:"likes"`
	Replies    int64  `json:"replies"`
	Reposts    int64  `json:"reposts"`
	Zaps       int64  `json:"zaps"`
	SatsZapped int64  `json:"satszapped"`
}

// ZapReceipt is a parsed kind 9735 event: a micropayment receipt attached to
// a content event.
type ZapReceipt struct {
	ID      string `json:"id"`      // receipt event id, dedup key
	Subject string `json:"subject"` // zapped content event id ("e" tag)
	Sender  string `json:"sender"`  // zap request author
	Sats    int64  `json:"sats"`    // amount in satoshis
	Message string `json:"message"` // zap request content
}

// HydratedItem is a content event joined with its author profile, stats
// snapshot and zap receipts. Author and Stats fall back to placeholders when
// the companion events never arrived.
type HydratedItem struct {
	Event  nostr.Event  `json:"event"`
	Author Profile      `json:"author"`
	Stats  Stats        `json:"stats"`
	Zaps   []ZapReceipt `json:"zaps,omitempty"`
}

// ID returns the content event id the item is keyed by.
func (it *HydratedItem) ID() string {
	return it.Event.ID
}

// CreatedAt returns the content timestamp used for feed ordering and cursors.
func (it *HydratedItem) CreatedAt() nostr.Timestamp {
	return it.Event.CreatedAt
}

// ZappedSats returns the authoritative zapped total for the item: the sum
// over deduplicated receipts when any receipts are present, otherwise the
// cached snapshot value. A receipt sum is compositional and cannot go stale
// the way a cached counter can.
func (it *HydratedItem) ZappedSats() int64 {
	if len(it.Zaps) == 0 {
		return it.Stats.SatsZapped
	}
	var total int64
	for _, z := range it.Zaps {
		total += z.Sats
	}
	return total
}

// Page is one ordered, deduplicated slice of a feed. Cursor holds the
// created_at of the oldest item and seeds the next older request.
type Page struct {
	Items  []HydratedItem  `json:"items"`
	Cursor nostr.Timestamp `json:"cursor"`

	// Exhausted is set when the upstream returned no items for the request,
	// meaning pagination has reached the end. Not an error.
	Exhausted bool `json:"exhausted,omitempty"`
}

// Len returns the number of items in the page.
func (p *Page) Len() int {
	return len(p.Items)
}
