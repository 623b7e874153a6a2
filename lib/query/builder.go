// Package query translates high-level feed requests into wire-level filters
// and mints the subscription ids that correlate their responses.
package query

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrfeed/feedcore/lib/types"
)

// Builder generates page and live queries. Ids combine a process-scoped salt
// with a monotonically increasing counter, so no two calls ever collide with
// a still-live subscription — not in this process and not across restarts.
type Builder struct {
	salt string
	seq  atomic.Uint64
}

// NewBuilder creates a builder with a fresh process salt.
func NewBuilder() *Builder {
	return &Builder{
		salt: strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	}
}

// NextID mints a globally unique subscription id.
func (b *Builder) NextID() string {
	return fmt.Sprintf("sub_%d_%s", b.seq.Add(1), b.salt)
}

// PageQuery builds the filter for one feed page. A nil cursor means "most
// recent". A non-nil cursor is exclusive: the filter's Until is cursor-1 so
// the boundary item from the previous page is never fetched again, keeping
// page boundaries free of duplicates and gaps.
func (b *Builder) PageQuery(key types.FeedKey, cursor *nostr.Timestamp, pageSize int) (string, nostr.Filter) {
	filter := baseFilter(key)
	filter.Limit = pageSize

	if cursor != nil {
		until := *cursor - 1
		filter.Until = &until
	}

	return b.NextID(), filter
}

// LiveQuery builds the filter for a persistent subscription delivering items
// newer than now. No limit: the stream stays open until cancelled.
func (b *Builder) LiveQuery(key types.FeedKey) (string, nostr.Filter) {
	filter := baseFilter(key)
	since := nostr.Now()
	filter.Since = &since

	return b.NextID(), filter
}

func baseFilter(key types.FeedKey) nostr.Filter {
	filter := nostr.Filter{
		Authors: []string{key.Pubkey},
	}

	switch key.Kind {
	case types.FeedArticles:
		filter.Kinds = []int{types.KindLongForm}
	default:
		// notes, replies and media are all kind 1 upstream. NIP-01 filters
		// cannot express "has a reply marker" or "has media", so those
		// variants are narrowed during hydration.
		filter.Kinds = []int{types.KindTextNote}
	}

	return filter
}
