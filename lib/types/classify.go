package types

import (
	"regexp"

	"github.com/nbd-wtf/go-nostr"
)

// IsReply reports whether a kind 1 event references another event, i.e. is a
// reply rather than a top-level note.
func IsReply(ev *nostr.Event) bool {
	return ev.Tags.GetFirst([]string{"e"}) != nil
}

var mediaURLRe = regexp.MustCompile(`(?i)https?://\S+\.(?:png|jpe?g|gif|webp|mp4|webm|mov)\b`)

// HasMedia reports whether the event content links an image or video.
func HasMedia(ev *nostr.Event) bool {
	return mediaURLRe.MatchString(ev.Content)
}

// KeepFor returns the hydration predicate narrowing a kind 1 stream to the
// given feed variant, or nil when no narrowing is needed.
func KeepFor(kind FeedKind) func(*HydratedItem) bool {
	switch kind {
	case FeedNotes:
		return func(it *HydratedItem) bool { return !IsReply(&it.Event) }
	case FeedReplies:
		return func(it *HydratedItem) bool { return IsReply(&it.Event) }
	case FeedMedia:
		return func(it *HydratedItem) bool { return HasMedia(&it.Event) }
	default:
		return nil
	}
}
