package types

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestZappedSats_ReceiptSumWins(t *testing.T) {
	it := HydratedItem{
		Stats: Stats{EventID: "n1", SatsZapped: 9999},
		Zaps: []ZapReceipt{
			{ID: "z1", Sats: 300},
			{ID: "z2", Sats: 200},
		},
	}
	if got := it.ZappedSats(); got != 500 {
		t.Errorf("expected receipt sum 500, got %d", got)
	}
}

func TestZappedSats_SnapshotFallback(t *testing.T) {
	it := HydratedItem{Stats: Stats{EventID: "n1", SatsZapped: 42}}
	if got := it.ZappedSats(); got != 42 {
		t.Errorf("expected snapshot fallback 42, got %d", got)
	}
}

func TestPlaceholderProfile(t *testing.T) {
	p := PlaceholderProfile("p1")
	if p.Pubkey != "p1" || p.Name != "unknown" || !p.Placeholder {
		t.Errorf("unexpected placeholder: %+v", p)
	}
}

func TestKeepFor(t *testing.T) {
	note := HydratedItem{Event: nostr.Event{Kind: KindTextNote, Content: "plain"}}
	reply := HydratedItem{Event: nostr.Event{
		Kind: KindTextNote,
		Tags: nostr.Tags{nostr.Tag{"e", "parent"}},
	}}
	media := HydratedItem{Event: nostr.Event{
		Kind:    KindTextNote,
		Content: "look https://img.example/cat.PNG here",
	}}

	if keep := KeepFor(FeedNotes); !keep(&note) || keep(&reply) {
		t.Error("notes feed should keep top-level notes only")
	}
	if keep := KeepFor(FeedReplies); keep(&note) || !keep(&reply) {
		t.Error("replies feed should keep replies only")
	}
	if keep := KeepFor(FeedMedia); keep(&note) || !keep(&media) {
		t.Error("media feed should keep media-bearing notes only")
	}
	if KeepFor(FeedArticles) != nil {
		t.Error("articles feed needs no narrowing predicate")
	}
}

func TestFeedKeyString(t *testing.T) {
	k := FeedKey{Pubkey: "p1", Kind: FeedNotes}
	if k.String() != "notes:p1" {
		t.Errorf("unexpected key string %s", k.String())
	}
}
