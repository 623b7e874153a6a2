package aggregate

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrfeed/feedcore/lib/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	errNoSubject = errors.New("aggregate: event has no subject")
	errNoContent = errors.New("aggregate: event content is empty")
)

// parseProfile extracts a Profile from a kind 0 metadata event.
func parseProfile(ev *nostr.Event) (types.Profile, error) {
	var profile types.Profile
	if strings.TrimSpace(ev.Content) == "" {
		return profile, errNoContent
	}
	if err := json.UnmarshalFromString(ev.Content, &profile); err != nil {
		return profile, err
	}
	profile.Pubkey = ev.PubKey
	profile.Placeholder = false
	return profile, nil
}

// parseStats extracts a Stats snapshot from an event-stats event. The subject
// event id lives inside the JSON content.
func parseStats(ev *nostr.Event) (types.Stats, error) {
	var stats types.Stats
	if err := json.UnmarshalFromString(ev.Content, &stats); err != nil {
		return stats, err
	}
	if stats.EventID == "" {
		return stats, errNoSubject
	}
	return stats, nil
}

// zapRequest is the slice of the embedded zap-request event we care about.
type zapRequest struct {
	Pubkey  string     `json:"pubkey"`
	Content string     `json:"content"`
	Tags    nostr.Tags `json:"tags"`
}

// parseZapReceipt extracts a ZapReceipt from a kind 9735 event. The zapped
// event id comes from the "e" tag; sender and message come from the
// zap-request JSON embedded in the "description" tag; the amount comes from
// the bolt11 invoice, falling back to the request's millisat "amount" tag.
func parseZapReceipt(ev *nostr.Event) (types.ZapReceipt, error) {
	receipt := types.ZapReceipt{ID: ev.ID}

	subject := ev.Tags.GetFirst([]string{"e"})
	if subject == nil {
		return receipt, errNoSubject
	}
	receipt.Subject = subject.Value()

	if bolt11 := ev.Tags.GetFirst([]string{"bolt11"}); bolt11 != nil {
		receipt.Sats = parseBolt11Amount(bolt11.Value())
	}

	if desc := ev.Tags.GetFirst([]string{"description"}); desc != nil {
		var request zapRequest
		if err := json.UnmarshalFromString(desc.Value(), &request); err == nil {
			receipt.Sender = request.Pubkey
			receipt.Message = request.Content
			if receipt.Sats == 0 {
				if amount := request.Tags.GetFirst([]string{"amount"}); amount != nil {
					if msats, err := strconv.ParseInt(amount.Value(), 10, 64); err == nil {
						receipt.Sats = msats / 1000
					}
				}
			}
		}
	}

	return receipt, nil
}

var bolt11Re = regexp.MustCompile(`^ln(?:bc|tb|bcrt)(\d+)([munp])?`)

// parseBolt11Amount extracts the amount in satoshis from a bolt11 invoice.
// Returns 0 if the amount cannot be parsed.
func parseBolt11Amount(bolt11 string) int64 {
	matches := bolt11Re.FindStringSubmatch(strings.ToLower(bolt11))
	if len(matches) < 2 {
		return 0
	}

	amount, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0
	}

	multiplier := ""
	if len(matches) >= 3 {
		multiplier = matches[2]
	}

	switch multiplier {
	case "m": // milli, 10^-3 BTC
		return amount * 100000
	case "u": // micro, 10^-6 BTC
		return amount * 100
	case "n": // nano, 0.1 sat each
		return amount / 10
	case "p": // pico, 0.0001 sat each
		return amount / 10000
	default: // no multiplier means whole BTC
		return amount * 100000000
	}
}
