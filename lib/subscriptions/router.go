package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nostrfeed/feedcore/lib/logging"
	"github.com/nostrfeed/feedcore/lib/metrics"
)

var (
	// ErrDuplicateSubscription is returned by Register when the id is still
	// bound to an active subscription. With builder-generated ids this is a
	// programmer error.
	ErrDuplicateSubscription = errors.New("subscriptions: duplicate subscription id")

	// ErrTransportClosed is delivered to every active subscription's OnError
	// when the underlying connection goes away.
	ErrTransportClosed = errors.New("subscriptions: transport closed")
)

// Transport is the slice of the websocket client the router needs. Tests
// substitute a synthetic implementation fed from canned frames.
type Transport interface {
	Send(ctx context.Context, msg interface{}) error
	Frames() <-chan []byte
	Err() error
	IsConnected() bool
}

// Callbacks is the set of handlers registered for one subscription id. Any
// field may be nil.
type Callbacks struct {
	OnEvent func(*nostr.Event)
	OnEOSE  func()
	OnError func(error)
}

// Subscription is one in-flight request/response cycle. One-shot
// subscriptions are unregistered automatically when EOSE arrives; live ones
// stay bound until Unregister.
type Subscription struct {
	ID      string
	Filters nostr.Filters
	Live    bool

	callbacks Callbacks
}

// Router owns the registration table mapping subscription ids to callback
// sets and demultiplexes inbound frames to them. It is the only component
// that reads or writes the transport; higher layers deal purely in ids.
type Router struct {
	transport Transport
	subs      *xsync.MapOf[string, *Subscription]
	done      chan struct{}
}

// NewRouter creates a router over the given transport. Run must be started
// for frames to be dispatched.
func NewRouter(t Transport) *Router {
	return &Router{
		transport: t,
		subs:      xsync.NewMapOf[string, *Subscription](),
		done:      make(chan struct{}),
	}
}

// Register binds a callback set to id and sends the REQ for its filters.
// Exactly one callback set may be active per id; reusing an id is legal only
// after the previous registration ended.
func (r *Router) Register(ctx context.Context, id string, filters nostr.Filters, cb Callbacks, live bool) (*Subscription, error) {
	sub := &Subscription{
		ID:        id,
		Filters:   filters,
		Live:      live,
		callbacks: cb,
	}

	if _, loaded := r.subs.LoadOrStore(id, sub); loaded {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscription, id)
	}

	if err := r.transport.Send(ctx, nostr.ReqEnvelope{SubscriptionID: id, Filters: filters}); err != nil {
		r.subs.Delete(id)
		return nil, err
	}

	metrics.SubscriptionsOpened.Inc()
	return sub, nil
}

// Unregister removes the callback set for id and tells the relay to stop the
// subscription. Idempotent; safe to call from inside a callback. Frames that
// arrive for the id afterwards are dropped silently.
func (r *Router) Unregister(id string) {
	if _, loaded := r.subs.LoadAndDelete(id); !loaded {
		return
	}
	metrics.SubscriptionsClosed.Inc()

	if r.transport.IsConnected() {
		if err := r.transport.Send(context.Background(), nostr.CloseEnvelope(id)); err != nil {
			logging.Debugf("CLOSE for %s not sent: %v", id, err)
		}
	}
}

// Active reports whether id currently has a registered callback set.
func (r *Router) Active(id string) bool {
	_, ok := r.subs.Load(id)
	return ok
}

// Run consumes the transport's frame channel until it closes, dispatching
// each frame to the subscription it belongs to. When the channel closes the
// terminal transport error is fanned out to every remaining subscription,
// which decides independently whether to surface a failure.
func (r *Router) Run() {
	for frame := range r.transport.Frames() {
		r.dispatch(frame)
	}

	err := r.transport.Err()
	if err == nil {
		err = ErrTransportClosed
	} else {
		err = fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	r.failAll(err)
	close(r.done)
}

// Done is closed once Run has finished fanning out the terminal error.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

func (r *Router) dispatch(frame []byte) {
	envelope := nostr.ParseMessage(frame)
	if envelope == nil {
		logging.Debugf("Dropping unparseable frame: %.80s", string(frame))
		return
	}

	switch env := envelope.(type) {
	case *nostr.EventEnvelope:
		if env.SubscriptionID == nil {
			return
		}
		sub, ok := r.subs.Load(*env.SubscriptionID)
		if !ok {
			// Late frame for a cancelled subscription. Expected, not an error.
			metrics.EventsUnroutable.Inc()
			return
		}
		if sub.callbacks.OnEvent != nil {
			sub.callbacks.OnEvent(&env.Event)
		}

	case *nostr.EOSEEnvelope:
		id := string(*env)
		sub, ok := r.subs.Load(id)
		if !ok {
			metrics.EventsUnroutable.Inc()
			return
		}
		if sub.callbacks.OnEOSE != nil {
			sub.callbacks.OnEOSE()
		}
		if !sub.Live {
			// Natural completion of a one-shot query.
			r.Unregister(id)
		}

	case *nostr.ClosedEnvelope:
		sub, ok := r.subs.LoadAndDelete(env.SubscriptionID)
		if !ok {
			return
		}
		metrics.SubscriptionsClosed.Inc()
		if sub.callbacks.OnError != nil {
			sub.callbacks.OnError(fmt.Errorf("subscriptions: closed by relay: %s", env.Reason))
		}

	case *nostr.NoticeEnvelope:
		// Notices are connection-scoped; nothing to correlate.
		logging.Warnf("Relay notice: %s", string(*env))

	default:
		logging.Debugf("Unhandled message type: %s", envelope.Label())
	}
}

func (r *Router) failAll(err error) {
	r.subs.Range(func(id string, sub *Subscription) bool {
		r.subs.Delete(id)
		metrics.SubscriptionsClosed.Inc()
		if sub.callbacks.OnError != nil {
			sub.callbacks.OnError(err)
		}
		return true
	})
}
