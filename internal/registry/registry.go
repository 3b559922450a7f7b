package registry

import (
	"sort"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/luciancaetano/wsclient"
)

// subscription is one callback registration on a channel
type subscription struct {
	cb   *wsclient.Callback
	once bool
	// removed is set when a registration is unsubscribed while its channel
	// is being dispatched, so it is not put back afterwards
	removed atomic.Bool
}

// Config configures a Registry.
type Config struct {
	// UniqueDurable allows at most one durable registration per channel
	UniqueDurable bool
	// OnPanic is called after a callback panic was recovered
	OnPanic func(channel string, recovered any)
	// Logger defaults to the "wsclient/registry" logger
	Logger logger.ILogger
}

// Registry maps channels to ordered callback registrations.
//
// Dispatch takes the channel's list out of the table before invoking any
// callback, so callbacks may subscribe and unsubscribe freely while they run.
type Registry struct {
	live *xsync.MapOf[string, []*subscription]
	// inflight holds the registrations of channels being dispatched
	inflight *xsync.MapOf[string, []*subscription]

	uniqueDurable bool
	onPanic       func(channel string, recovered any)
	log           logger.ILogger
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	log := cfg.Logger
	if log == nil {
		log = logger.GetLogger("wsclient/registry")
	}
	return &Registry{
		live:          xsync.NewMapOf[string, []*subscription](),
		inflight:      xsync.NewMapOf[string, []*subscription](),
		uniqueDurable: cfg.UniqueDurable,
		onPanic:       cfg.OnPanic,
		log:           log,
	}
}

// Subscribe registers cb on channel. It returns false if cb is nil, already
// registered on channel, or a durable registration is rejected by
// UniqueDurable.
func (r *Registry) Subscribe(channel string, cb *wsclient.Callback, once bool) bool {
	if cb == nil {
		return false
	}

	pending, _ := r.inflight.Load(channel)
	added := false
	r.live.Compute(channel, func(old []*subscription, loaded bool) ([]*subscription, bool) {
		if indexOf(old, cb) >= 0 || returning(pending, cb) {
			return old, !loaded
		}
		if !once && r.uniqueDurable && (hasDurable(old) || hasReturning(pending)) {
			r.log.Warningf("durable subscription on channel %s rejected, channel already has one", channel)
			return old, !loaded
		}
		added = true
		next := make([]*subscription, len(old), len(old)+1)
		copy(next, old)
		return append(next, &subscription{cb: cb, once: once}), false
	})
	return added
}

// Unsubscribe removes cb from channel. The channel entry is deleted when its
// last registration goes away.
func (r *Registry) Unsubscribe(channel string, cb *wsclient.Callback) bool {
	if cb == nil {
		return false
	}

	removed := false
	r.live.Compute(channel, func(old []*subscription, loaded bool) ([]*subscription, bool) {
		idx := indexOf(old, cb)
		if idx < 0 {
			return old, !loaded
		}
		removed = true
		next := make([]*subscription, 0, len(old)-1)
		next = append(next, old[:idx]...)
		next = append(next, old[idx+1:]...)
		return next, len(next) == 0
	})

	if pending, ok := r.inflight.Load(channel); ok {
		for _, s := range pending {
			if s.cb == cb && !s.removed.Load() {
				s.removed.Store(true)
				removed = true
			}
		}
	}
	return removed
}

// Dispatch invokes every callback registered on channel with msg and returns
// how many were invoked. Call-once registrations are dropped, durable ones
// are put back. A panicking callback is logged and does not stop the others.
func (r *Registry) Dispatch(channel string, msg *wsclient.Envelope) int {
	snapshot, ok := r.live.LoadAndDelete(channel)
	if !ok || len(snapshot) == 0 {
		return 0
	}

	r.inflight.Compute(channel, func(old []*subscription, _ bool) ([]*subscription, bool) {
		next := make([]*subscription, 0, len(old)+len(snapshot))
		next = append(next, old...)
		return append(next, snapshot...), false
	})

	for _, s := range snapshot {
		r.invoke(channel, s, msg)
	}

	var keep []*subscription
	for _, s := range snapshot {
		if !s.once && !s.removed.Load() {
			keep = append(keep, s)
		}
	}
	if len(keep) > 0 {
		r.live.Compute(channel, func(old []*subscription, _ bool) ([]*subscription, bool) {
			next := make([]*subscription, len(old), len(old)+len(keep))
			copy(next, old)
			for _, s := range keep {
				if indexOf(next, s.cb) < 0 {
					next = append(next, s)
				}
			}
			return next, len(next) == 0
		})
	}

	r.inflight.Compute(channel, func(old []*subscription, loaded bool) ([]*subscription, bool) {
		next := make([]*subscription, 0, len(old))
		for _, s := range old {
			if !contains(snapshot, s) {
				next = append(next, s)
			}
		}
		return next, len(next) == 0
	})

	return len(snapshot)
}

// invoke calls one callback, recovering from a panic
func (r *Registry) invoke(channel string, s *subscription, msg *wsclient.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("callback on channel %s panicked: %v", channel, rec)
			if r.onPanic != nil {
				r.onPanic(channel, rec)
			}
		}
	}()
	s.cb.Invoke(msg)
}

// CleanAll drops every registration. With keepDurable only call-once
// registrations are dropped.
func (r *Registry) CleanAll(keepDurable bool) {
	if !keepDurable {
		r.live.Clear()
		r.inflight.Range(func(_ string, subs []*subscription) bool {
			for _, s := range subs {
				s.removed.Store(true)
			}
			return true
		})
		return
	}

	for _, channel := range r.Channels() {
		r.live.Compute(channel, func(old []*subscription, loaded bool) ([]*subscription, bool) {
			next := make([]*subscription, 0, len(old))
			for _, s := range old {
				if !s.once {
					next = append(next, s)
				}
			}
			return next, len(next) == 0
		})
	}
}

// Has reports whether cb is registered on channel.
func (r *Registry) Has(channel string, cb *wsclient.Callback) bool {
	subs, _ := r.live.Load(channel)
	pending, _ := r.inflight.Load(channel)
	return indexOf(subs, cb) >= 0 || returning(pending, cb)
}

// Len returns the number of registrations on channel.
func (r *Registry) Len(channel string) int {
	subs, _ := r.live.Load(channel)
	return len(subs)
}

// Channels returns the channels that have registrations, sorted.
func (r *Registry) Channels() []string {
	channels := make([]string, 0, r.live.Size())
	r.live.Range(func(channel string, _ []*subscription) bool {
		channels = append(channels, channel)
		return true
	})
	sort.Strings(channels)
	return channels
}

func indexOf(subs []*subscription, cb *wsclient.Callback) int {
	for i, s := range subs {
		if s.cb == cb {
			return i
		}
	}
	return -1
}

func contains(subs []*subscription, target *subscription) bool {
	for _, s := range subs {
		if s == target {
			return true
		}
	}
	return false
}

func hasDurable(subs []*subscription) bool {
	for _, s := range subs {
		if !s.once {
			return true
		}
	}
	return false
}

// returning reports whether cb is an in-flight durable registration that
// will be put back after its dispatch
func returning(subs []*subscription, cb *wsclient.Callback) bool {
	for _, s := range subs {
		if s.cb == cb && !s.once && !s.removed.Load() {
			return true
		}
	}
	return false
}

func hasReturning(subs []*subscription) bool {
	for _, s := range subs {
		if !s.once && !s.removed.Load() {
			return true
		}
	}
	return false
}
