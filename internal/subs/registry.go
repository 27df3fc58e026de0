// Package subs tracks desired channel subscriptions, rate-limits
// subscription operations, and replays the active set after reconnect.
package subs

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/coachpo/marketwire/errs"
)

// Params carries the parameter set identifying a subscription alongside its
// channel name.
type Params struct {
	Symbols  []string `json:"symbol,omitempty"`
	Depth    int      `json:"depth,omitempty"`
	Interval int      `json:"interval,omitempty"`
	Snapshot *bool    `json:"snapshot,omitempty"`
}

// Subscription is one desired channel subscription.
type Subscription struct {
	Channel      string
	Params       Params
	Private      bool
	RegisteredAt time.Time
	Active       bool
	LastError    string
}

func (s *Subscription) clone() Subscription {
	cloned := *s
	cloned.Params.Symbols = append([]string(nil), s.Params.Symbols...)
	return cloned
}

// Registry is the retained set of subscriptions, ordered by registration.
type Registry struct {
	mu      sync.Mutex
	ordered []*Subscription
	index   map[string]*Subscription

	limiter     *rate.Limiter
	replayDelay time.Duration
	now         func() time.Time
}

// Config tunes the registry rate limiter and replay pacing.
type Config struct {
	// MaxOps bounds subscription operations inside the sliding window.
	MaxOps int
	// Window is the sliding window the operation budget applies to.
	Window time.Duration
	// ReplayDelay spaces out replayed subscribe requests after reconnect so
	// the burst does not trip the venue-side limiter.
	ReplayDelay time.Duration
}

// NewRegistry creates a registry with the given limits.
func NewRegistry(cfg Config) *Registry {
	maxOps := cfg.MaxOps
	if maxOps <= 0 {
		maxOps = 30
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	replayDelay := cfg.ReplayDelay
	if replayDelay < 0 {
		replayDelay = 0
	}
	return &Registry{
		mu:          sync.Mutex{},
		ordered:     nil,
		index:       make(map[string]*Subscription),
		limiter:     rate.NewLimiter(rate.Every(window/time.Duration(maxOps)), maxOps),
		replayDelay: replayDelay,
		now:         time.Now,
	}
}

func normalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}

// Subscribe registers a desired subscription. Requests beyond the rate
// budget are rejected immediately so the caller can retry later; they are
// never queued indefinitely.
func (r *Registry) Subscribe(channel string, params Params, private bool) error {
	key := normalizeChannel(channel)
	if key == "" {
		return errs.New("subs", errs.CodeInvalid, errs.WithMessage("channel required"))
	}
	if !r.limiter.Allow() {
		return errs.New("subs", errs.CodeRateLimited,
			errs.WithChannel(key),
			errs.WithMessage("subscription rate limit exceeded"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.index[key]; ok {
		// Re-subscribing updates parameters but keeps registration order.
		existing.Params = params
		existing.Private = private
		existing.Active = false
		existing.LastError = ""
		return nil
	}
	sub := &Subscription{
		Channel:      key,
		Params:       params,
		Private:      private,
		RegisteredAt: r.now(),
		Active:       false,
		LastError:    "",
	}
	r.index[key] = sub
	r.ordered = append(r.ordered, sub)
	return nil
}

// Unsubscribe removes the subscription from the retained set.
func (r *Registry) Unsubscribe(channel string) bool {
	key := normalizeChannel(channel)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[key]; !ok {
		return false
	}
	delete(r.index, key)
	for i, sub := range r.ordered {
		if sub.Channel == key {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
	return true
}

// MarkActive records a subscription acknowledgement, correlated by channel
// name since the venue assigns no request id to subscriptions.
func (r *Registry) MarkActive(channel string) {
	key := normalizeChannel(channel)
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.index[key]; ok {
		sub.Active = true
		sub.LastError = ""
	}
}

// MarkRejected records a venue-side subscription rejection.
func (r *Registry) MarkRejected(channel, reason string) {
	key := normalizeChannel(channel)
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.index[key]; ok {
		sub.Active = false
		sub.LastError = strings.TrimSpace(reason)
	}
}

// Replay walks the retained subscriptions of one side in registration order,
// invoking send for each as a fresh request. Only the replayed side loses its
// acknowledged state; the other connection's subscriptions are untouched.
// Replay respects the same rate budget as live subscribe calls and paces
// requests so the reconnect burst is not rejected server-side.
func (r *Registry) Replay(ctx context.Context, private bool, send func(Subscription) error) error {
	r.mu.Lock()
	snapshot := make([]Subscription, 0, len(r.ordered))
	for _, sub := range r.ordered {
		if sub.Private != private {
			continue
		}
		sub.Active = false
		snapshot = append(snapshot, sub.clone())
	}
	r.mu.Unlock()

	for i, sub := range snapshot {
		if err := r.limiter.Wait(ctx); err != nil {
			return errs.New("subs", errs.CodeShutdown,
				errs.WithMessage("replay interrupted"), errs.WithCause(err))
		}
		if err := send(sub); err != nil {
			return err
		}
		if r.replayDelay > 0 && i < len(snapshot)-1 {
			select {
			case <-ctx.Done():
				return errs.New("subs", errs.CodeShutdown,
					errs.WithMessage("replay interrupted"), errs.WithCause(ctx.Err()))
			case <-time.After(r.replayDelay):
			}
		}
	}
	return nil
}

// Snapshot returns the retained subscriptions in registration order.
func (r *Registry) Snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subscription, 0, len(r.ordered))
	for _, sub := range r.ordered {
		out = append(out, sub.clone())
	}
	return out
}

// ActiveCount reports how many subscriptions are currently acknowledged.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, sub := range r.ordered {
		if sub.Active {
			count++
		}
	}
	return count
}
