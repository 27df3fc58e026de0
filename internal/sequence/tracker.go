// Package sequence enforces per-channel monotonic sequence delivery with
// out-of-order buffering and duplicate rejection. The tracker is a pure
// state machine: it performs no I/O and never drops a gap silently without
// counting it.
package sequence

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultBufferCapacity = 64
	defaultBufferTTL      = 5 * time.Second
)

// Stats aggregates tracker counters across all channels.
type Stats struct {
	Accepted   uint64
	Duplicates uint64
	Buffered   uint64
	GapDrops   uint64
}

type buffered struct {
	msg     any
	arrival time.Time
}

type channelState struct {
	started      bool
	nextExpected uint64
	buffer       map[uint64]buffered
}

// Tracker keeps independent sequence state per channel. Channels have
// independent sequence spaces; a gap on one channel never blocks another.
type Tracker struct {
	mu       sync.Mutex
	channels map[string]*channelState
	stats    Stats

	bufferCap int
	bufferTTL time.Duration
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBufferCapacity bounds the out-of-order buffer per channel.
func WithBufferCapacity(capacity int) Option {
	return func(t *Tracker) {
		if capacity > 0 {
			t.bufferCap = capacity
		}
	}
}

// WithBufferTTL bounds how long a buffered message may wait for its gap.
func WithBufferTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.bufferTTL = ttl
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a tracker with the given options.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		mu:        sync.Mutex{},
		channels:  make(map[string]*channelState),
		stats:     Stats{},
		bufferCap: defaultBufferCapacity,
		bufferTTL: defaultBufferTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Process records one sequenced message. It reports whether the message is a
// duplicate and returns every message now deliverable in order: the current
// message first, then any buffered messages made contiguous by it.
func (t *Tracker) Process(channel string, seq uint64, msg any) (bool, []any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.channels[channel]
	if state == nil {
		state = &channelState{
			started:      false,
			nextExpected: 0,
			buffer:       make(map[uint64]buffered),
		}
		t.channels[channel] = state
	}

	now := t.now()
	t.evictStaleLocked(state, now)

	// First message on a channel is accepted unconditionally.
	if !state.started {
		state.started = true
		state.nextExpected = seq + 1
		t.stats.Accepted++
		return false, []any{msg}
	}

	switch {
	case seq < state.nextExpected:
		t.stats.Duplicates++
		return true, nil
	case seq == state.nextExpected:
		state.nextExpected++
		t.stats.Accepted++
		ready := []any{msg}
		// Drain the buffer while it stays contiguous.
		for {
			entry, ok := state.buffer[state.nextExpected]
			if !ok {
				break
			}
			delete(state.buffer, state.nextExpected)
			state.nextExpected++
			t.stats.Accepted++
			ready = append(ready, entry.msg)
		}
		return false, ready
	default:
		if _, exists := state.buffer[seq]; exists {
			t.stats.Duplicates++
			return true, nil
		}
		state.buffer[seq] = buffered{msg: msg, arrival: now}
		t.stats.Buffered++
		t.evictOverflowLocked(state)
		return false, nil
	}
}

// evictStaleLocked drops buffered entries whose gap never filled in time.
func (t *Tracker) evictStaleLocked(state *channelState, now time.Time) {
	for seq, entry := range state.buffer {
		if now.Sub(entry.arrival) > t.bufferTTL {
			delete(state.buffer, seq)
			t.stats.GapDrops++
			// The gap is abandoned: anything after the dropped sequence
			// would wait forever otherwise.
			if seq >= state.nextExpected {
				state.nextExpected = seq + 1
			}
		}
	}
}

// evictOverflowLocked trims the buffer to capacity, oldest sequence first.
func (t *Tracker) evictOverflowLocked(state *channelState) {
	overflow := len(state.buffer) - t.bufferCap
	if overflow <= 0 {
		return
	}
	seqs := make([]uint64, 0, len(state.buffer))
	for seq := range state.buffer {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs[:overflow] {
		delete(state.buffer, seq)
		t.stats.GapDrops++
	}
}

// Sweep evicts expired buffered entries on every channel. The manager calls
// this periodically so a gap on an idle channel still times out.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, state := range t.channels {
		t.evictStaleLocked(state, now)
	}
}

// Reset forgets sequence state for one channel. A fresh session restarts
// sequence tracking from whatever the venue sends first.
func (t *Tracker) Reset(channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.channels, channel)
}

// ResetAll forgets sequence state for every channel.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels = make(map[string]*channelState)
}

// Stats returns a snapshot of the tracker counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
