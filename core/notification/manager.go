// Package notification groups repeated user notifications so a failing
// device does not flood the user.
//
// The first occurrence of a message is sent at once. Later occurrences are
// counted; every CompactSize occurrences of the same weight are folded into
// one entry CompactSize times heavier. When the folding leaves a single
// entry, a summary is sent at once. Otherwise a summary is sent after
// SilenceBeforeClear without a new occurrence.
package notification

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/hems/core/logger"
)

const (
	CompactSize        = 8
	SilenceBeforeClear = 5 * time.Minute
	PurgeAfter         = 24 * time.Hour
)

const dateLayout = "2006-01-02 15:04:05"

// Sender delivers a notification to the user.
type Sender interface {
	Notify(message string) error
}

type entry struct {
	date     time.Time
	count    int
	interval time.Duration
}

type history struct {
	message  string
	logs     []entry
	nextSize int
	silence  time.Duration
}

// Manager buffers notifications. It is safe for concurrent use.
type Manager struct {
	sender Sender
	log    logger.Logger
	clock  func() time.Time

	mu        sync.Mutex
	history   map[string]*history
	timers    map[string]time.Time
	nextPurge time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(m *Manager) { m.log = logger.OrDiscard(l) } }

// WithClock replaces time.Now.
func WithClock(f func() time.Time) Option { return func(m *Manager) { m.clock = f } }

// New returns a manager sending through s.
func New(s Sender, opts ...Option) *Manager {
	m := &Manager{
		sender:  s,
		log:     logger.Discard(),
		clock:   time.Now,
		history: map[string]*history{},
		timers:  map[string]time.Time{},
	}
	for _, o := range opts {
		o(m)
	}
	m.nextPurge = m.clock().Add(PurgeAfter)
	return m
}

// Notify records one occurrence of message and decides whether to send it
// now, later or never.
func (m *Manager) Notify(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	h, ok := m.history[message]
	if !ok {
		h = &history{message: message, nextSize: CompactSize, silence: SilenceBeforeClear}
		m.history[message] = h
	}
	h.logs = append(h.logs, entry{date: now, count: 1, interval: time.Second})
	size := len(h.logs)
	if size == 1 {
		m.send(message)
		return
	}
	if prev := h.logs[size-2]; prev.date.Add(h.silence).Before(now) {
		m.send(message)
		h.silence = SilenceBeforeClear
	}
	if size >= h.nextSize {
		m.compact(h, now)
		return
	}
	m.timers[message] = now.Add(h.silence)
}

func (m *Manager) compact(h *history, now time.Time) {
	size := m.compactLast(h)
	h.nextSize = size + CompactSize
	if size == 1 {
		m.send(h.summary())
		return
	}
	if h.logs[0].date.Add(PurgeAfter).Before(now) {
		h.purge(now.Add(-PurgeAfter))
	}
	m.timers[h.message] = now.Add(h.silence)
}

// compactLast folds the trailing CompactSize entries while they share the
// same weight.
func (m *Manager) compactLast(h *history) int {
	size := len(h.logs)
	for size >= CompactSize {
		last := h.logs[size-1]
		first := &h.logs[size-CompactSize]
		if last.count != first.count {
			m.log.Debugf("notification %q: cannot compact, counts %d != %d", h.message, last.count, first.count)
			break
		}
		first.count *= CompactSize
		first.interval = last.date.Sub(first.date)
		first.date = last.date
		size -= CompactSize - 1
		h.logs = h.logs[:size]
	}
	return len(h.logs)
}

func (h *history) summary() string {
	count := 0
	for _, l := range h.logs[1:] {
		count += l.count
	}
	if count == 0 && len(h.logs) == 1 {
		more := h.logs[0].count / CompactSize * (CompactSize - 1)
		return fmt.Sprintf("%q occurred %d more times", h.message, more)
	}
	first := h.logs[0].date.Format(dateLayout)
	last := h.logs[len(h.logs)-1].date.Format(dateLayout)
	return fmt.Sprintf("%q occurred %d times between %s and %s", h.message, count, first, last)
}

// purge drops entries older than limit and reports whether the history is
// now empty.
func (h *history) purge(limit time.Time) bool {
	kept := h.logs[:0]
	for _, l := range h.logs {
		if l.date.After(limit) {
			kept = append(kept, l)
		}
	}
	h.logs = kept
	return len(h.logs) == 0
}

// Loop sends the summaries whose silence delay expired and purges
// histories idle for a day. It is driven once per control cycle.
func (m *Manager) Loop(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type due struct {
		message string
		at      time.Time
	}
	var ready []due
	for msg, at := range m.timers {
		if !at.After(now) {
			ready = append(ready, due{msg, at})
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].at.Before(ready[j].at) })
	for _, d := range ready {
		delete(m.timers, d.message)
		if h, ok := m.history[d.message]; ok && len(h.logs) > 0 {
			m.send(h.summary())
		}
	}
	if m.nextPurge.Before(now) {
		limit := now.Add(-PurgeAfter)
		for msg, h := range m.history {
			if len(h.logs) == 0 || h.logs[len(h.logs)-1].date.Before(limit) {
				delete(m.history, msg)
				delete(m.timers, msg)
			}
		}
		m.nextPurge = now.Add(PurgeAfter)
	}
}

// Pending returns the number of summaries waiting for their delay.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manager) send(message string) {
	if m.sender == nil {
		m.log.Warnf("notification dropped: %s", message)
		return
	}
	if err := m.sender.Notify(message); err != nil {
		m.log.Errorf("notify %q: %v", message, err)
	}
}
