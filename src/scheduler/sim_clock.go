package scheduler

import (
	"sort"
	"sync"
	"time"
)

// SimClock is a manually driven TimeEffects. Time only moves when Advance is
// called; timers fire synchronously inside Advance, which makes batch-window
// behaviour reproducible in tests.
type SimClock struct {
	sync.Mutex
	now    time.Time
	timers []*simTimer
}

type simTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewSimClock creates a SimClock starting at the given instant.
func NewSimClock(start time.Time) *SimClock {
	return &SimClock{now: start}
}

// Now implements TimeEffects.
func (c *SimClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

// After implements TimeEffects. The returned channel fires when Advance
// moves the clock past the deadline.
func (c *SimClock) After(d time.Duration) <-chan time.Time {
	c.Lock()
	defer c.Unlock()

	t := &simTimer{
		deadline: c.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	if d <= 0 {
		t.ch <- c.now
		return t.ch
	}
	c.timers = append(c.timers, t)
	return t.ch
}

// Advance moves the clock forward and fires every timer whose deadline was
// reached, in deadline order.
func (c *SimClock) Advance(d time.Duration) {
	c.Lock()
	c.now = c.now.Add(d)
	now := c.now

	due := []*simTimer{}
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !t.deadline.After(now) {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.ch <- now
	}
}
