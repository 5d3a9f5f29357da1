// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"
)

// StubClock returns a fixed time. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2023-11-14 22:13:20 UTC (unix 1700000000).
func FixedClock() *StubClock {
	return NewStubClock(time.Unix(1_700_000_000, 0).UTC())
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubTimeSource reports a fixed offset, or Err when set.
type StubTimeSource struct {
	OffsetValue time.Duration
	Err         error
}

func (s StubTimeSource) Offset(ctx context.Context) (time.Duration, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	return s.OffsetValue, nil
}
