// Package clock provides the corrected wall clock used to stamp outbound
// events.
package clock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TimeSource measures how far the local clock is from trusted time.
type TimeSource interface {
	Offset(ctx context.Context) (time.Duration, error)
}

// NTPSource queries an NTP server.
type NTPSource struct {
	Server  string
	Timeout time.Duration
}

// DefaultNTPServer is used when no server is configured.
const DefaultNTPServer = "pool.ntp.org"

// Offset returns the clock offset reported by the server.
func (s NTPSource) Offset(ctx context.Context) (time.Duration, error) {
	server := s.Server
	if server == "" {
		server = DefaultNTPServer
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("querying %s: %w", server, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("invalid response from %s: %w", server, err)
	}
	return resp.ClockOffset, nil
}

// Corrected is a clock shifted by a learned offset.
type Corrected struct {
	base   Clock
	offset atomic.Int64 // ms
}

// NewCorrected returns base shifted by offsetMillis.
func NewCorrected(base Clock, offsetMillis int64) *Corrected {
	if base == nil {
		base = RealClock{}
	}
	c := &Corrected{base: base}
	c.offset.Store(offsetMillis)
	return c
}

// Now returns local time plus the offset.
func (c *Corrected) Now() time.Time {
	return c.base.Now().Add(time.Duration(c.offset.Load()) * time.Millisecond)
}

// Unix returns the corrected time in unix seconds, the unit of created_at.
func (c *Corrected) Unix() int64 {
	return c.Now().Unix()
}

// Offset returns the current offset in milliseconds.
func (c *Corrected) Offset() int64 {
	return c.offset.Load()
}

// SetOffset replaces the offset.
func (c *Corrected) SetOffset(offsetMillis int64) {
	c.offset.Store(offsetMillis)
}

// Sync measures the offset with src and adopts it.
func (c *Corrected) Sync(ctx context.Context, src TimeSource) (int64, error) {
	d, err := src.Offset(ctx)
	if err != nil {
		return 0, err
	}
	ms := d.Milliseconds()
	c.offset.Store(ms)
	return ms, nil
}
