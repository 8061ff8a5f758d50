package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling traffic counter.
var Stats = &stats{}

type stats struct {
	Connects    atomic.Int64 // cumulative count of user connections since process start
	Disconnects atomic.Int64 // cumulative count of user disconnections since process start
	Routed      atomic.Int64 // cumulative count of frames delivered to a recipient
	Dropped     atomic.Int64 // cumulative count of frames dropped (invalid, overflow, rate limited)
	BytesIn     atomic.Int64 // cumulative bytes read from clients
	BytesOut    atomic.Int64 // cumulative bytes written to clients
}

func (s *stats) AddConnect()    { s.Connects.Add(1) }
func (s *stats) AddDisconnect() { s.Disconnects.Add(1) }
func (s *stats) AddRouted()     { s.Routed.Add(1) }
func (s *stats) AddDropped()    { s.Dropped.Add(1) }
func (s *stats) AddIn(n int)    { s.BytesIn.Add(int64(n)) }
func (s *stats) AddOut(n int)   { s.BytesOut.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs hub statistics every
// interval. Quiet intervals are not logged. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.sub(prev), interval.Seconds()))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	connects, disconnects, routed, dropped, in, out int64
}

func takeSnapshot() snapshot {
	return snapshot{
		connects:    Stats.Connects.Load(),
		disconnects: Stats.Disconnects.Load(),
		routed:      Stats.Routed.Load(),
		dropped:     Stats.Dropped.Load(),
		in:          Stats.BytesIn.Load(),
		out:         Stats.BytesOut.Load(),
	}
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		connects:    s.connects - o.connects,
		disconnects: s.disconnects - o.disconnects,
		routed:      s.routed - o.routed,
		dropped:     s.dropped - o.dropped,
		in:          s.in - o.in,
		out:         s.out - o.out,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one interval delta for the logger.
func formatStats(d snapshot, seconds float64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Frames: %d routed %d dropped | Users: %2d↑ %2d↓",
		formatBytes(float64(d.in)/seconds),
		formatBytes(float64(d.out)/seconds),
		d.routed,
		d.dropped,
		d.connects,
		d.disconnects,
	)
}
