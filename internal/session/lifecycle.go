// Package session owns session lifecycle: creation, termination policy,
// persisted memory, and periodic sweeping of expired sessions.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/user/checkmate/internal/types"
)

// EndReason records why a session terminated.
type EndReason string

const (
	EndManual     EndReason = "manual"
	EndTimeBudget EndReason = "time_budget"
	EndInactivity EndReason = "inactivity"
)

const (
	// ACTIVITY sessions end once the foreground activity has been stable
	// this long and no frame has produced checkable content in the
	// trailing quiet window.
	activityStableMin = 90 * time.Second
	routeQuietWindow  = 60 * time.Second
)

// Runtime is the in-process state for a live session. It is not persisted;
// after a restart it is reconstructed from the session's timeline.
type Runtime struct {
	StartedAt         time.Time
	LastFrameAt       time.Time
	LastRouteAt       time.Time
	ActivityChangedAt time.Time
	ActivityID        string
}

// ParseTimelineOffset parses a timeline timestamp, "mm:ss" or "hh:mm:ss",
// into an offset from session start.
func ParseTimelineOffset(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("malformed timeline timestamp: %q", s)
	}
	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("malformed timeline timestamp: %q", s)
		}
		total = total*60 + time.Duration(n)*time.Second
	}
	return total, nil
}

// Elapsed estimates session age from the latest parseable timeline entry.
// Malformed entries are skipped; an unparseable or empty timeline reads as
// zero elapsed, which never expires a session on its own.
func Elapsed(m *types.SessionMemory) time.Duration {
	var max time.Duration
	for _, e := range m.Timeline {
		d, err := ParseTimelineOffset(e.T)
		if err != nil {
			continue
		}
		if d > max {
			max = d
		}
	}
	return max
}

// ShouldEnd evaluates the session's termination policy against the current
// clock. MANUAL sessions only end by explicit stop.
func ShouldEnd(m *types.SessionMemory, rt *Runtime, now time.Time) (EndReason, bool) {
	switch m.Settings.SessionType.Type {
	case types.PolicyTime:
		budget := time.Duration(m.Settings.SessionType.Minutes) * time.Minute
		if budget > 0 && now.Sub(rt.StartedAt) >= budget {
			return EndTimeBudget, true
		}
	case types.PolicyActivity:
		// A session that never changed activity or never routed a frame
		// counts as stable and quiet since it started.
		stableSince := rt.ActivityChangedAt
		if stableSince.IsZero() {
			stableSince = rt.StartedAt
		}
		lastRoute := rt.LastRouteAt
		if lastRoute.IsZero() {
			lastRoute = rt.StartedAt
		}
		if now.Sub(stableSince) >= activityStableMin &&
			now.Sub(lastRoute) >= routeQuietWindow {
			return EndInactivity, true
		}
	}
	return "", false
}
