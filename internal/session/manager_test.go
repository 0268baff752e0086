package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/store"
	"github.com/user/checkmate/internal/types"
)

func testManager() *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store.NewMemoryStore(), 24*time.Hour, logger)
}

func manualSettings() types.SessionSettings {
	return types.SessionSettings{
		SessionType: types.SessionTypeConfig{Type: types.PolicyManual},
		Strictness:  0.5,
		Notify:      types.NotificationSettings{Details: true, Links: true},
	}
}

func TestManagerStartStop(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	id, err := m.Start(ctx, manualSettings())
	if err != nil {
		t.Fatal(err)
	}

	memory, err := m.Memory(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if memory.Settings.Strictness != 0.5 {
		t.Errorf("strictness = %v", memory.Settings.Strictness)
	}

	if err := m.Stop(ctx, id, EndManual); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Memory(ctx, id); resilience.Classify(err) != resilience.KindNotFound {
		t.Errorf("expected not_found after stop, got %v", err)
	}
}

func TestManagerUpdateTracksActivity(t *testing.T) {
	m := testManager()
	ctx := context.Background()
	now := time.Now()
	m.now = func() time.Time { return now }

	id, err := m.Start(ctx, types.SessionSettings{
		SessionType: types.SessionTypeConfig{Type: types.PolicyActivity},
	})
	if err != nil {
		t.Fatal(err)
	}

	memory, _ := m.Memory(ctx, id)
	memory.CurrentActivity = &types.ActivityRecord{ID: "act-1", App: "YouTube"}
	if err := m.Update(ctx, id, memory, types.RouteLongVideo); err != nil {
		t.Fatal(err)
	}

	// Same activity, content still flowing: should not end
	now = now.Add(2 * time.Minute)
	if err := m.Update(ctx, id, memory, types.RouteLongVideo); err != nil {
		t.Fatal(err)
	}
	if _, end, _ := m.CheckEnd(ctx, id); end {
		t.Error("session ended while content still flowing")
	}

	// Quiet frames only, activity unchanged: ends after thresholds
	now = now.Add(2 * time.Minute)
	if err := m.Update(ctx, id, memory, types.RouteNone); err != nil {
		t.Fatal(err)
	}
	reason, end, err := m.CheckEnd(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !end || reason != EndInactivity {
		t.Errorf("CheckEnd = (%v, %v), want (inactivity, true)", reason, end)
	}
}

func TestManagerRecoversRuntimeFromTimeline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backing := store.NewMemoryStore()
	ctx := context.Background()

	// Session persisted by a previous process
	id := types.NewSessionID()
	memory := types.NewSessionMemory(types.SessionSettings{
		SessionType: types.SessionTypeConfig{Type: types.PolicyTime, Minutes: 60},
	})
	memory.Timeline = []types.TimelineEntry{{T: "59:00", Event: "reading"}}
	if err := backing.Set(ctx, id, memory, time.Hour); err != nil {
		t.Fatal(err)
	}

	m := NewManager(backing, 24*time.Hour, logger)
	status, err := m.Status(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if status.ElapsedSec < 59*60 {
		t.Errorf("elapsed = %ds, want at least 59 minutes", status.ElapsedSec)
	}

	// Two minutes later the reconstructed clock crosses the budget
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	reason, end, err := m.CheckEnd(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !end || reason != EndTimeBudget {
		t.Errorf("CheckEnd = (%v, %v), want (time_budget, true)", reason, end)
	}
}

func TestSweeperEndsExpiredSessions(t *testing.T) {
	m := testManager()
	ctx := context.Background()
	now := time.Now()
	m.now = func() time.Time { return now }

	expired, err := m.Start(ctx, types.SessionSettings{
		SessionType: types.SessionTypeConfig{Type: types.PolicyTime, Minutes: 30},
	})
	if err != nil {
		t.Fatal(err)
	}
	manual, err := m.Start(ctx, manualSettings())
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(31 * time.Minute)

	var endedID types.SessionID
	var endedReason EndReason
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSweeper(m, func(id types.SessionID, reason EndReason) {
		endedID = id
		endedReason = reason
	}, logger)
	s.Sweep(ctx)

	if endedID != expired || endedReason != EndTimeBudget {
		t.Errorf("ended (%v, %v), want (%v, time_budget)", endedID, endedReason, expired)
	}
	if _, err := m.Memory(ctx, expired); err == nil {
		t.Error("expired session still present")
	}
	if _, err := m.Memory(ctx, manual); err != nil {
		t.Errorf("manual session should survive sweep: %v", err)
	}
}
