package bots

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/store"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []string
}

func (n *recordingNotifier) BotStatusChanged(botID string, status models.BotStatus, _ time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, botID+":"+string(status))
}

func seed(t *testing.T, s store.Store, id string, status models.BotStatus, hb *time.Time) {
	t.Helper()
	now := time.Now().UTC()
	err := s.CreateBot(context.Background(), &models.Bot{
		ID: id, Name: id, Type: "chat", Status: status, LastHeartbeat: hb,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateBot(%s) error = %v", id, err)
	}
}

func TestReaperSweep(t *testing.T) {
	s, err := store.NewMemoryStore(store.MemoryOptions{})
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	defer s.Close()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-5 * time.Minute)
	fresh := now.Add(-10 * time.Second)

	seed(t, s, "stale-online", models.BotStatusOnline, &stale)
	seed(t, s, "fresh-online", models.BotStatusOnline, &fresh)
	seed(t, s, "never-beat", models.BotStatusOnline, nil)
	seed(t, s, "stale-paired", models.BotStatusPaired, &stale)
	seed(t, s, "stale-busy", models.BotStatusBusy, &stale)

	n := &recordingNotifier{}
	r := NewReaper(s, n, time.Second, 90*time.Second)
	r.now = func() time.Time { return now }

	reaped := r.Sweep(context.Background())
	if len(reaped) != 1 || reaped[0] != "stale-online" {
		t.Fatalf("Sweep() = %v, want [stale-online]", reaped)
	}
	if len(n.changes) != 1 || n.changes[0] != "stale-online:offline" {
		t.Errorf("notifications = %v, want [stale-online:offline]", n.changes)
	}

	want := map[string]models.BotStatus{
		"stale-online": models.BotStatusOffline,
		"fresh-online": models.BotStatusOnline,
		"never-beat":   models.BotStatusOnline,
		"stale-paired": models.BotStatusPaired,
		"stale-busy":   models.BotStatusBusy,
	}
	for id, status := range want {
		b, _ := s.GetBot(context.Background(), id)
		if b.Status != status {
			t.Errorf("%s status = %q, want %q", id, b.Status, status)
		}
	}

	// A second sweep finds nothing new.
	if again := r.Sweep(context.Background()); len(again) != 0 {
		t.Errorf("second Sweep() = %v, want none", again)
	}
}

func TestReaperRun_StopsOnCancel(t *testing.T) {
	s, _ := store.NewMemoryStore(store.MemoryOptions{})
	defer s.Close()

	r := NewReaper(s, nil, 10*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
