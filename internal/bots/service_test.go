package bots_test

import (
	"context"
	"errors"
	"testing"

	"github.com/agentoven/agentoven/pairing-plane/internal/bots"
	"github.com/agentoven/agentoven/pairing-plane/internal/matching"
	"github.com/agentoven/agentoven/pairing-plane/internal/pairing"
	"github.com/agentoven/agentoven/pairing-plane/internal/store"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
)

func newService(t *testing.T) (*bots.Service, *store.MemoryStore) {
	t.Helper()
	s, err := store.NewMemoryStore(store.MemoryOptions{})
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return bots.NewService(s), s
}

func register(t *testing.T, svc *bots.Service, name string, caps ...string) *models.Bot {
	t.Helper()
	b, err := svc.Register(context.Background(), models.BotCreate{
		Name: name, Type: "chat", Capabilities: models.Capabilities(caps),
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
	return b
}

func TestRegister(t *testing.T) {
	svc, _ := newService(t)
	b := register(t, svc, "alpha", "search", "chat", "search", " ")

	if b.ID == "" {
		t.Error("Register() returned an empty id")
	}
	if b.Status != models.BotStatusOnline {
		t.Errorf("Status = %q, want online", b.Status)
	}
	if got := b.Capabilities.Key(); got != "chat,search" {
		t.Errorf("Capabilities = %q, want normalized chat,search", got)
	}
	if b.LastHeartbeat != nil {
		t.Errorf("LastHeartbeat = %v, want nil before any heartbeat", b.LastHeartbeat)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newService(t)
	tests := []struct {
		name string
		req  models.BotCreate
	}{
		{"missing name", models.BotCreate{Type: "chat"}},
		{"blank name", models.BotCreate{Name: "  ", Type: "chat"}},
		{"missing type", models.BotCreate{Name: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tt.req); !errors.Is(err, bots.ErrValidation) {
				t.Errorf("Register() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, bots.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	svc, _ := newService(t)
	b := register(t, svc, "alpha")
	ctx := context.Background()

	name := "renamed"
	busy := models.BotStatusBusy
	caps := models.Capabilities{"z", "a"}
	got, err := svc.Update(ctx, b.ID, models.BotUpdate{Name: &name, Status: &busy, Capabilities: &caps})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Name != "renamed" || got.Status != models.BotStatusBusy || got.Capabilities.Key() != "a,z" {
		t.Errorf("Update() = %+v", got)
	}

	available, _ := svc.Available(ctx)
	if len(available) != 0 {
		t.Errorf("Available() = %d bots, want 0 while busy", len(available))
	}
}

func TestUpdate_Rejections(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	a := register(t, svc, "a")
	b := register(t, svc, "b")

	paired := models.BotStatusPaired
	if _, err := svc.Update(ctx, a.ID, models.BotUpdate{Status: &paired}); !errors.Is(err, bots.ErrValidation) {
		t.Errorf("Update(status=paired) error = %v, want ErrValidation", err)
	}
	bogus := models.BotStatus("sleeping")
	if _, err := svc.Update(ctx, a.ID, models.BotUpdate{Status: &bogus}); !errors.Is(err, bots.ErrValidation) {
		t.Errorf("Update(status=sleeping) error = %v, want ErrValidation", err)
	}

	if _, err := pairing.NewManager(s, matching.NewSeededEngine(1)).Create(ctx, a.ID, b.ID, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	online := models.BotStatusOnline
	if _, err := svc.Update(ctx, a.ID, models.BotUpdate{Status: &online}); !errors.Is(err, bots.ErrInvalidState) {
		t.Errorf("Update(paired bot) error = %v, want ErrInvalidState", err)
	}
	if _, err := svc.Update(ctx, "ghost", models.BotUpdate{}); !errors.Is(err, bots.ErrNotFound) {
		t.Errorf("Update(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestHeartbeat(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	b := register(t, svc, "alpha")

	got, err := svc.Heartbeat(ctx, b.ID)
	if err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if got.LastHeartbeat == nil {
		t.Error("LastHeartbeat not set")
	}

	if _, err := svc.Heartbeat(ctx, "ghost"); !errors.Is(err, bots.ErrNotFound) {
		t.Errorf("Heartbeat(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestHeartbeat_RevivesOfflineBot(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	b := register(t, svc, "alpha")

	if _, err := svc.Deregister(ctx, b.ID); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	got, err := svc.Heartbeat(ctx, b.ID)
	if err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if got.Status != models.BotStatusOnline {
		t.Errorf("Status after heartbeat = %q, want online", got.Status)
	}
}

func TestDeregister(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	a := register(t, svc, "a")
	b := register(t, svc, "b")
	c := register(t, svc, "c")

	got, err := svc.Deregister(ctx, c.ID)
	if err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if got.Status != models.BotStatusOffline {
		t.Errorf("Status = %q, want offline", got.Status)
	}

	if _, err := pairing.NewManager(s, nil).Create(ctx, a.ID, b.ID, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Deregister(ctx, a.ID); !errors.Is(err, bots.ErrInvalidState) {
		t.Errorf("Deregister(paired) error = %v, want ErrInvalidState", err)
	}
	if _, err := svc.Deregister(ctx, "ghost"); !errors.Is(err, bots.ErrNotFound) {
		t.Errorf("Deregister(unknown) error = %v, want ErrNotFound", err)
	}
}
