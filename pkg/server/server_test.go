package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/agentoven/pairing-plane/internal/config"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/agentoven/agentoven/pairing-plane/pkg/server"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Port = 0
	cfg.Store.DataDir = t.TempDir()
	cfg.Retention.PairTTL = time.Hour
	cfg.Retention.ArchiveDir = t.TempDir()
	return cfg
}

func TestNewWiresHandler(t *testing.T) {
	srv, err := server.New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/strategies", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	bot, err := srv.Bots.Register(context.Background(), models.BotCreate{Name: "a", Type: "chat"})
	require.NoError(t, err)
	assert.Equal(t, models.BotStatusOnline, bot.Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv, err := server.New(context.Background(), testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOpenStoreMemory(t *testing.T) {
	s, err := server.OpenStore(context.Background(), config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}
