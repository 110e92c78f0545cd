package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/agentoven/pairing-plane/internal/dispatch"
	"github.com/agentoven/agentoven/pairing-plane/internal/hub"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeConn) Close() error { return nil }

// decoded returns every frame received, decoded into generic maps.
func (f *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, raw := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) raw() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

type fakeBeats struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (b *fakeBeats) Heartbeat(_ context.Context, id string) (*models.Bot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, id)
	if b.err != nil {
		return nil, b.err
	}
	return &models.Bot{ID: id}, nil
}

func setup() (*hub.Hub, *dispatch.Dispatcher, *fakeBeats) {
	h := hub.New()
	beats := &fakeBeats{}
	return h, dispatch.New(h, nil, beats), beats
}

func TestPairCreated_TargetedThenBroadcast(t *testing.T) {
	h, d, _ := setup()
	a, b, mon := &fakeConn{}, &fakeConn{}, &fakeConn{}
	h.Register("A", a)
	h.Register("B", b)
	h.Register(dispatch.NewMonitorID(), mon)

	created := time.Date(2026, 3, 4, 5, 6, 7, 891011121, time.UTC)
	d.PairCreated(&models.Pair{
		ID: "p1", PrimaryBotID: "A", SecondaryBotID: "B",
		Status: models.PairStatusActive, Strategy: "default", CreatedAt: created,
	})

	// Participants: targeted copy plus broadcast copy.
	require.Len(t, a.decoded(t), 2)
	require.Len(t, b.decoded(t), 2)
	require.Len(t, mon.decoded(t), 1)

	frame := a.decoded(t)[0]
	assert.Equal(t, "pair_created", frame["type"])
	assert.Equal(t, "p1", frame["pair_id"])
	assert.Equal(t, "A", frame["primary_bot_id"])
	assert.Equal(t, "B", frame["secondary_bot_id"])
	assert.Equal(t, created.Format(time.RFC3339Nano), frame["timestamp"])

	// Every delivery carries identical bytes.
	assert.Equal(t, a.raw()[0], mon.raw()[0])
}

func TestPairTerminated_UsesTerminationTime(t *testing.T) {
	h, d, _ := setup()
	a := &fakeConn{}
	h.Register("A", a)

	ended := time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC)
	d.PairTerminated(&models.Pair{
		ID: "p1", PrimaryBotID: "A", SecondaryBotID: "B",
		Status: models.PairStatusTerminated, TerminatedAt: &ended,
	})

	frames := a.decoded(t)
	require.Len(t, frames, 2)
	assert.Equal(t, "pair_terminated", frames[0]["type"])
	assert.Equal(t, ended.Format(time.RFC3339Nano), frames[0]["timestamp"])
}

func TestPairMessage_RelayPreservesTimestamp(t *testing.T) {
	h, d, _ := setup()
	sender, target := &fakeConn{}, &fakeConn{}
	h.Register("A", sender)
	h.Register("B", target)

	d.HandleBotFrame(context.Background(), "A",
		[]byte(`{"type":"pair_message","target_bot_id":"B","message":{"text":"hi"},"timestamp":1712345678.123456789}`))

	raw := target.raw()
	require.Len(t, raw, 1)
	var relay struct {
		Type      string          `json:"type"`
		From      string          `json:"from_bot_id"`
		Message   json.RawMessage `json:"message"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(raw[0], &relay))
	assert.Equal(t, "pair_message", relay.Type)
	assert.Equal(t, "A", relay.From)
	assert.JSONEq(t, `{"text":"hi"}`, string(relay.Message))
	assert.Equal(t, "1712345678.123456789", string(relay.Timestamp))
	assert.Empty(t, sender.raw())
}

func TestPairMessage_NoTarget(t *testing.T) {
	h, d, _ := setup()
	a := &fakeConn{}
	h.Register("A", a)

	d.HandleBotFrame(context.Background(), "A", []byte(`{"type":"pair_message","message":"x"}`))

	frames := a.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
}

func TestPairMessage_UnconnectedTargetIsDropped(t *testing.T) {
	h, d, _ := setup()
	a := &fakeConn{}
	h.Register("A", a)

	d.HandleBotFrame(context.Background(), "A", []byte(`{"type":"pair_message","target_bot_id":"ghost","message":"x"}`))
	assert.Empty(t, a.raw())
	assert.Equal(t, 1, h.Count())
}

func TestHeartbeat_AcksAndRecords(t *testing.T) {
	h, d, beats := setup()
	a := &fakeConn{}
	h.Register("A", a)

	d.HandleBotFrame(context.Background(), "A", []byte(`{"type":"heartbeat","timestamp":"2026-01-01T00:00:00Z"}`))

	raw := a.raw()
	require.Len(t, raw, 1)
	assert.JSONEq(t, `{"type":"heartbeat_ack","timestamp":"2026-01-01T00:00:00Z"}`, string(raw[0]))
	assert.Equal(t, []string{"A"}, beats.seen)
}

func TestHeartbeat_RegistryFailureStillAcks(t *testing.T) {
	h, d, beats := setup()
	beats.err = errors.New("unknown bot")
	a := &fakeConn{}
	h.Register("A", a)

	d.HandleBotFrame(context.Background(), "A", []byte(`{"type":"heartbeat","timestamp":1}`))
	require.Len(t, a.raw(), 1)
}

func TestStatusUpdate_Broadcasts(t *testing.T) {
	h, d, _ := setup()
	a, mon := &fakeConn{}, &fakeConn{}
	h.Register("A", a)
	h.Register("monitor-1", mon)

	d.HandleBotFrame(context.Background(), "A", []byte(`{"type":"status_update","status":"busy","timestamp":42}`))

	for _, c := range []*fakeConn{a, mon} {
		raw := c.raw()
		require.Len(t, raw, 1)
		assert.JSONEq(t, `{"type":"bot_status_update","bot_id":"A","status":"busy","timestamp":42}`, string(raw[0]))
	}
}

func TestMalformedFrame_ErrorAndStaysConnected(t *testing.T) {
	h, d, _ := setup()
	a := &fakeConn{}
	h.Register("A", a)

	d.HandleBotFrame(context.Background(), "A", []byte(`{not json`))

	raw := a.raw()
	require.Len(t, raw, 1)
	assert.JSONEq(t, `{"type":"error","message":"Invalid JSON format"}`, string(raw[0]))
	assert.True(t, h.Has("A"))
}

func TestFrameWithoutType_Error(t *testing.T) {
	h, d, _ := setup()
	a := &fakeConn{}
	h.Register("A", a)

	for _, frame := range []string{`null`, `{}`, `{"type":""}`} {
		d.HandleBotFrame(context.Background(), "A", []byte(frame))
	}

	frames := a.decoded(t)
	require.Len(t, frames, 3)
	for _, f := range frames {
		assert.Equal(t, "error", f["type"])
	}
	assert.True(t, h.Has("A"))
}

func TestMonitorFrameWithoutType_Error(t *testing.T) {
	h, d, _ := setup()
	mon := &fakeConn{}
	h.Register("monitor-x", mon)

	d.HandleMonitorFrame(context.Background(), "monitor-x", []byte(`{}`))

	frames := mon.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
}

func TestPairMessage_RelayDoesNotEscapeHTML(t *testing.T) {
	h, d, _ := setup()
	h.Register("A", &fakeConn{})
	target := &fakeConn{}
	h.Register("B", target)

	d.HandleBotFrame(context.Background(), "A",
		[]byte(`{"type":"pair_message","target_bot_id":"B","message":{"html":"<b>&</b>"},"timestamp":"<x>"}`))

	raw := target.raw()
	require.Len(t, raw, 1)
	assert.Contains(t, string(raw[0]), `"timestamp":"<x>"`)
	assert.Contains(t, string(raw[0]), `"message":{"html":"<b>&</b>"}`)
	assert.NotContains(t, string(raw[0]), `\u003c`)
	assert.False(t, strings.HasSuffix(string(raw[0]), "\n"))
}

func TestUnknownFrameIsIgnored(t *testing.T) {
	h, d, _ := setup()
	a := &fakeConn{}
	h.Register("A", a)

	d.HandleBotFrame(context.Background(), "A", []byte(`{"type":"dance"}`))
	assert.Empty(t, a.raw())
}

func TestWelcomeAndMonitorStatus(t *testing.T) {
	h, d, _ := setup()
	a, mon := &fakeConn{}, &fakeConn{}
	h.Register("A", a)
	monID := dispatch.NewMonitorID()
	h.Register(monID, mon)

	d.Welcome("A")
	d.MonitorStatus(monID)

	welcome := a.decoded(t)
	require.Len(t, welcome, 1)
	assert.Equal(t, "welcome", welcome[0]["type"])
	assert.Equal(t, "A", welcome[0]["bot_id"])

	status := mon.decoded(t)
	require.Len(t, status, 1)
	assert.Equal(t, "status", status[0]["type"])
	assert.Equal(t, float64(2), status[0]["active_connections"])
	assert.Equal(t, float64(1), status[0]["connected_bots"])
}

func TestMonitorPing(t *testing.T) {
	h, d, _ := setup()
	mon := &fakeConn{}
	h.Register("monitor-x", mon)

	d.HandleMonitorFrame(context.Background(), "monitor-x", []byte(`{"type":"ping","timestamp":7}`))
	d.HandleMonitorFrame(context.Background(), "monitor-x", []byte(`{"type":"other"}`))

	raw := mon.raw()
	require.Len(t, raw, 1)
	assert.JSONEq(t, `{"type":"pong","timestamp":7}`, string(raw[0]))
}

func TestBotStatusChanged(t *testing.T) {
	h, d, _ := setup()
	mon := &fakeConn{}
	h.Register("monitor-x", mon)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	d.BotStatusChanged("A", models.BotStatusOffline, at)

	frames := mon.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "bot_status_update", frames[0]["type"])
	assert.Equal(t, "offline", frames[0]["status"])
	assert.Equal(t, at.Format(time.RFC3339Nano), frames[0]["timestamp"])
}
