// Package dispatch turns pair lifecycle events into frames on the live
// channels and routes the frames bots and monitors send in.
//
// Pair events go to both participants first and are then broadcast, so a
// participant normally receives them twice. Relayed pair_message frames are
// not checked against the pair table.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/eventbus"
	"github.com/agentoven/agentoven/pairing-plane/internal/hub"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// Heartbeater records that a bot is alive.
type Heartbeater interface {
	Heartbeat(ctx context.Context, botID string) (*models.Bot, error)
}

// Dispatcher routes frames through a hub.
type Dispatcher struct {
	hub   *hub.Hub
	bus   *eventbus.Bus
	beats Heartbeater
}

// New creates a dispatcher. bus and beats may be nil.
func New(h *hub.Hub, bus *eventbus.Bus, beats Heartbeater) *Dispatcher {
	return &Dispatcher{hub: h, bus: bus, beats: beats}
}

// ── Lifecycle events ─────────────────────────────────────────

// PairCreated notifies both participants and then every live connection.
func (d *Dispatcher) PairCreated(p *models.Pair) {
	d.notifyPair(FramePairCreated, p, p.CreatedAt)
}

// PairTerminated mirrors PairCreated for a terminated pair.
func (d *Dispatcher) PairTerminated(p *models.Pair) {
	at := p.CreatedAt
	if p.TerminatedAt != nil {
		at = *p.TerminatedAt
	}
	d.notifyPair(FramePairTerminated, p, at)
}

func (d *Dispatcher) notifyPair(frameType string, p *models.Pair, at time.Time) {
	data, ok := encode(PairFrame{
		Type:           frameType,
		PairID:         p.ID,
		PrimaryBotID:   p.PrimaryBotID,
		SecondaryBotID: p.SecondaryBotID,
		Strategy:       p.Strategy,
		Timestamp:      at.UTC().Format(time.RFC3339Nano),
	})
	if !ok {
		return
	}

	d.hub.SendTo(p.PrimaryBotID, data)
	d.hub.SendTo(p.SecondaryBotID, data)
	n := d.hub.Broadcast(data)
	d.bus.Emit(frameType, data)

	log.Debug().Str("event", frameType).Str("pair", p.ID).Int("broadcast", n).Msg("Pair event dispatched")
}

// BotStatusChanged broadcasts a status change made by the server itself,
// such as the reaper taking a silent bot offline.
func (d *Dispatcher) BotStatusChanged(botID string, status models.BotStatus, at time.Time) {
	ts, _ := json.Marshal(at.UTC().Format(time.RFC3339Nano))
	d.broadcastStatus(botID, string(status), ts)
}

func (d *Dispatcher) broadcastStatus(botID, status string, ts json.RawMessage) {
	data, ok := encode(BotStatusFrame{
		Type:      FrameBotStatusUpdate,
		BotID:     botID,
		Status:    status,
		Timestamp: ts,
	})
	if !ok {
		return
	}
	d.hub.Broadcast(data)
	d.bus.Emit(FrameBotStatusUpdate, data)
}

// ── Connect ──────────────────────────────────────────────────

// Welcome greets a bot that just connected.
func (d *Dispatcher) Welcome(botID string) {
	d.send(botID, WelcomeFrame{Type: FrameWelcome, BotID: botID, Message: welcomeMessage})
}

// MonitorStatus sends a monitor the current connection counts.
func (d *Dispatcher) MonitorStatus(monitorID string) {
	ids := d.hub.IDs()
	bots := 0
	for _, id := range ids {
		if !IsMonitorID(id) {
			bots++
		}
	}
	d.send(monitorID, StatusFrame{
		Type:              FrameStatus,
		ActiveConnections: len(ids),
		ConnectedBots:     bots,
	})
}

// ── Inbound ──────────────────────────────────────────────────

// HandleBotFrame routes one frame received on a bot's channel.
func (d *Dispatcher) HandleBotFrame(ctx context.Context, botID string, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Debug().Err(err).Str("bot", botID).Msg("Malformed frame")
		d.sendError(botID, "Invalid JSON format")
		return
	}
	if in.Type == "" {
		d.sendError(botID, missingTypeMessage)
		return
	}

	switch in.Type {
	case FrameHeartbeat:
		d.send(botID, EchoFrame{Type: FrameHeartbeatAck, Timestamp: in.Timestamp})
		if d.beats != nil {
			if _, err := d.beats.Heartbeat(ctx, botID); err != nil {
				log.Debug().Err(err).Str("bot", botID).Msg("Heartbeat not recorded")
			}
		}

	case FrameStatusUpdate:
		log.Info().Str("bot", botID).Str("status", in.Status).Msg("Bot status update")
		d.broadcastStatus(botID, in.Status, in.Timestamp)

	case FramePairMessage:
		if in.TargetBotID == "" {
			d.sendError(botID, "pair_message requires target_bot_id")
			return
		}
		d.send(in.TargetBotID, RelayFrame{
			Type:        FramePairMessage,
			FromBotID:   botID,
			TargetBotID: in.TargetBotID,
			Message:     in.Message,
			Timestamp:   in.Timestamp,
		})

	case FramePing:
		d.send(botID, EchoFrame{Type: FramePong, Timestamp: in.Timestamp})

	default:
		log.Warn().Str("bot", botID).Str("type", in.Type).Msg("Unknown message type from bot")
	}
}

// HandleMonitorFrame routes one frame received on a monitor's channel.
// Monitors only ping; anything else is ignored.
func (d *Dispatcher) HandleMonitorFrame(_ context.Context, monitorID string, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		d.sendError(monitorID, "Invalid JSON format")
		return
	}
	if in.Type == "" {
		d.sendError(monitorID, missingTypeMessage)
		return
	}
	if in.Type == FramePing {
		d.send(monitorID, EchoFrame{Type: FramePong, Timestamp: in.Timestamp})
	}
}

// ── Helpers ──────────────────────────────────────────────────

func (d *Dispatcher) send(id string, frame any) {
	if data, ok := encode(frame); ok {
		d.hub.SendTo(id, data)
	}
}

func (d *Dispatcher) sendError(id, msg string) {
	d.send(id, ErrorFrame{Type: FrameError, Message: msg})
}

// encode marshals an outbound frame. HTML escaping is off so raw values
// relayed from a sender go out as they came in, apart from whitespace.
func encode(frame any) ([]byte, bool) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(frame); err != nil {
		log.Error().Err(err).Msg("Failed to encode frame")
		return nil, false
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), true
}
