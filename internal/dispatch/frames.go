package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Frame types on the live channels.
const (
	FrameWelcome         = "welcome"
	FrameStatus          = "status"
	FrameHeartbeat       = "heartbeat"
	FrameHeartbeatAck    = "heartbeat_ack"
	FrameStatusUpdate    = "status_update"
	FrameBotStatusUpdate = "bot_status_update"
	FramePairMessage     = "pair_message"
	FramePairCreated     = "pair_created"
	FramePairTerminated  = "pair_terminated"
	FramePing            = "ping"
	FramePong            = "pong"
	FrameError           = "error"
)

const (
	welcomeMessage     = "Connected to the bot pairing plane"
	missingTypeMessage = "Frame must be a JSON object with a type"
)

// inbound is the union of every frame a bot or monitor may send. Timestamp
// and Message are kept raw so their values are echoed back unchanged.
type inbound struct {
	Type        string          `json:"type"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
	Status      string          `json:"status,omitempty"`
	TargetBotID string          `json:"target_bot_id,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
}

// ── Outbound frames ──────────────────────────────────────────

type WelcomeFrame struct {
	Type    string `json:"type"`
	BotID   string `json:"bot_id"`
	Message string `json:"message"`
}

type StatusFrame struct {
	Type              string `json:"type"`
	ActiveConnections int    `json:"active_connections"`
	ConnectedBots     int    `json:"connected_bots"`
}

// EchoFrame answers heartbeat and ping frames.
type EchoFrame struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type BotStatusFrame struct {
	Type      string          `json:"type"`
	BotID     string          `json:"bot_id"`
	Status    string          `json:"status"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// RelayFrame is a pair_message as delivered to its target.
type RelayFrame struct {
	Type        string          `json:"type"`
	FromBotID   string          `json:"from_bot_id"`
	TargetBotID string          `json:"target_bot_id"`
	Message     json.RawMessage `json:"message"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// PairFrame announces a pair_created or pair_terminated event.
type PairFrame struct {
	Type           string `json:"type"`
	PairID         string `json:"pair_id"`
	PrimaryBotID   string `json:"primary_bot_id"`
	SecondaryBotID string `json:"secondary_bot_id"`
	Strategy       string `json:"pairing_strategy,omitempty"`
	Timestamp      string `json:"timestamp"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ── Monitor ids ──────────────────────────────────────────────

const monitorPrefix = "monitor-"

// NewMonitorID returns a fresh id for a monitor connection. Monitors share
// the hub with bots; the prefix keeps them apart in counts.
func NewMonitorID() string {
	return monitorPrefix + uuid.New().String()
}

// IsMonitorID reports whether id was produced by NewMonitorID.
func IsMonitorID(id string) bool {
	return strings.HasPrefix(id, monitorPrefix)
}
