package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ── Bot ──────────────────────────────────────────────────────

type BotStatus string

const (
	BotStatusOffline BotStatus = "offline"
	BotStatusOnline  BotStatus = "online"
	BotStatusPaired  BotStatus = "paired"
	BotStatusBusy    BotStatus = "busy"
	BotStatusError   BotStatus = "error"
)

// Valid reports whether s is one of the known bot statuses.
func (s BotStatus) Valid() bool {
	switch s {
	case BotStatusOffline, BotStatusOnline, BotStatusPaired, BotStatusBusy, BotStatusError:
		return true
	}
	return false
}

// Bot is a registered worker agent. The registry owns the record; the
// pairing manager only flips Status between online and paired.
type Bot struct {
	ID            string       `json:"id" db:"id"`
	Name          string       `json:"name" db:"name"`
	Type          string       `json:"bot_type" db:"bot_type"`
	Endpoint      string       `json:"endpoint" db:"endpoint"`
	Capabilities  Capabilities `json:"capabilities" db:"capabilities"`
	Status        BotStatus    `json:"status" db:"status"`
	LastHeartbeat *time.Time   `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

// ── Capabilities ─────────────────────────────────────────────

// Capabilities is an unordered set of capability tags. It is kept sorted
// and de-duplicated so that equal sets compare and serialize identically.
//
// On the wire it is a JSON array, but a comma-joined string ("a,b") is also
// accepted for clients that register with the older flat format.
type Capabilities []string

// NewCapabilities normalizes tags into a set: trimmed, empty tags dropped,
// sorted, de-duplicated.
func NewCapabilities(tags ...string) Capabilities {
	seen := make(map[string]struct{}, len(tags))
	out := make(Capabilities, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ParseCapabilities splits a comma-joined tag list.
func ParseCapabilities(s string) Capabilities {
	if strings.TrimSpace(s) == "" {
		return Capabilities{}
	}
	return NewCapabilities(strings.Split(s, ",")...)
}

// Key is the sorted, comma-joined representation used for ordering.
func (c Capabilities) Key() string {
	return strings.Join(NewCapabilities(c...), ",")
}

// Equal reports set equality.
func (c Capabilities) Equal(other Capabilities) bool {
	return c.Key() == other.Key()
}

// UnionSize returns |c ∪ other|.
func (c Capabilities) UnionSize(other Capabilities) int {
	u := make(map[string]struct{}, len(c)+len(other))
	for _, t := range c {
		u[t] = struct{}{}
	}
	for _, t := range other {
		u[t] = struct{}{}
	}
	return len(u)
}

func (c *Capabilities) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Capabilities{}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*c = NewCapabilities(list...)
		return nil
	}
	var flat string
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("capabilities must be a list or a comma-separated string")
	}
	*c = ParseCapabilities(flat)
	return nil
}

func (c Capabilities) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(c))
}

// ── Pair ─────────────────────────────────────────────────────

type PairStatus string

const (
	PairStatusActive     PairStatus = "active"
	PairStatusTerminated PairStatus = "terminated"
)

// Pair is an exclusive two-bot collaboration session.
type Pair struct {
	ID             string     `json:"id" db:"id"`
	PrimaryBotID   string     `json:"primary_bot_id" db:"primary_bot_id"`
	SecondaryBotID string     `json:"secondary_bot_id" db:"secondary_bot_id"`
	Status         PairStatus `json:"status" db:"status"`
	Strategy       string     `json:"pairing_strategy" db:"pairing_strategy"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	TerminatedAt   *time.Time `json:"terminated_at,omitempty" db:"terminated_at"`
}

// Involves reports whether botID participates in the pair.
func (p *Pair) Involves(botID string) bool {
	return p.PrimaryBotID == botID || p.SecondaryBotID == botID
}

// ── API payloads ─────────────────────────────────────────────

// DefaultStrategy is the strategy used when a request names none.
const DefaultStrategy = "default"

// BotCreate is the registration request body.
type BotCreate struct {
	Name         string       `json:"name"`
	Type         string       `json:"bot_type"`
	Endpoint     string       `json:"endpoint"`
	Capabilities Capabilities `json:"capabilities"`
}

// BotUpdate carries optional field updates; nil fields are left unchanged.
type BotUpdate struct {
	Name         *string       `json:"name,omitempty"`
	Endpoint     *string       `json:"endpoint,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
	Status       *BotStatus    `json:"status,omitempty"`
}

// PairCreate is the manual pairing request body.
type PairCreate struct {
	PrimaryBotID   string `json:"primary_bot_id"`
	SecondaryBotID string `json:"secondary_bot_id"`
	Strategy       string `json:"pairing_strategy"`
}

// SystemStatus is the summary returned by the status endpoint.
type SystemStatus struct {
	TotalBots           int      `json:"total_bots"`
	OnlineBots          int      `json:"online_bots"`
	PairedBots          int      `json:"paired_bots"`
	ActivePairs         int      `json:"active_pairs"`
	ActiveConnections   int      `json:"active_connections"`
	AvailableStrategies []string `json:"available_strategies"`
}
