package handlers

import (
	"net/http"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/dispatch"
	"github.com/agentoven/agentoven/pairing-plane/internal/hub"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSOptions configures the live channel endpoints.
type WSOptions struct {
	ReadLimit      int64
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

func (h *Handlers) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin accepts requests with no Origin header (non-browser bots) and
// browser requests from an allowed origin.
func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.WS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// BotSocket serves a bot's live channel. The receive loop runs until the
// bot disconnects; a newer connection for the same bot supersedes it.
func (h *Handlers) BotSocket(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if dispatch.IsMonitorID(botID) {
		// Monitor ids share the hub namespace; a bot must not take one.
		respondError(w, http.StatusBadRequest, "bot id must not start with the monitor prefix")
		return
	}
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("bot", botID).Msg("WebSocket upgrade failed")
		return
	}

	c := hub.NewWSConn(conn, h.WS.ReadLimit, h.WS.WriteTimeout)
	h.Hub.Register(botID, c)
	log.Info().Str("bot", botID).Str("remote", r.RemoteAddr).Msg("Bot connected")

	defer func() {
		h.Hub.UnregisterConn(botID, c)
		c.Close()
		log.Info().Str("bot", botID).Msg("Bot disconnected")
	}()

	h.Dispatch.Welcome(botID)

	ctx := r.Context()
	for {
		data, err := c.ReadMessage()
		if err != nil {
			logReadErr(err, "bot", botID)
			return
		}
		h.Dispatch.HandleBotFrame(ctx, botID, data)
	}
}

// MonitorSocket serves a monitoring dashboard. Each monitor gets its own
// id, so any number of them can watch at once.
func (h *Handlers) MonitorSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id := dispatch.NewMonitorID()
	c := hub.NewWSConn(conn, h.WS.ReadLimit, h.WS.WriteTimeout)
	h.Hub.Register(id, c)
	log.Info().Str("monitor", id).Str("remote", r.RemoteAddr).Msg("Monitor connected")

	defer func() {
		h.Hub.UnregisterConn(id, c)
		c.Close()
		log.Info().Str("monitor", id).Msg("Monitor disconnected")
	}()

	h.Dispatch.MonitorStatus(id)

	ctx := r.Context()
	for {
		data, err := c.ReadMessage()
		if err != nil {
			logReadErr(err, "monitor", id)
			return
		}
		h.Dispatch.HandleMonitorFrame(ctx, id, data)
	}
}

func logReadErr(err error, kind, id string) {
	if hub.IsClosedError(err) {
		return
	}
	log.Debug().Err(err).Str(kind, id).Msg("WebSocket read ended")
}
