// Package handlers implements the HTTP and websocket handlers for the
// pairing plane.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/agentoven/agentoven/pairing-plane/internal/bots"
	"github.com/agentoven/agentoven/pairing-plane/internal/dispatch"
	"github.com/agentoven/agentoven/pairing-plane/internal/hub"
	"github.com/agentoven/agentoven/pairing-plane/internal/pairing"
	"github.com/agentoven/agentoven/pairing-plane/internal/store"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Bots     *bots.Service
	Pairs    *pairing.Manager
	Hub      *hub.Hub
	Dispatch *dispatch.Dispatcher
	WS       WSOptions
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, b *bots.Service, p *pairing.Manager, h *hub.Hub, d *dispatch.Dispatcher, ws WSOptions) *Handlers {
	return &Handlers{Store: s, Bots: b, Pairs: p, Hub: h, Dispatch: d, WS: ws}
}

// ══════════════════════════════════════════════════════════════
// ── Bot Handlers ─────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) RegisterBot(w http.ResponseWriter, r *http.Request) {
	var req models.BotCreate
	if !decode(w, r, &req) {
		return
	}
	bot, err := h.Bots.Register(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, bot)
}

func (h *Handlers) ListBots(w http.ResponseWriter, r *http.Request) {
	var (
		list []models.Bot
		err  error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		s := models.BotStatus(strings.ToLower(status))
		if !s.Valid() {
			respondError(w, http.StatusBadRequest, "unknown status "+status)
			return
		}
		list, err = h.Store.ListBotsByStatus(r.Context(), s)
	} else {
		list, err = h.Bots.List(r.Context())
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	if list == nil {
		list = []models.Bot{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) GetBot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.Bots.Get(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bot)
}

func (h *Handlers) UpdateBot(w http.ResponseWriter, r *http.Request) {
	var req models.BotUpdate
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "botID")
	before, err := h.Bots.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	bot, err := h.Bots.Update(r.Context(), id, req)
	if err != nil {
		respondErr(w, err)
		return
	}
	if bot.Status != before.Status {
		h.Dispatch.BotStatusChanged(bot.ID, bot.Status, bot.UpdatedAt)
	}
	respondJSON(w, http.StatusOK, bot)
}

func (h *Handlers) BotHeartbeat(w http.ResponseWriter, r *http.Request) {
	bot, err := h.Bots.Heartbeat(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bot)
}

func (h *Handlers) DeregisterBot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.Bots.Deregister(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	h.Dispatch.BotStatusChanged(bot.ID, bot.Status, bot.UpdatedAt)
	respondJSON(w, http.StatusOK, bot)
}

// ══════════════════════════════════════════════════════════════
// ── Pair Handlers ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) CreatePair(w http.ResponseWriter, r *http.Request) {
	var req models.PairCreate
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.Pairs.Create(r.Context(), req.PrimaryBotID, req.SecondaryBotID, req.Strategy)
	if err != nil {
		respondErr(w, err)
		return
	}
	h.Dispatch.PairCreated(pair)
	respondJSON(w, http.StatusCreated, pair)
}

func (h *Handlers) ListPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.Pairs.List(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondPairs(w, pairs)
}

func (h *Handlers) ListActivePairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.Pairs.ListActive(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondPairs(w, pairs)
}

func (h *Handlers) GetPair(w http.ResponseWriter, r *http.Request) {
	pair, err := h.Pairs.Get(r.Context(), chi.URLParam(r, "pairID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

func (h *Handlers) TerminatePair(w http.ResponseWriter, r *http.Request) {
	pair, err := h.Pairs.Terminate(r.Context(), chi.URLParam(r, "pairID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	h.Dispatch.PairTerminated(pair)
	respondJSON(w, http.StatusOK, pair)
}

func (h *Handlers) AutoPair(w http.ResponseWriter, r *http.Request) {
	strategy := r.URL.Query().Get("strategy")
	if strategy == "" {
		strategy = models.DefaultStrategy
	}
	pairs, err := h.Pairs.AutoPair(r.Context(), strategy)
	if err != nil {
		respondErr(w, err)
		return
	}
	for i := range pairs {
		h.Dispatch.PairCreated(&pairs[i])
	}
	respondPairs(w, pairs)
}

func (h *Handlers) ListStrategies(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"strategies": h.Pairs.Strategies()})
}

// ══════════════════════════════════════════════════════════════
// ── System Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) SystemStatus(w http.ResponseWriter, r *http.Request) {
	all, err := h.Bots.List(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	active, err := h.Pairs.ListActive(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}

	st := models.SystemStatus{
		TotalBots:           len(all),
		ActivePairs:         len(active),
		ActiveConnections:   h.Hub.Count(),
		AvailableStrategies: h.Pairs.Strategies(),
	}
	for _, b := range all {
		switch b.Status {
		case models.BotStatusOnline:
			st.OnlineBots++
		case models.BotStatusPaired:
			st.PairedBots++
		}
	}
	respondJSON(w, http.StatusOK, st)
}

// Ready reports whether the registry is reachable.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Readiness check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func respondPairs(w http.ResponseWriter, pairs []models.Pair) {
	if pairs == nil {
		pairs = []models.Pair{}
	}
	respondJSON(w, http.StatusOK, pairs)
}

// respondErr maps the service error kinds onto HTTP statuses.
func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Error().Err(err).Msg("Request failed")
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pairing.ErrValidation), errors.Is(err, bots.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pairing.ErrNotFound), errors.Is(err, bots.ErrNotFound), store.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, pairing.ErrInvalidState), errors.Is(err, bots.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
