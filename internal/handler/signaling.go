package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/peermeet/call-server-go/internal/errors"
	"github.com/peermeet/call-server-go/internal/signaling"
	"github.com/peermeet/call-server-go/internal/sse"
)

// SignalingHandler is the REST face of the relay mailbox. The SDP and
// candidate payloads are relayed verbatim; nothing here parses them. The
// broker is optional and only announces availability, never content.
type SignalingHandler struct {
	store  signaling.Store
	broker *sse.Broker
}

func NewSignalingHandler(store signaling.Store, broker *sse.Broker) *SignalingHandler {
	return &SignalingHandler{
		store:  store,
		broker: broker,
	}
}

func (h *SignalingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{roomID}/offer", h.PostOffer)
	r.Get("/{roomID}/offer", h.GetOffer)
	r.Post("/{roomID}/answer", h.PostAnswer)
	r.Get("/{roomID}/answer", h.GetAnswer)
	r.Post("/{roomID}/candidates", h.PostCandidate)
	r.Get("/{roomID}/candidates", h.DrainCandidates)
	r.Get("/{roomID}/events", h.Events)

	return r
}

type signalRequest struct {
	SDP string `json:"sdp"`
}

// POST /api/signaling/{roomID}/offer
func (h *SignalingHandler) PostOffer(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.SDP == "" {
		writeError(w, apperrors.MissingRequired("sdp"))
		return
	}

	if err := h.store.PostOffer(r.Context(), roomID, req.SDP); err != nil {
		writeError(w, err)
		return
	}

	h.announce(r, roomID, sse.EventOfferPosted)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GET /api/signaling/{roomID}/offer
func (h *SignalingHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	signal, err := h.store.GetOffer(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if signal == nil {
		writeError(w, apperrors.NotFound("Offer"))
		return
	}

	writeJSON(w, http.StatusOK, signal)
}

// POST /api/signaling/{roomID}/answer
func (h *SignalingHandler) PostAnswer(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.SDP == "" {
		writeError(w, apperrors.MissingRequired("sdp"))
		return
	}

	if err := h.store.PostAnswer(r.Context(), roomID, req.SDP); err != nil {
		writeError(w, err)
		return
	}

	h.announce(r, roomID, sse.EventAnswerPosted)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GET /api/signaling/{roomID}/answer
func (h *SignalingHandler) GetAnswer(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	signal, err := h.store.GetAnswer(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if signal == nil {
		writeError(w, apperrors.NotFound("Answer"))
		return
	}

	writeJSON(w, http.StatusOK, signal)
}

type candidateRequest struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

// POST /api/signaling/{roomID}/candidates
func (h *SignalingHandler) PostCandidate(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req candidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if len(req.Candidate) == 0 {
		writeError(w, apperrors.MissingRequired("candidate"))
		return
	}

	from := signaling.Role(req.From)
	if !from.Valid() {
		writeError(w, apperrors.InvalidInput("from", "must be host or guest"))
		return
	}

	if err := h.store.PostCandidate(r.Context(), roomID, req.Candidate, from); err != nil {
		writeError(w, err)
		return
	}

	h.announce(r, roomID, sse.EventCandidatePosted)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GET /api/signaling/{roomID}/candidates?role=host|guest
func (h *SignalingHandler) DrainCandidates(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	role := signaling.Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		writeError(w, apperrors.NotFound("Role"))
		return
	}

	exists, err := h.store.Exists(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !exists {
		writeError(w, apperrors.NotFound("Room"))
		return
	}

	candidates, err := h.store.DrainCandidates(r.Context(), roomID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	if candidates == nil {
		candidates = []json.RawMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

// announce publishes an availability event for the room. Failures are logged
// and swallowed; the poll endpoints carry the protocol on their own.
func (h *SignalingHandler) announce(r *http.Request, roomID, eventType string) {
	if h.broker == nil {
		return
	}
	event := sse.Event{Type: eventType}
	if err := h.broker.Publish(r.Context(), roomID, event); err != nil {
		log.Warn().Err(err).Str("roomId", roomID).Str("event", eventType).Msg("failed to publish room event")
	}
}

// GET /api/signaling/{roomID}/events
func (h *SignalingHandler) Events(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	if h.broker == nil {
		writeError(w, apperrors.NotFound("Event stream"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(roomID)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("roomId", roomID).Msg("sse connection established")

	if err := h.sendEvent(w, flusher, sse.Event{Type: "connected"}); err != nil {
		return
	}

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("roomId", roomID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("roomId", roomID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("roomId", roomID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *SignalingHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	data := event.Data
	if data == nil {
		data = json.RawMessage(`{}`)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
