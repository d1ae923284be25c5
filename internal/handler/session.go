package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/peermeet/call-server-go/internal/errors"
	"github.com/peermeet/call-server-go/internal/middleware"
	"github.com/peermeet/call-server-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
	signerService  *service.SignerService
}

func NewSessionHandler(sessionService *service.SessionService, signerService *service.SignerService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		signerService:  signerService,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/me", h.Me)
	r.Post("/revoke", h.Revoke)
	r.Post("/ephemeral-key", h.IssueEphemeralKey)
	r.Post("/auto-sign", h.AutoSign)

	return r
}

// sessionID pulls the session from the verified credential. The auth
// middleware guarantees claims are present on these routes.
func sessionID(r *http.Request) (string, error) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil || claims.SessionID == "" {
		return "", apperrors.InvalidCredential()
	}
	return claims.SessionID, nil
}

// GET /api/sessions/me
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	info, err := h.sessionService.Me(r.Context(), sid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// POST /api/sessions/revoke
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.sessionService.Revoke(r.Context(), sid); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// scopeList accepts both wire forms of a scope field: a JSON array of
// strings or a single bare string.
type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = scopeList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = scopeList(many)
	return nil
}

type ephemeralKeyRequest struct {
	Scope scopeList `json:"scope"`
}

// POST /api/sessions/ephemeral-key
func (h *SessionHandler) IssueEphemeralKey(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req ephemeralKeyRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.ValidationError("Invalid request body"))
			return
		}
	}

	result, err := h.signerService.IssueEphemeralKey(r.Context(), sid, []string(req.Scope))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type autoSignRequest struct {
	TxPayload json.RawMessage `json:"txPayload"`
	Scope     scopeList       `json:"scope"`
}

// POST /api/sessions/auto-sign
func (h *SessionHandler) AutoSign(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req autoSignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if len(req.TxPayload) == 0 {
		writeError(w, apperrors.MissingRequired("txPayload"))
		return
	}
	if len(req.Scope) == 0 {
		writeError(w, apperrors.MissingRequired("scope"))
		return
	}

	// The payload is opaque. A JSON string is signed as its decoded bytes;
	// anything else is signed as the raw JSON.
	payload := []byte(req.TxPayload)
	var asString string
	if err := json.Unmarshal(req.TxPayload, &asString); err == nil {
		payload = []byte(asString)
	}

	result, err := h.signerService.AutoSign(r.Context(), sid, payload, []string(req.Scope))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
