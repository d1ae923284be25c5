package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/peermeet/call-server-go/internal/errors"
	"github.com/peermeet/call-server-go/internal/model"
	"github.com/peermeet/call-server-go/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/nonce", h.IssueNonce)
	r.Post("/verify", h.Verify)
	r.Post("/refresh", h.Refresh)

	return r
}

type nonceRequest struct {
	WalletAddress string `json:"walletAddress"`
}

// POST /api/auth/nonce
func (h *AuthHandler) IssueNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.WalletAddress == "" {
		writeError(w, apperrors.MissingRequired("walletAddress"))
		return
	}

	nonce, err := h.authService.IssueNonce(r.Context(), req.WalletAddress)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"nonce":     nonce.Nonce,
		"expiresAt": nonce.ExpiresAt,
	})
}

type verifyRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	WalletType    string `json:"walletType"`
}

// POST /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.WalletAddress == "" {
		writeError(w, apperrors.MissingRequired("walletAddress"))
		return
	}
	if req.Signature == "" {
		writeError(w, apperrors.MissingRequired("signature"))
		return
	}

	walletType := model.WalletTypeSui
	if req.WalletType != "" {
		walletType = model.WalletType(req.WalletType)
	}

	result, err := h.authService.VerifyWallet(r.Context(), req.WalletAddress, req.Signature, walletType)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  result.AccessToken,
		"refreshToken": result.RefreshToken,
		"session":      result.Session,
		"user":         result.User,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.RefreshToken == "" {
		writeError(w, apperrors.MissingRequired("refreshToken"))
		return
	}

	accessToken, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"accessToken": accessToken,
	})
}
