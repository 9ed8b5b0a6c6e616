package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/walletgate/apiserver/internal/services"
	"github.com/walletgate/apiserver/internal/storage"
	"github.com/walletgate/apiserver/internal/store"
	"github.com/walletgate/apiserver/types"
)

// AuthHandler provides the authentication and profile endpoints.
type AuthHandler struct {
	service *services.AuthService
	avatars *storage.AvatarStore
	logger  *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
// avatars may be nil when object storage is not configured.
func NewAuthHandler(service *services.AuthService, avatars *storage.AvatarStore, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: service, avatars: avatars, logger: logger}
}

// AuthRouter registers the auth routes on the given router.
func AuthRouter(r chi.Router, service *services.AuthService, avatars *storage.AvatarStore, logger *slog.Logger) {
	handler := NewAuthHandler(service, avatars, logger)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/challenge", handler.Challenge)
	r.Post("/verify", handler.Verify)

	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAuth)
		r.With(handler.recordActivity(types.EventProfileView)).Get("/profile", handler.Profile)
		r.Put("/profile", handler.UpdateProfile)
		r.Post("/profile/avatar", handler.UploadAvatar)
		r.Get("/profile/avatar", handler.GetAvatar)
		r.Delete("/profile/avatar", handler.DeleteAvatar)
		r.Get("/activity", handler.Activity)
	})
}

// RequireAuth enforces bearer authentication and injects the subject into
// the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "missing bearer token")
			return
		}

		userID, kind, err := h.service.VerifyToken(tokenString)
		if err != nil {
			writeAppError(w, h.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), contextSubjectKey, userID)
		ctx = context.WithValue(ctx, contextSubjectKindKey, string(kind))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recordActivity appends an activity event after a successful response.
func (h *AuthHandler) recordActivity(eventKind string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			if sw.status >= 400 {
				return
			}
			if userID, err := userIDFromContext(r.Context()); err == nil {
				h.service.RecordActivity(r.Context(), userID, eventKind, nil)
			}
		})
	}
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChallengeRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type VerifyRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
}

type UpdateProfileRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

type AuthResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type VerifyResponse struct {
	User      types.User `json:"user"`
	Token     string     `json:"token"`
	IsNewUser bool       `json:"isNewUser"`
}

type ChallengePayload struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ChallengeResponse struct {
	Challenge ChallengePayload `json:"challenge"`
}

type UserResponse struct {
	User types.User `json:"user"`
}

type ActivityResponse struct {
	Activity []types.ActivityRecord `json:"activity"`
}

// Register creates an email/password account and returns a session token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	result, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{User: result.User, Token: result.Token})
}

// Login verifies an email/password pair and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{User: result.User, Token: result.Token})
}

// Challenge issues a signing challenge for a wallet address.
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	challenge, err := h.service.IssueChallenge(r.Context(), req.WalletAddress)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ChallengeResponse{Challenge: ChallengePayload{
		Nonce:     challenge.Nonce,
		Message:   challenge.Message,
		ExpiresAt: challenge.ExpiresAt,
	}})
}

// Verify checks a challenge signature and signs the wallet's user in,
// creating the account on first contact.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	result, err := h.service.VerifyWallet(r.Context(), req.WalletAddress, req.Signature)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		User:      result.User,
		Token:     result.Token,
		IsNewUser: result.IsNewUser,
	})
}

// Profile returns the authenticated user.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "unauthorized")
		return
	}

	user, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

// UpdateProfile applies a partial profile update to the authenticated user.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "unauthorized")
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), userID, store.ProfileUpdate{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// Activity returns the authenticated user's activity history.
func (h *AuthHandler) Activity(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "unauthorized")
		return
	}

	limit := int64(defaultActivityLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		if parsed > maxActivityLimit {
			parsed = maxActivityLimit
		}
		limit = parsed
	}

	records, err := h.service.Activity(r.Context(), userID, limit)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []types.ActivityRecord{}
	}
	writeJSON(w, http.StatusOK, ActivityResponse{Activity: records})
}
