package handlers

import (
	"bufio"
	"io"
	"net/http"

	"github.com/walletgate/apiserver/internal/storage"
	"github.com/walletgate/apiserver/types"
)

const maxAvatarBytes = 5 << 20

// UploadAvatar stores the authenticated user's avatar in object storage.
func (h *AuthHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "unauthorized")
		return
	}
	if h.avatars == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "avatar storage is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "avatar file is required")
		return
	}
	defer file.Close()

	if header.Size > maxAvatarBytes {
		writeError(w, http.StatusBadRequest, "validation_error", "avatar exceeds the size limit")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if err := h.avatars.Put(r.Context(), userID, file, header.Size, contentType); err != nil {
		writeAppError(w, h.logger, err)
		return
	}

	h.service.RecordActivity(r.Context(), userID, types.EventAvatarUpload, map[string]any{
		"size":        header.Size,
		"contentType": contentType,
	})
	writeJSON(w, http.StatusOK, map[string]string{"key": storage.Key(userID)})
}

// GetAvatar streams the authenticated user's avatar. Object stores report
// a missing key lazily, so the first byte is probed before headers go out.
func (h *AuthHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "unauthorized")
		return
	}
	if h.avatars == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "avatar storage is not configured")
		return
	}

	reader, err := h.avatars.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no avatar uploaded")
		return
	}
	defer reader.Close()

	buffered := bufio.NewReader(reader)
	if _, err := buffered.Peek(1); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no avatar uploaded")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, buffered)
}

// DeleteAvatar removes the authenticated user's avatar.
func (h *AuthHandler) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "unauthorized")
		return
	}
	if h.avatars == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "avatar storage is not configured")
		return
	}

	if err := h.avatars.Delete(r.Context(), userID); err != nil {
		writeAppError(w, h.logger, err)
		return
	}

	h.service.RecordActivity(r.Context(), userID, types.EventAvatarDelete, nil)
	w.WriteHeader(http.StatusNoContent)
}
