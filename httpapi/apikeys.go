package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modforge/authcore"
)

type apiKeyHandler struct {
	engine *authcore.Engine
}

// List handles GET /api/v1/keys
func (h *apiKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.engine.ListAPIKeys(r.Context(), currentIdentity(r).AccountID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	out := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, toAPIKeyResponse(k))
	}
	writeData(w, http.StatusOK, out)
}

// Create handles POST /api/v1/keys. The raw key is in this response only.
func (h *apiKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	id := currentIdentity(r)
	if id.Source == authcore.SourceAPIKey {
		writeError(w, r, http.StatusForbidden, "FORBIDDEN", "api keys cannot create api keys")
		return
	}

	var req createKeyRequest
	if !bind(w, r, &req) {
		return
	}
	created, err := h.engine.CreateAPIKey(r.Context(), id.AccountID, req.Name)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeData(w, http.StatusCreated, createdKeyResponse{
		apiKeyResponse: toAPIKeyResponse(created.Key),
		Key:            created.Secret,
	})
}

// Revoke handles DELETE /api/v1/keys/{id}. Keys owned by someone else
// answer 404, same as unknown ids.
func (h *apiKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RevokeKey(r.Context(), chi.URLParam(r, "id"), currentIdentity(r).AccountID); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
