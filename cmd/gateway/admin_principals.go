// admin_principals.go implements /api/auth_keys — AuthPrincipal CRUD (spec
// §6; issuance of the credential value itself is an external collaborator,
// but the record's lifecycle is owned by the Store this core exposes).
package main

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/nullbridge/llmgate/internal/store"
)

func listPrincipalsHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principals, err := deps.store.ListPrincipals(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to list principals")
			return
		}
		writeJSON(w, http.StatusOK, principals)
	}
}

type upsertPrincipalRequest struct {
	APIKey string `json:"api_key"`
	Alias  string `json:"alias"`
	Active bool   `json:"active"`
}

func upsertPrincipalHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		var req upsertPrincipalRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.APIKey == "" || req.Alias == "" {
			writeJSONError(w, http.StatusBadRequest, "api_key and alias are required")
			return
		}

		p := store.Principal{
			APIKey:    req.APIKey,
			Alias:     req.Alias,
			Active:    req.Active,
			CreatedAt: time.Now(),
		}
		if err := deps.store.UpsertPrincipal(r.Context(), p); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to upsert principal")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func deletePrincipalHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.URL.Query().Get("api_key")
		if apiKey == "" {
			writeJSONError(w, http.StatusBadRequest, "api_key query parameter is required")
			return
		}
		if err := deps.store.DeletePrincipal(r.Context(), apiKey); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to delete principal")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
