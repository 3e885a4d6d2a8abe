// admin_keys.go implements the key-pool administrative routes (spec §6
// "GET /api/keys/status, POST /api/keys, DELETE /api/keys/{identifier},
// POST /api/keys/{identifier}/reset, POST /api/keys/reset"), grounded on
// internal/api/control_endpoints.go's decode-validate-act-respond shape.
package main

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/nullbridge/llmgate/internal/keypool"
)

func keysStatusHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.pool.Status())
	}
}

type addKeyRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	Brief      string `json:"brief"`
}

// addKeysHandler accepts either a single key object or an array of them
// (spec §6 "add one or many").
func addKeysHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		var reqs []addKeyRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			var single addKeyRequest
			if err := json.Unmarshal(body, &single); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			reqs = []addKeyRequest{single}
		}

		added := make([]string, 0, len(reqs))
		for _, req := range reqs {
			if req.Identifier == "" || req.Secret == "" {
				writeJSONError(w, http.StatusBadRequest, "identifier and secret are required")
				return
			}
			deps.pool.Add(keypool.Key{
				Identifier: req.Identifier,
				Secret:     req.Secret,
				Brief:      req.Brief,
				State:      keypool.StateActive,
			})
			added = append(added, req.Identifier)
		}
		writeJSON(w, http.StatusCreated, map[string]any{"added": added})
	}
}

func deleteKeyHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := r.PathValue("identifier")
		if err := deps.pool.Delete(identifier); err != nil {
			status := http.StatusInternalServerError
			switch err {
			case keypool.ErrUnknownKey:
				status = http.StatusNotFound
			case keypool.ErrKeyInUse:
				status = http.StatusConflict
			}
			writeJSONError(w, status, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func resetKeyHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := r.PathValue("identifier")
		if err := deps.pool.Reset(identifier); err != nil {
			status := http.StatusInternalServerError
			if err == keypool.ErrUnknownKey {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func resetAllKeysHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.pool.ResetAll()
		w.WriteHeader(http.StatusNoContent)
	}
}
