package main

import (
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/nullbridge/llmgate/internal/dialect"
	"github.com/nullbridge/llmgate/internal/orchestrator"
)

const maxRequestBodyBytes = 16 << 20 // 16MiB, generous for multi-turn chat payloads

// geminiProxyHandler serves both generateContent and streamGenerateContent,
// since net/http's ServeMux cannot pattern-match on the colon suffix Gemini
// bakes into the path (spec §6).
func geminiProxyHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		modelAndAction := r.PathValue("modelAndAction")
		idx := strings.LastIndex(modelAndAction, ":")
		if idx < 0 {
			writeJSONError(w, http.StatusNotFound, "missing action suffix")
			return
		}
		model, action := modelAndAction[:idx], modelAndAction[idx+1:]

		var streaming bool
		switch action {
		case "generateContent":
			streaming = false
		case "streamGenerateContent":
			streaming = true
		default:
			writeJSONError(w, http.StatusNotFound, "unknown action "+action)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		deps.orchestrator.Handle(r.Context(), w, orchestrator.Request{
			APIKey:    credentialFromRequest(r),
			Model:     model,
			Streaming: streaming,
			Body:      body,
			Adapter:   dialect.NewGemini(),
		})
	}
}

type openAIRequestPeek struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func openAIChatProxyHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		var peek openAIRequestPeek
		if err := json.Unmarshal(body, &peek); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if peek.Model == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}

		deps.orchestrator.Handle(r.Context(), w, orchestrator.Request{
			APIKey:    credentialFromRequest(r),
			Model:     peek.Model,
			Streaming: peek.Stream,
			Body:      body,
			Adapter:   dialect.NewOpenAIChat(),
		})
	}
}
