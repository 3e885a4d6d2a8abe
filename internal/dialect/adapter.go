// Package dialect implements the two wire adapters the gateway proxies:
// Gemini and OpenAI-Chat (spec §4.5). Both forward the client's request
// body upstream verbatim and forward every upstream byte back to the
// client verbatim; usage extraction happens on a side channel that never
// blocks or alters forwarding (spec §9 "Streaming forwarding vs. metric
// extraction"). This is the key divergence from internal/streaming/parsers.go
// in the teacher repository, which re-encodes each chunk into a unified
// shape — a library-mode transform this proxy-mode gateway must not do.
package dialect

import (
	"context"
	"net/http"
)

// Usage is the token accounting extracted from a response, in either
// dialect's native shape, normalized to one struct.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Adapter builds upstream requests and extracts usage from upstream
// responses for one wire dialect.
type Adapter interface {
	Name() string

	// BuildRequest constructs the upstream HTTP request. body is the
	// client's request forwarded verbatim; secret is injected the way the
	// upstream expects (query parameter for Gemini, bearer header for
	// OpenAI-Chat).
	BuildRequest(ctx context.Context, baseURL, secret, model string, body []byte, streaming bool) (*http.Request, error)

	// ParseNonStreamingUsage extracts usage from a complete response body.
	ParseNonStreamingUsage(body []byte) Usage

	// NewStreamScanner returns a StreamScanner that incrementally observes
	// raw SSE lines as they're forwarded, tracking the last-observed usage
	// without participating in forwarding itself.
	NewStreamScanner() StreamScanner
}

// StreamScanner observes each raw line forwarded to the client and updates
// its internal usage state; it never returns an error that could interrupt
// forwarding — a line it cannot parse is simply ignored (spec §9).
type StreamScanner interface {
	Observe(line []byte)
	Usage() Usage
	Done(line []byte) bool
}
