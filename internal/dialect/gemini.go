package dialect

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// geminiAdapter implements the Gemini dialect (spec §4.5). Request
// construction is grounded on providers/gemini/gemini.go's BuildRequest:
// same URL shape (base/v1beta/models/{model}:{action}) and same
// query-parameter key injection, generalized to forward the client's body
// unchanged instead of transforming it from a provider-agnostic shape.
type geminiAdapter struct{}

// NewGemini constructs the Gemini dialect adapter.
func NewGemini() Adapter { return geminiAdapter{} }

func (geminiAdapter) Name() string { return "gemini" }

func (geminiAdapter) BuildRequest(ctx context.Context, baseURL, secret, model string, body []byte, streaming bool) (*http.Request, error) {
	action := "generateContent"
	if streaming {
		action = "streamGenerateContent"
	}

	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	base.Path = base.Path + "/v1beta/models/" + url.PathEscape(model) + ":" + action
	q := base.Query()
	q.Set("key", secret)
	if streaming {
		q.Set("alt", "sse")
	}
	base.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type geminiUsageMetadata struct {
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (geminiAdapter) ParseNonStreamingUsage(body []byte) Usage {
	var parsed geminiUsageMetadata
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
	}
}

func (geminiAdapter) NewStreamScanner() StreamScanner { return &geminiStreamScanner{} }

// geminiStreamScanner keeps only the latest parsed usageMetadata, matching
// spec §4.5's "last wins" semantics, as an atomic-free single field since
// Observe is only ever called from the one goroutine doing the forwarding.
type geminiStreamScanner struct {
	latest Usage
}

const geminiDataPrefix = "data: "

func (s *geminiStreamScanner) Observe(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, []byte(geminiDataPrefix)) {
		return
	}
	payload := bytes.TrimPrefix(trimmed, []byte(geminiDataPrefix))
	var parsed geminiUsageMetadata
	if err := json.Unmarshal(payload, &parsed); err != nil || parsed.UsageMetadata == nil {
		return
	}
	s.latest = Usage{
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
	}
}

func (s *geminiStreamScanner) Usage() Usage { return s.latest }

// Done reports whether line marks stream end. Gemini's SSE stream has no
// sentinel line; the stream ends when upstream closes the connection.
func (s *geminiStreamScanner) Done(line []byte) bool { return false }
