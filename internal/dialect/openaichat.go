package dialect

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// openAIChatAdapter implements the OpenAI-Chat dialect (spec §4.5).
// Grounded on providers/openai/openai.go's bearer-header request
// construction, generalized to forward the client's body verbatim.
type openAIChatAdapter struct{}

// NewOpenAIChat constructs the OpenAI-Chat dialect adapter.
func NewOpenAIChat() Adapter { return openAIChatAdapter{} }

func (openAIChatAdapter) Name() string { return "openai-chat" }

func (openAIChatAdapter) BuildRequest(ctx context.Context, baseURL, secret, model string, body []byte, streaming bool) (*http.Request, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+secret)
	return req, nil
}

type openAIUsagePayload struct {
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (openAIChatAdapter) ParseNonStreamingUsage(body []byte) Usage {
	var parsed openAIUsagePayload
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Usage == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
}

func (openAIChatAdapter) NewStreamScanner() StreamScanner { return &openAIStreamScanner{} }

const (
	openAIDataPrefix   = "data: "
	openAIDoneSentinel = "[DONE]"
)

// openAIStreamScanner tracks the last observed usage object and recognizes
// the "data: [DONE]" sentinel that terminates an OpenAI-Chat stream
// (streaming.SSEDone/SSEDataPrefix in the teacher).
type openAIStreamScanner struct {
	latest Usage
}

func (s *openAIStreamScanner) Observe(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, []byte(openAIDataPrefix)) {
		return
	}
	payload := bytes.TrimPrefix(trimmed, []byte(openAIDataPrefix))
	if bytes.Equal(bytes.TrimSpace(payload), []byte(openAIDoneSentinel)) {
		return
	}
	var parsed openAIUsagePayload
	if err := json.Unmarshal(payload, &parsed); err != nil || parsed.Usage == nil {
		return
	}
	s.latest = Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
}

func (s *openAIStreamScanner) Usage() Usage { return s.latest }

func (s *openAIStreamScanner) Done(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, []byte(openAIDataPrefix)) {
		return false
	}
	payload := bytes.TrimSpace(bytes.TrimPrefix(trimmed, []byte(openAIDataPrefix)))
	return bytes.Equal(payload, []byte(openAIDoneSentinel))
}
