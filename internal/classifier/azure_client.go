// Package classifier runs the three-stage categorise/action-check/prioritise
// pipeline against Azure OpenAI (with an automatic backup endpoint and an
// optional Bedrock tertiary tier), producing a domain.Classification.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/apex-triage/internal/pkg/httpretry"
)

// chatMessage is one turn in an OpenAI-style chat completion request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// azureEndpoint is one Azure OpenAI deployment this classifier can call.
type azureEndpoint struct {
	name       string // "main" or "backup", echoed into domain.Region
	key        string
	endpoint   string
	apiVersion string
}

// azureClient issues chat-completion calls against a single Azure OpenAI
// deployment, reusing the codebase's standard retry/backoff policy.
type azureClient struct {
	ep         azureEndpoint
	deployment string
	client     *httpretry.RetryClient
}

func newAzureClient(ep azureEndpoint, deployment string) *azureClient {
	return &azureClient{
		ep:         ep,
		deployment: deployment,
		client:     httpretry.NewRetryClient(&http.Client{Timeout: 60 * time.Second}, 2),
	}
}

func (c *azureClient) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (chatResponse, error) {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.ep.endpoint, c.deployment, c.ep.apiVersion)

	reqBody := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return chatResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return chatResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.ep.key)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return chatResponse{}, fmt.Errorf("classifier: %s endpoint call: %w", c.ep.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return chatResponse{}, fmt.Errorf("classifier: %s endpoint read body: %w", c.ep.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return chatResponse{}, fmt.Errorf("classifier: %s endpoint returned status %d: %s", c.ep.name, resp.StatusCode, string(body))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return chatResponse{}, fmt.Errorf("classifier: %s endpoint decode: %w", c.ep.name, err)
	}
	if out.Error != nil {
		return chatResponse{}, fmt.Errorf("classifier: %s endpoint error: %s", c.ep.name, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return chatResponse{}, fmt.Errorf("classifier: %s endpoint returned no choices", c.ep.name)
	}
	return out, nil
}
