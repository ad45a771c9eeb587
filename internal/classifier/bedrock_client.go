package classifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// bedrockMessage is one turn in Bedrock's Anthropic-messages request shape.
type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// bedrockClient is the optional tertiary classifier tier, used only when
// both Azure OpenAI endpoints have failed and a model ID has been
// configured.
type bedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
}

func newBedrockClient(ctx context.Context, modelID, region string) (*bedrockClient, error) {
	if modelID == "" {
		return nil, fmt.Errorf("classifier: bedrock tier not configured")
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("classifier: load aws config: %w", err)
	}
	return &bedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

func (b *bedrockClient) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (chatResponse, error) {
	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        1024,
		System:           systemPrompt,
		Temperature:      temperature,
		Messages: []bedrockMessage{
			{Role: "user", Content: []bedrockContentBlock{{Type: "text", Text: userPrompt}}},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return chatResponse{}, err
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return chatResponse{}, fmt.Errorf("classifier: bedrock invoke: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return chatResponse{}, fmt.Errorf("classifier: bedrock decode: %w", err)
	}

	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	// Adapt to the same chatResponse shape the Azure tier returns so the
	// three stages don't need to know which backend answered.
	var converted chatResponse
	converted.Choices = []struct {
		Message chatMessage `json:"message"`
	}{{Message: chatMessage{Role: "assistant", Content: text}}}
	converted.Usage.PromptTokens = resp.Usage.InputTokens
	converted.Usage.CompletionTokens = resp.Usage.OutputTokens
	converted.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	return converted, nil
}
