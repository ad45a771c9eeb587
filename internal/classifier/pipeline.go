package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ignite/apex-triage/internal/config"
	"github.com/ignite/apex-triage/internal/domain"
)

// classifierInputLimit is the maximum character count fed to the LLM,
// matching the original's context-window guard: the concatenated email
// text is truncated here before any escaping is applied.
const classifierInputLimit = 300000

// sanitizeForClassifier truncates text to classifierInputLimit characters
// and CR/LF/quote-escapes it, mirroring apex_categorise's input cleaning so
// the prompt never breaks out of its quoting or blows the context window.
func sanitizeForClassifier(text string) string {
	if utf8.RuneCountInString(text) > classifierInputLimit {
		runes := []rune(text)
		text = string(runes[:classifierInputLimit])
	}
	text = strings.ReplaceAll(text, "\n", `\n`)
	text = strings.ReplaceAll(text, "\r", `\r`)
	text = strings.ReplaceAll(text, `"`, `\"`)
	return text
}

// Pipeline runs the three-stage classifier (categorise, action-check,
// prioritise) against the configured Azure OpenAI endpoints, falling back
// from primary to backup, and finally to an optional Bedrock tier.
type Pipeline struct {
	primary     *azureClient
	backup      *azureClient
	cheap       *azureClient   // primary endpoint, cheap deployment
	cheapBackup *azureClient   // backup endpoint, cheap deployment
	bedrock     *bedrockClient // nil unless LLMConfig.BedrockModelID is set
	costs       map[string]domain.ModelCost
}

// New builds a Pipeline from LLM configuration. Bedrock initialization
// failures are swallowed (logged by the caller if desired) since the tier
// is optional — the two Azure endpoints are the required path.
func New(ctx context.Context, cfg config.LLMConfig) *Pipeline {
	p := &Pipeline{
		primary: newAzureClient(azureEndpoint{
			name: "main", key: cfg.PrimaryKey, endpoint: cfg.PrimaryEndpoint, apiVersion: cfg.APIVersion,
		}, cfg.PrimaryDeployment),
		backup: newAzureClient(azureEndpoint{
			name: "backup", key: cfg.BackupKey, endpoint: cfg.BackupEndpoint, apiVersion: cfg.APIVersion,
		}, cfg.PrimaryDeployment),
		cheap: newAzureClient(azureEndpoint{
			name: "main", key: cfg.PrimaryKey, endpoint: cfg.PrimaryEndpoint, apiVersion: cfg.APIVersion,
		}, cfg.CheapDeployment),
		cheapBackup: newAzureClient(azureEndpoint{
			name: "backup", key: cfg.BackupKey, endpoint: cfg.BackupEndpoint, apiVersion: cfg.APIVersion,
		}, cfg.CheapDeployment),
		costs: domain.DefaultModelCosts,
	}
	if cfg.BedrockModelID != "" {
		if bc, err := newBedrockClient(ctx, cfg.BedrockModelID, cfg.AWSRegion); err == nil {
			p.bedrock = bc
		}
	}
	return p
}

type stageAResult struct {
	TopCategories  []string `json:"top_categories"`
	Reason         string   `json:"reason"`
	ActionRequired bool     `json:"action_required"`
	Sentiment      string   `json:"sentiment"`
}

type stageBResult struct {
	ActionRequired bool `json:"action_required"`
}

type stageCResult struct {
	FinalCategory string `json:"final_category"`
	Reason        string `json:"reason"`
}

// Classify runs all three stages for one message and returns the merged
// classification, or an error if every backend tier failed.
func (p *Pipeline) Classify(ctx context.Context, subject, body string) (*domain.Classification, error) {
	userPrompt := sanitizeForClassifier(fmt.Sprintf("Subject: %s\n\nBody: %s", subject, body))

	// Stage B is launched concurrently with Stage A's HTTP round trip
	// (not after Stage A's response is parsed): both are issued together
	// and joined before the merge.
	var stageBResp chatResponse
	var stageBErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stageBResp, stageBErr = p.call(ctx, stageBSystemPrompt, userPrompt, 0.1, "cheap")
	}()

	stageAResp, region, err := p.callWithFallback(ctx, stageASystemPrompt, userPrompt, 0.2, "primary")
	wg.Wait()

	if err != nil {
		return nil, fmt.Errorf("classifier: stage A failed on all tiers: %w", err)
	}

	var a stageAResult
	if err := decodeJSONContent(stageAResp, &a); err != nil {
		return nil, fmt.Errorf("classifier: stage A decode: %w", err)
	}

	actionRequired := a.ActionRequired
	var b stageBResult
	if stageBErr == nil {
		if err := decodeJSONContent(stageBResp, &b); err == nil {
			actionRequired = b.ActionRequired
		}
	}

	topCategories := make([]domain.Category, 0, len(a.TopCategories))
	for _, c := range a.TopCategories {
		topCategories = append(topCategories, domain.Category(strings.ToLower(strings.TrimSpace(c))))
	}
	if len(topCategories) == 0 {
		topCategories = []domain.Category{domain.CategoryOther}
	}

	stageCPrompt := fmt.Sprintf("%s\n\nCandidate categories (in order): %v\n\nPriority table: %v",
		userPrompt, topCategories, domain.PriorityOrder)
	stageCResp, err := p.call(ctx, stageCSystemPrompt, stageCPrompt, 0.1, "cheap")

	finalCategory := topCategories[0]
	reason := a.Reason
	if err == nil {
		var c stageCResult
		if decErr := decodeJSONContent(stageCResp, &c); decErr == nil && c.FinalCategory != "" {
			finalCategory = domain.Category(strings.ToLower(strings.TrimSpace(c.FinalCategory)))
			reason = c.Reason
		}
	}

	cost := p.cost(stageAResp, stageBResp, stageCResp)

	return &domain.Classification{
		Category:       finalCategory,
		TopCategories:  topCategories,
		Reason:         reason,
		ActionRequired: actionRequired,
		Sentiment:      domain.Sentiment(strings.ToLower(a.Sentiment)),
		CostUSD:        cost,
		RegionUsed:      region,
		PrimaryModel: domain.ModelTokens{
			PromptTokens:     stageAResp.Usage.PromptTokens,
			CompletionTokens: stageAResp.Usage.CompletionTokens,
			TotalTokens:      stageAResp.Usage.TotalTokens,
			CachedTokens:     stageAResp.Usage.PromptTokensDetails.CachedTokens,
		},
		CheapModel: domain.ModelTokens{
			PromptTokens:     stageBResp.Usage.PromptTokens + stageCResp.Usage.PromptTokens,
			CompletionTokens: stageBResp.Usage.CompletionTokens + stageCResp.Usage.CompletionTokens,
			TotalTokens:      stageBResp.Usage.TotalTokens + stageCResp.Usage.TotalTokens,
			CachedTokens:     stageBResp.Usage.PromptTokensDetails.CachedTokens + stageCResp.Usage.PromptTokensDetails.CachedTokens,
		},
	}, nil
}

// callWithFallback tries the primary Azure endpoint, then backup, then the
// optional Bedrock tier, returning which region actually served the call.
func (p *Pipeline) callWithFallback(ctx context.Context, system, user string, temperature float64, tier string) (chatResponse, domain.Region, error) {
	resp, err := p.primary.complete(ctx, system, user, temperature)
	if err == nil {
		return resp, domain.RegionMain, nil
	}
	resp, backupErr := p.backup.complete(ctx, system, user, temperature)
	if backupErr == nil {
		return resp, domain.RegionBackup, nil
	}
	if p.bedrock != nil {
		resp, bedrockErr := p.bedrock.complete(ctx, system, user, temperature)
		if bedrockErr == nil {
			return resp, domain.RegionBedrock, nil
		}
		return chatResponse{}, "", fmt.Errorf("primary: %v; backup: %v; bedrock: %v", err, backupErr, bedrockErr)
	}
	return chatResponse{}, "", fmt.Errorf("primary: %v; backup: %v", err, backupErr)
}

// call is used for the cheap-tier stages, which always run against the
// primary endpoint with the cheap model deployment (falling back to the
// backup endpoint's cheap deployment on failure; no Bedrock fallback for
// these low-stakes calls).
func (p *Pipeline) call(ctx context.Context, system, user string, temperature float64, tier string) (chatResponse, error) {
	resp, err := p.cheap.complete(ctx, system, user, temperature)
	if err == nil {
		return resp, nil
	}
	return p.cheapBackup.complete(ctx, system, user, temperature)
}

// cost applies the exact formula from the original classifier: completion
// tokens and prompt tokens are each priced per million and summed across
// every stage that actually ran — stage A on the primary model, stages B
// and C on the cheap model — rounded to 5 decimal places.
func (p *Pipeline) cost(stageA, stageB, stageC chatResponse) float64 {
	primary := p.costs["primary"]
	cheap := p.costs["cheap"]

	total := 0.0
	total += float64(stageA.Usage.CompletionTokens)/1e6*primary.CompletionCostPM + float64(stageA.Usage.PromptTokens)/1e6*primary.PromptCostPM
	total += float64(stageB.Usage.CompletionTokens)/1e6*cheap.CompletionCostPM + float64(stageB.Usage.PromptTokens)/1e6*cheap.PromptCostPM
	total += float64(stageC.Usage.CompletionTokens)/1e6*cheap.CompletionCostPM + float64(stageC.Usage.PromptTokens)/1e6*cheap.PromptCostPM

	return math.Round(total*1e5) / 1e5
}

func decodeJSONContent(resp chatResponse, out any) error {
	if len(resp.Choices) == 0 {
		return fmt.Errorf("no choices in response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return json.Unmarshal([]byte(content), out)
}

const stageASystemPrompt = `You are a customer service email classifier for an insurance business.
Read the email subject and body and return strict JSON with this shape:
{"top_categories": ["category1","category2","category3"], "reason": "...", "action_required": true, "sentiment": "positive|neutral|negative"}
Choose categories only from the fixed taxonomy you have been given out of band. List your top three candidates, most likely first.`

const stageBSystemPrompt = `You are a second-opinion reviewer checking whether an email genuinely requires action from staff, independent of its category.
Return strict JSON: {"action_required": true}`

const stageCSystemPrompt = `You are the final arbiter choosing one category from a shortlist, using a priority table to break ties when the message itself does not make the choice obvious.
Return strict JSON: {"final_category": "...", "reason": "..."}`
