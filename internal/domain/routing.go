package domain

// ModelCost is the per-million-token pricing of one model, which the
// classifier consults for cost accounting.
type ModelCost struct {
	Model          string
	PromptCostPM   float64
	CompletionCostPM float64
}

// DefaultModelCosts is the pricing table the classifier uses. It is
// compiled in: nothing loads prices from a model_costs table, so a price
// change needs a rebuild.
var DefaultModelCosts = map[string]ModelCost{
	"primary": {Model: "gpt-4o", PromptCostPM: 5.00, CompletionCostPM: 15.00},
	"cheap":   {Model: "gpt-4o-mini", PromptCostPM: 0.15, CompletionCostPM: 0.60},
}
