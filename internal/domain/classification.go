package domain

// Category is one of the fixed taxonomy values the classifier may assign.
// Category is intentionally a distinct type from string so a handler
// switching on it is caught by the compiler if a value is mistyped.
type Category string

const (
	CategoryAmendments                 Category = "amendments"
	CategoryAssist                     Category = "assist"
	CategoryVehicleTracking            Category = "vehicle tracking"
	CategoryBadServiceExperience       Category = "bad service/experience"
	CategoryClaims                     Category = "claims"
	CategoryRefundRequest              Category = "refund request"
	CategoryDocumentRequest            Category = "document request"
	CategoryOnlineApp                  Category = "online/app"
	CategoryRetentions                 Category = "retentions"
	CategoryRequestForQuote            Category = "request for quote"
	CategoryDebitOrderSwitch           Category = "debit order switch"
	CategoryPreviousInsuranceQueries   Category = "previous insurance checks/queries"
	CategoryOther                      Category = "other"
)

// Categories is the full fixed taxonomy, in no particular order. The
// classifier does not check stage A output against this set; a category
// string outside it is passed through as returned by the model.
var Categories = []Category{
	CategoryAmendments, CategoryAssist, CategoryVehicleTracking,
	CategoryBadServiceExperience, CategoryClaims, CategoryRefundRequest,
	CategoryDocumentRequest, CategoryOnlineApp, CategoryRetentions,
	CategoryRequestForQuote, CategoryDebitOrderSwitch,
	CategoryPreviousInsuranceQueries, CategoryOther,
}

// PriorityOrder is the static tie-breaker table Stage C consults when the
// message context itself does not disambiguate the top-three list. Index 0
// is the highest priority (most urgent to route correctly).
var PriorityOrder = []Category{
	CategoryAssist,
	CategoryBadServiceExperience,
	CategoryVehicleTracking,
	CategoryDebitOrderSwitch,
	CategoryRetentions,
	CategoryAmendments,
	CategoryClaims,
	CategoryRefundRequest,
	CategoryOnlineApp,
	CategoryRequestForQuote,
	CategoryDocumentRequest,
	CategoryOther,
	CategoryPreviousInsuranceQueries,
}

// Sentiment is the customer's expressed tone, defaulting to neutral when
// none is expressed.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Region records which classifier backend actually served Stage A, for
// audit and cost-attribution purposes.
type Region string

const (
	RegionMain    Region = "main"
	RegionBackup  Region = "backup"
	RegionBedrock Region = "bedrock"
)

// ModelTokens is the prompt/completion/total/cached token accounting for
// one model across a message's classification.
type ModelTokens struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CachedTokens     int
}

// Classification is the full output of the three-stage classifier for one
// message.
type Classification struct {
	Category       Category
	TopCategories  []Category
	Reason         string
	ActionRequired bool
	Sentiment      Sentiment
	CostUSD        float64
	RegionUsed     Region
	PrimaryModel   ModelTokens
	CheapModel     ModelTokens
}

// ClassificationOutcome pairs a classifier result with its error. A non-nil
// Err means the classifier produced no usable result and the engine must
// fall back to forwarding without AI-assisted routing.
type ClassificationOutcome struct {
	Result *Classification
	Err    error
}
