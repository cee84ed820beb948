package model

// Category classifies a salvageable component.
type Category string

const (
	CategoryICs               Category = "ICs/Chips"
	CategoryPassive           Category = "Passive Components"
	CategoryElectromechanical Category = "Electromechanical"
	CategoryConnectors        Category = "Connectors"
	CategoryDisplay           Category = "Display/LEDs"
	CategorySensors           Category = "Sensors"
	CategoryPower             Category = "Power"
	CategoryPCB               Category = "PCB"
	CategoryAudio             Category = "Audio"
	CategoryOther             Category = "Other"
)

var categories = map[Category]bool{
	CategoryICs:               true,
	CategoryPassive:           true,
	CategoryElectromechanical: true,
	CategoryConnectors:        true,
	CategoryDisplay:           true,
	CategorySensors:           true,
	CategoryPower:             true,
	CategoryPCB:               true,
	CategoryAudio:             true,
	CategoryOther:             true,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool { return categories[c] }

// Categories returns every known category in declaration order.
func Categories() []Category {
	return []Category{
		CategoryICs, CategoryPassive, CategoryElectromechanical, CategoryConnectors,
		CategoryDisplay, CategorySensors, CategoryPower, CategoryPCB,
		CategoryAudio, CategoryOther,
	}
}

// Condition describes the observed state of a component.
type Condition string

const (
	ConditionNew      Condition = "New"
	ConditionGood     Condition = "Good"
	ConditionFair     Condition = "Fair"
	ConditionForParts Condition = "For Parts"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionGood, ConditionFair, ConditionForParts:
		return true
	}
	return false
}

// Conditions returns every known condition from best to worst.
func Conditions() []Condition {
	return []Condition{ConditionNew, ConditionGood, ConditionFair, ConditionForParts}
}

// Difficulty rates how hard a device or component is to extract.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Tier names the source that answered a resolution.
type Tier string

const (
	TierCache    Tier = "cache"
	TierDatabase Tier = "database"
	TierAI       Tier = "ai"
)

// ProviderName identifies a hosted vision model provider.
type ProviderName string

const (
	ProviderOpenAI ProviderName = "openai"
	ProviderGemini ProviderName = "gemini"
	ProviderClaude ProviderName = "claude"
)

// Valid reports whether p is a supported provider.
func (p ProviderName) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderGemini, ProviderClaude:
		return true
	}
	return false
}

// Image is one encoded photo in an identification request.
type Image struct {
	MimeType string `json:"mime_type,omitempty"`
	Base64   string `json:"base64"`
}

// IdentificationRequest is the input to a resolution.
type IdentificationRequest struct {
	Images   []Image      `json:"images"`
	Hint     string       `json:"hint,omitempty"`
	Provider ProviderName `json:"provider,omitempty"`
	UserID   string       `json:"user_id,omitempty"`
}

// Item is a single salvageable component in a result.
type Item struct {
	ComponentName    string         `json:"component_name"`
	Category         Category       `json:"category"`
	Specifications   map[string]any `json:"specifications"`
	ReusabilityScore int            `json:"reusability_score"`
	MarketValueLow   float64        `json:"market_value_low"`
	MarketValueHigh  float64        `json:"market_value_high"`
	Condition        Condition      `json:"condition"`
	Confidence       float64        `json:"confidence"`
	Description      string         `json:"description"`
	CommonUses       []string       `json:"common_uses"`
	Quantity         int            `json:"quantity"`
}

// Result is the structured breakdown returned for an identification.
type Result struct {
	ParentObject            string     `json:"parent_object"`
	Items                   []Item     `json:"items"`
	TotalEstimatedValueLow  float64    `json:"total_estimated_value_low"`
	TotalEstimatedValueHigh float64    `json:"total_estimated_value_high"`
	SalvageDifficulty       Difficulty `json:"salvage_difficulty"`
	ToolsNeeded             []string   `json:"tools_needed"`
	Message                 string     `json:"message,omitempty"`
}

// Totals sums the per-item value ranges weighted by quantity.
func (r *Result) Totals() (low, high float64) {
	for _, it := range r.Items {
		q := float64(max(it.Quantity, 1))
		low += it.MarketValueLow * q
		high += it.MarketValueHigh * q
	}
	return low, high
}

// AverageConfidence returns the mean item confidence, or 0 for no items.
func (r *Result) AverageConfidence() float64 {
	if len(r.Items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range r.Items {
		sum += it.Confidence
	}
	return sum / float64(len(r.Items))
}

// Response is what a caller receives from a resolution. It embeds the
// result contract and adds provenance fields.
type Response struct {
	Result
	RawResponse string       `json:"raw_response,omitempty"`
	Tier        Tier         `json:"tier,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Verified    bool         `json:"verified"`
	DeviceID    string       `json:"device_id,omitempty"`
	Provider    ProviderName `json:"provider,omitempty"`
	ErrorKind   ErrorKind    `json:"error_kind,omitempty"`
}

// EmptyResult returns a contract-valid result with no items.
func EmptyResult(message string) Result {
	return Result{
		Items:             []Item{},
		SalvageDifficulty: DifficultyMedium,
		ToolsNeeded:       []string{},
		Message:           message,
	}
}
