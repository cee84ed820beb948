package model

import "time"

// CatalogDevice is a curated device template in the catalog.
type CatalogDevice struct {
	ID              string     `json:"id"`
	DeviceName      string     `json:"device_name" yaml:"device_name"`
	Brand           string     `json:"brand" yaml:"brand"`
	Model           string     `json:"model" yaml:"model"`
	Category        string     `json:"category" yaml:"category"`
	Aliases         []string   `json:"aliases,omitempty" yaml:"aliases"`
	Difficulty      Difficulty `json:"salvage_difficulty" yaml:"salvage_difficulty"`
	ToolsNeeded     []string   `json:"tools_needed,omitempty" yaml:"tools_needed"`
	Verified        bool       `json:"verified" yaml:"verified"`
	ScanCount       int64      `json:"scan_count"`
	ConfidenceScore float64    `json:"confidence_score" yaml:"confidence_score"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CatalogComponent is one salvageable part belonging to a catalog device.
type CatalogComponent struct {
	ID                   string         `json:"id"`
	DeviceID             string         `json:"device_id"`
	Name                 string         `json:"name" yaml:"name"`
	Category             Category       `json:"category" yaml:"category"`
	Specifications       map[string]any `json:"specifications,omitempty" yaml:"specifications"`
	ReusabilityScore     int            `json:"reusability_score" yaml:"reusability_score"`
	MarketValueLow       float64        `json:"market_value_low" yaml:"market_value_low"`
	MarketValueHigh      float64        `json:"market_value_high" yaml:"market_value_high"`
	ExtractionDifficulty Difficulty     `json:"extraction_difficulty" yaml:"extraction_difficulty"`
	Description          string         `json:"description,omitempty" yaml:"description"`
	CommonUses           []string       `json:"common_uses,omitempty" yaml:"common_uses"`
	Quantity             int            `json:"quantity" yaml:"quantity"`
}

// DeviceWithComponents pairs a catalog device with its parts.
type DeviceWithComponents struct {
	Device     CatalogDevice      `json:"device" yaml:",inline"`
	Components []CatalogComponent `json:"components" yaml:"components"`
}

// DeviceIdentity is the minimal identity produced by the first disclosure stage.
type DeviceIdentity struct {
	DeviceName string  `json:"device_name"`
	Brand      string  `json:"brand,omitempty"`
	Model      string  `json:"model,omitempty"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Empty reports whether the identity names nothing.
func (d DeviceIdentity) Empty() bool {
	return d.DeviceName == "" && d.Brand == "" && d.Model == ""
}

// ComponentSummary is a name-only entry produced by the second disclosure stage.
type ComponentSummary struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Quantity int      `json:"quantity"`
}
