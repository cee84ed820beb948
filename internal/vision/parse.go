package vision

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sells-group/teardown/internal/model"
)

const (
	maxCommonUses = 5
	maxTools      = 8
)

// ExtractJSON returns the first well-formed JSON object embedded in a model
// reply, tolerating code fences and surrounding prose.
func ExtractJSON(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}
	trimmed = strings.TrimSpace(stripCodeFence(trimmed))
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != '{' {
			continue
		}
		n, ok := objectLen(trimmed[i:])
		if !ok {
			continue
		}
		if candidate := trimmed[i : i+n]; json.Valid([]byte(candidate)) {
			return candidate, true
		}
		i += n - 1
	}
	return "", false
}

// objectLen returns the length of the brace-balanced object that opens s.
// Braces inside string literals are ignored.
func objectLen(s string) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func stripCodeFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	// Drop the language tag on the opening fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// number accepts JSON numbers and numeric strings such as "$4.50".
type number struct {
	v   float64
	set bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// Non-numeric strings are treated as absent.
			return nil
		}
		n.v, n.set = f, true
		return nil
	}
	if err := json.Unmarshal(b, &n.v); err != nil {
		return err
	}
	n.set = true
	return nil
}

// stringList accepts an array of strings, a single string, or null.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s != "" {
			*l = stringList{s}
		}
		return nil
	}
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			*l = append(*l, strings.TrimSpace(s))
		}
	}
	return nil
}

type rawItem struct {
	ComponentName    string         `json:"component_name"`
	Name             string         `json:"name"`
	Category         string         `json:"category"`
	Specifications   map[string]any `json:"specifications"`
	ReusabilityScore number         `json:"reusability_score"`
	MarketValueLow   number         `json:"market_value_low"`
	MarketValueHigh  number         `json:"market_value_high"`
	Condition        string         `json:"condition"`
	Confidence       number         `json:"confidence"`
	Description      string         `json:"description"`
	CommonUses       stringList     `json:"common_uses"`
	Quantity         number         `json:"quantity"`
}

type rawResult struct {
	ParentObject            *string         `json:"parent_object"`
	Items                   json.RawMessage `json:"items"`
	TotalEstimatedValueLow  number          `json:"total_estimated_value_low"`
	TotalEstimatedValueHigh number          `json:"total_estimated_value_high"`
	SalvageDifficulty       string          `json:"salvage_difficulty"`
	ToolsNeeded             stringList      `json:"tools_needed"`
}

// ParseResult validates a model reply into a result. Out-of-range values are
// repaired; a reply without parent_object or an items array is a
// *ParseFailure.
func ParseResult(raw string) (model.Result, error) {
	doc, ok := ExtractJSON(raw)
	if !ok {
		return model.Result{}, &ParseFailure{Raw: raw, Reason: "no JSON object in reply"}
	}

	var rr rawResult
	if err := json.Unmarshal([]byte(doc), &rr); err != nil {
		return model.Result{}, &ParseFailure{Raw: raw, Reason: "malformed result: " + err.Error()}
	}
	if rr.ParentObject == nil {
		return model.Result{}, &ParseFailure{Raw: raw, Reason: "missing parent_object"}
	}
	items := bytes.TrimSpace(rr.Items)
	if len(items) == 0 || items[0] != '[' {
		return model.Result{}, &ParseFailure{Raw: raw, Reason: "items is not an array"}
	}
	var rawItems []rawItem
	if err := json.Unmarshal(items, &rawItems); err != nil {
		return model.Result{}, &ParseFailure{Raw: raw, Reason: "malformed items: " + err.Error()}
	}

	res := model.EmptyResult("")
	res.ParentObject = strings.TrimSpace(*rr.ParentObject)
	for _, ri := range rawItems {
		it, ok := repairItem(ri)
		if !ok {
			continue
		}
		res.Items = append(res.Items, it)
	}
	res.SalvageDifficulty = normalizeDifficulty(rr.SalvageDifficulty)
	if tools := []string(rr.ToolsNeeded); len(tools) > 0 {
		res.ToolsNeeded = tools[:min(len(tools), maxTools)]
	}

	low, high := res.Totals()
	res.TotalEstimatedValueLow, res.TotalEstimatedValueHigh = low, high
	if rr.TotalEstimatedValueLow.set && rr.TotalEstimatedValueHigh.set && len(res.Items) > 0 {
		l, h := max(rr.TotalEstimatedValueLow.v, 0), max(rr.TotalEstimatedValueHigh.v, 0)
		if l > h {
			l, h = h, l
		}
		res.TotalEstimatedValueLow, res.TotalEstimatedValueHigh = l, h
	}
	return res, nil
}

func repairItem(ri rawItem) (model.Item, bool) {
	name := strings.TrimSpace(ri.ComponentName)
	if name == "" {
		name = strings.TrimSpace(ri.Name)
	}
	if name == "" {
		return model.Item{}, false
	}

	score := 5
	if ri.ReusabilityScore.set {
		score = int(ri.ReusabilityScore.v + 0.5)
	}
	conf := 0.5
	if ri.Confidence.set {
		conf = ri.Confidence.v
		// Some models answer in percent.
		if conf > 1 && conf <= 100 {
			conf /= 100
		}
	}
	low, high := max(ri.MarketValueLow.v, 0), max(ri.MarketValueHigh.v, 0)
	if low > high {
		low, high = high, low
	}
	qty := 1
	if ri.Quantity.set {
		qty = max(int(ri.Quantity.v), 1)
	}
	specs := ri.Specifications
	if specs == nil {
		specs = map[string]any{}
	}
	uses := []string(ri.CommonUses)
	if uses == nil {
		uses = []string{}
	}

	return model.Item{
		ComponentName:    name,
		Category:         normalizeCategory(ri.Category),
		Specifications:   specs,
		ReusabilityScore: min(max(score, 1), 10),
		MarketValueLow:   low,
		MarketValueHigh:  high,
		Condition:        normalizeCondition(ri.Condition),
		Confidence:       min(max(conf, 0), 1),
		Description:      strings.TrimSpace(ri.Description),
		CommonUses:       uses[:min(len(uses), maxCommonUses)],
		Quantity:         qty,
	}, true
}

// categoryAliases maps labels models commonly answer with onto the closed set.
var categoryAliases = map[string]model.Category{
	"ic":               model.CategoryICs,
	"ics":              model.CategoryICs,
	"chip":             model.CategoryICs,
	"chips":            model.CategoryICs,
	"microcontroller":  model.CategoryICs,
	"processor":        model.CategoryICs,
	"memory":           model.CategoryICs,
	"storage":          model.CategoryICs,
	"communication":    model.CategoryICs,
	"passive":          model.CategoryPassive,
	"motor":            model.CategoryElectromechanical,
	"mechanical":       model.CategoryElectromechanical,
	"relay":            model.CategoryElectromechanical,
	"connector":        model.CategoryConnectors,
	"display":          model.CategoryDisplay,
	"led":              model.CategoryDisplay,
	"leds":             model.CategoryDisplay,
	"lighting":         model.CategoryDisplay,
	"sensor":           model.CategorySensors,
	"battery":          model.CategoryPower,
	"circuit board":    model.CategoryPCB,
	"board":            model.CategoryPCB,
	"speaker":          model.CategoryAudio,
}

func normalizeCategory(s string) model.Category {
	s = strings.TrimSpace(s)
	for _, c := range model.Categories() {
		if strings.EqualFold(s, string(c)) {
			return c
		}
	}
	if c, ok := categoryAliases[strings.ToLower(s)]; ok {
		return c
	}
	return model.CategoryOther
}

func normalizeCondition(s string) model.Condition {
	s = strings.TrimSpace(s)
	for _, c := range model.Conditions() {
		if strings.EqualFold(s, string(c)) {
			return c
		}
	}
	switch strings.ToLower(s) {
	case "excellent", "like new", "mint":
		return model.ConditionNew
	case "poor", "broken", "damaged", "parts", "for parts only":
		return model.ConditionForParts
	}
	return model.ConditionGood
}

func normalizeDifficulty(s string) model.Difficulty {
	s = strings.TrimSpace(s)
	for _, d := range []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard} {
		if strings.EqualFold(s, string(d)) {
			return d
		}
	}
	return model.DifficultyMedium
}

type rawIdentity struct {
	DeviceName *string `json:"device_name"`
	Brand      string  `json:"brand"`
	Model      string  `json:"model"`
	Category   string  `json:"category"`
	Confidence number  `json:"confidence"`
}

// ParseIdentity validates a device identity reply.
func ParseIdentity(raw string) (model.DeviceIdentity, error) {
	doc, ok := ExtractJSON(raw)
	if !ok {
		return model.DeviceIdentity{}, &ParseFailure{Raw: raw, Reason: "no JSON object in reply"}
	}
	var ri rawIdentity
	if err := json.Unmarshal([]byte(doc), &ri); err != nil {
		return model.DeviceIdentity{}, &ParseFailure{Raw: raw, Reason: "malformed identity: " + err.Error()}
	}
	if ri.DeviceName == nil || strings.TrimSpace(*ri.DeviceName) == "" {
		return model.DeviceIdentity{}, &ParseFailure{Raw: raw, Reason: "missing device_name"}
	}
	conf := 0.5
	if ri.Confidence.set {
		conf = min(max(ri.Confidence.v, 0), 1)
	}
	return model.DeviceIdentity{
		DeviceName: strings.TrimSpace(*ri.DeviceName),
		Brand:      cleanUnknown(ri.Brand),
		Model:      cleanUnknown(ri.Model),
		Category:   strings.TrimSpace(ri.Category),
		Confidence: conf,
	}, nil
}

func cleanUnknown(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "unknown", "n/a", "none", "null", "-":
		return ""
	}
	return s
}

type rawComponentList struct {
	Components json.RawMessage `json:"components"`
}

// ParseComponentList validates a component list reply. Names are
// de-duplicated case-insensitively.
func ParseComponentList(raw string) ([]model.ComponentSummary, error) {
	doc, ok := ExtractJSON(raw)
	if !ok {
		return nil, &ParseFailure{Raw: raw, Reason: "no JSON object in reply"}
	}
	var rl rawComponentList
	if err := json.Unmarshal([]byte(doc), &rl); err != nil {
		return nil, &ParseFailure{Raw: raw, Reason: "malformed component list: " + err.Error()}
	}
	list := bytes.TrimSpace(rl.Components)
	if len(list) == 0 || list[0] != '[' {
		return nil, &ParseFailure{Raw: raw, Reason: "components is not an array"}
	}
	var items []rawItem
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, &ParseFailure{Raw: raw, Reason: "malformed components: " + err.Error()}
	}

	seen := make(map[string]bool, len(items))
	out := make([]model.ComponentSummary, 0, len(items))
	for _, ri := range items {
		name := strings.TrimSpace(ri.Name)
		if name == "" {
			name = strings.TrimSpace(ri.ComponentName)
		}
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		qty := 1
		if ri.Quantity.set {
			qty = max(int(ri.Quantity.v), 1)
		}
		out = append(out, model.ComponentSummary{Name: name, Category: normalizeCategory(ri.Category), Quantity: qty})
	}
	return out, nil
}

// ParseComponentDetail validates a single-component reply. The requested name
// is kept when the model omits or renames it.
func ParseComponentDetail(raw, name string) (model.Item, error) {
	doc, ok := ExtractJSON(raw)
	if !ok {
		return model.Item{}, &ParseFailure{Raw: raw, Reason: "no JSON object in reply"}
	}
	var ri rawItem
	if err := json.Unmarshal([]byte(doc), &ri); err != nil {
		return model.Item{}, &ParseFailure{Raw: raw, Reason: "malformed component: " + err.Error()}
	}
	ri.ComponentName = name
	it, ok := repairItem(ri)
	if !ok {
		return model.Item{}, &ParseFailure{Raw: raw, Reason: "missing component name"}
	}
	return it, nil
}
