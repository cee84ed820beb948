package vision

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/teardown/internal/model"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"fence without tag", "```\n{\"a\":1}\n```", `{"a":1}`, true},
		{"prose around", "Here is the result:\n{\"a\":{\"b\":2}}\nHope this helps!", `{"a":{"b":2}}`, true},
		{"braces after object", "{\"a\":1}\nLet me know if you need more :}", `{"a":1}`, true},
		{"braces before object", "Format is {key: value}. Result: {\"a\":1}", `{"a":1}`, true},
		{"brace in string", `Answer: {"a":"}{"} done`, `{"a":"}{"}`, true},
		{"no object", "I cannot identify this photo.", "", false},
		{"truncated", `{"a":`, "", false},
		{"empty", "  ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResult_Valid(t *testing.T) {
	raw := `{
		"parent_object": "Netgear R7000 router",
		"items": [
			{"component_name": "Broadcom BCM4709 SoC", "category": "ICs/Chips", "specifications": {"cores": 2},
			 "reusability_score": 6, "market_value_low": 3, "market_value_high": 8, "condition": "Good",
			 "confidence": 0.9, "description": "Dual-core ARM SoC", "common_uses": ["routing"], "quantity": 1},
			{"component_name": "Dipole antenna", "category": "Connectors", "reusability_score": 9,
			 "market_value_low": 1, "market_value_high": 2, "condition": "New", "confidence": 0.95,
			 "description": "2.4/5GHz antenna", "common_uses": ["ESP32 projects"], "quantity": 3}
		],
		"total_estimated_value_low": 6,
		"total_estimated_value_high": 14,
		"salvage_difficulty": "Easy",
		"tools_needed": ["Phillips #1", "Spudger"]
	}`

	res, err := ParseResult(raw)
	require.NoError(t, err)
	assert.Equal(t, "Netgear R7000 router", res.ParentObject)
	require.Len(t, res.Items, 2)
	assert.Equal(t, model.CategoryICs, res.Items[0].Category)
	assert.Equal(t, float64(2), res.Items[0].Specifications["cores"])
	assert.Equal(t, model.CategoryConnectors, res.Items[1].Category)
	assert.Equal(t, model.ConditionNew, res.Items[1].Condition)
	assert.Equal(t, 3, res.Items[1].Quantity)
	assert.Equal(t, map[string]any{}, res.Items[1].Specifications)
	assert.Equal(t, 6.0, res.TotalEstimatedValueLow)
	assert.Equal(t, 14.0, res.TotalEstimatedValueHigh)
	assert.Equal(t, model.DifficultyEasy, res.SalvageDifficulty)
	assert.Equal(t, []string{"Phillips #1", "Spudger"}, res.ToolsNeeded)
}

func TestParseResult_Repairs(t *testing.T) {
	raw := "```json\n" + `{
		"parent_object": "Bluetooth speaker",
		"items": [
			{"component_name": "ESP32", "category": "microcontroller", "reusability_score": 14,
			 "market_value_low": 5, "market_value_high": 2, "condition": "mint", "confidence": 87,
			 "common_uses": ["a","b","c","d","e","f","g"], "quantity": 0},
			{"component_name": "", "category": "Audio"},
			{"name": "Speaker driver", "category": "Loudspeaker", "reusability_score": -3,
			 "market_value_low": "$1.50", "market_value_high": "4", "confidence": -0.2, "common_uses": "toys"}
		],
		"salvage_difficulty": "extreme",
		"tools_needed": ["1","2","3","4","5","6","7","8","9","10"]
	}` + "\n```"

	res, err := ParseResult(raw)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	esp := res.Items[0]
	assert.Equal(t, model.CategoryICs, esp.Category)
	assert.Equal(t, 10, esp.ReusabilityScore)
	assert.Equal(t, 2.0, esp.MarketValueLow)
	assert.Equal(t, 5.0, esp.MarketValueHigh)
	assert.Equal(t, model.ConditionNew, esp.Condition)
	assert.InDelta(t, 0.87, esp.Confidence, 1e-9)
	assert.Len(t, esp.CommonUses, 5)
	assert.Equal(t, 1, esp.Quantity)

	spk := res.Items[1]
	assert.Equal(t, "Speaker driver", spk.ComponentName)
	assert.Equal(t, model.CategoryOther, spk.Category)
	assert.Equal(t, 1, spk.ReusabilityScore)
	assert.Equal(t, 1.5, spk.MarketValueLow)
	assert.Equal(t, 4.0, spk.MarketValueHigh)
	assert.Equal(t, 0.0, spk.Confidence)
	assert.Equal(t, model.ConditionGood, spk.Condition)
	assert.Equal(t, []string{"toys"}, spk.CommonUses)

	assert.Equal(t, model.DifficultyMedium, res.SalvageDifficulty)
	assert.Len(t, res.ToolsNeeded, 8)
	assert.Equal(t, 3.5, res.TotalEstimatedValueLow)
	assert.Equal(t, 9.0, res.TotalEstimatedValueHigh)
}

func TestParseResult_KeepsContractEnums(t *testing.T) {
	for _, cat := range model.Categories() {
		for _, cond := range model.Conditions() {
			raw := `{"parent_object":"Router","items":[{"component_name":"Part","category":"` + string(cat) +
				`","condition":"` + string(cond) + `"}]}`
			res, err := ParseResult(raw)
			require.NoError(t, err)
			require.Len(t, res.Items, 1)
			assert.Equal(t, cat, res.Items[0].Category)
			assert.Equal(t, cond, res.Items[0].Condition)
		}
	}
}

func TestNormalizeEnums(t *testing.T) {
	tests := []struct {
		in   string
		want model.Category
	}{
		{"ics/chips", model.CategoryICs},
		{" passive components ", model.CategoryPassive},
		{"display/leds", model.CategoryDisplay},
		{"pcb", model.CategoryPCB},
		{"Microcontroller", model.CategoryICs},
		{"Motor", model.CategoryElectromechanical},
		{"Sensor", model.CategorySensors},
		{"Connector", model.CategoryConnectors},
		{"Lighting", model.CategoryDisplay},
		{"Widget", model.CategoryOther},
		{"", model.CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeCategory(tt.in), tt.in)
	}

	assert.Equal(t, model.ConditionForParts, normalizeCondition("for parts"))
	assert.Equal(t, model.ConditionNew, normalizeCondition("NEW"))
	assert.Equal(t, model.ConditionNew, normalizeCondition("Excellent"))
	assert.Equal(t, model.ConditionForParts, normalizeCondition("Poor"))
	assert.Equal(t, model.ConditionGood, normalizeCondition("unknown"))
}

func TestParseResult_InvertedTotalsSwapped(t *testing.T) {
	res, err := ParseResult(`{"parent_object":"Lamp","items":[{"component_name":"LED","market_value_low":1,"market_value_high":2}],
		"total_estimated_value_low": 20, "total_estimated_value_high": 10}`)
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.TotalEstimatedValueLow)
	assert.Equal(t, 20.0, res.TotalEstimatedValueHigh)
}

func TestParseResult_EmptyItems(t *testing.T) {
	res, err := ParseResult(`{"parent_object":"This is a cat, not a device","items":[]}`)
	require.NoError(t, err)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
	assert.NotNil(t, res.ToolsNeeded)
	assert.Zero(t, res.TotalEstimatedValueHigh)
}

func TestParseResult_Failures(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"prose only", "Sorry, I can't help with that.", "no JSON object"},
		{"missing parent", `{"items":[]}`, "missing parent_object"},
		{"items object", `{"parent_object":"x","items":{"component_name":"a"}}`, "items is not an array"},
		{"items missing", `{"parent_object":"x"}`, "items is not an array"},
		{"items null", `{"parent_object":"x","items":null}`, "items is not an array"},
		{"wrong parent type", `{"parent_object":5,"items":[]}`, "malformed result"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResult(tt.raw)
			var pf *ParseFailure
			require.True(t, errors.As(err, &pf))
			assert.Contains(t, pf.Reason, tt.reason)
			assert.Equal(t, tt.raw, pf.Raw)
			assert.Equal(t, model.ErrorParseFailure, KindOf(err))
		})
	}
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity(`{"device_name":" Roku Express ","brand":"Roku","model":"unknown","category":"Streaming","confidence":1.4}`)
	require.NoError(t, err)
	assert.Equal(t, "Roku Express", id.DeviceName)
	assert.Equal(t, "Roku", id.Brand)
	assert.Empty(t, id.Model)
	assert.Equal(t, 1.0, id.Confidence)

	_, err = ParseIdentity(`{"brand":"Roku"}`)
	var pf *ParseFailure
	require.True(t, errors.As(err, &pf))
	assert.Contains(t, pf.Reason, "device_name")
}

func TestParseComponentList(t *testing.T) {
	list, err := ParseComponentList(`{"components":[
		{"name":"Main board","category":"PCB","quantity":1},
		{"name":"main board","category":"Other"},
		{"name":"Fan","category":"fan","quantity":-1},
		{"name":""}
	]}`)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.ComponentSummary{Name: "Main board", Category: model.CategoryPCB, Quantity: 1}, list[0])
	assert.Equal(t, model.ComponentSummary{Name: "Fan", Category: model.CategoryOther, Quantity: 1}, list[1])

	_, err = ParseComponentList(`{"components":"Main board"}`)
	var pf *ParseFailure
	assert.True(t, errors.As(err, &pf))
}

func TestParseComponentDetail(t *testing.T) {
	it, err := ParseComponentDetail(`{"component_name":"Power board (renamed)","category":"Power","reusability_score":7,
		"market_value_low":2,"market_value_high":6,"condition":"Fair","confidence":0.7,"quantity":1}`, "Power board")
	require.NoError(t, err)
	assert.Equal(t, "Power board", it.ComponentName)
	assert.Equal(t, model.CategoryPower, it.Category)
	assert.Equal(t, model.ConditionFair, it.Condition)

	_, err = ParseComponentDetail("no json", "Power board")
	var pf *ParseFailure
	assert.True(t, errors.As(err, &pf))
}
