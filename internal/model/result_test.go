package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_Totals(t *testing.T) {
	r := Result{Items: []Item{
		{MarketValueLow: 1, MarketValueHigh: 2, Quantity: 3},
		{MarketValueLow: 5, MarketValueHigh: 10, Quantity: 0},
	}}
	low, high := r.Totals()
	assert.InDelta(t, 8.0, low, 0.0001)
	assert.InDelta(t, 16.0, high, 0.0001)
}

func TestResult_AverageConfidence(t *testing.T) {
	assert.Zero(t, (&Result{}).AverageConfidence())
	r := Result{Items: []Item{{Confidence: 0.5}, {Confidence: 1.0}}}
	assert.InDelta(t, 0.75, r.AverageConfidence(), 0.0001)
}

func TestEmptyResult_ItemsNeverNull(t *testing.T) {
	resp := Response{Result: EmptyResult("nope"), ErrorKind: ErrorParseFailure}
	b, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, []any{}, decoded["items"])
	assert.Equal(t, "nope", decoded["message"])
	assert.Equal(t, "parse_failure", decoded["error_kind"])
}

func TestEnums_Valid(t *testing.T) {
	for _, c := range Categories() {
		assert.True(t, c.Valid(), c)
	}
	assert.False(t, Category("Widget").Valid())
	assert.True(t, ConditionFair.Valid())
	assert.False(t, Condition("Broken").Valid())
	assert.True(t, DifficultyHard.Valid())
	assert.False(t, Difficulty("Trivial").Valid())
	assert.True(t, ProviderGemini.Valid())
	assert.False(t, ProviderName("llama").Valid())
}

func TestEnums_WireValues(t *testing.T) {
	cats := make([]string, 0, len(Categories()))
	for _, c := range Categories() {
		cats = append(cats, string(c))
	}
	assert.Equal(t, []string{
		"ICs/Chips", "Passive Components", "Electromechanical", "Connectors",
		"Display/LEDs", "Sensors", "Power", "PCB", "Audio", "Other",
	}, cats)

	conds := make([]string, 0, len(Conditions()))
	for _, c := range Conditions() {
		assert.True(t, c.Valid(), c)
		conds = append(conds, string(c))
	}
	assert.Equal(t, []string{"New", "Good", "Fair", "For Parts"}, conds)
	assert.False(t, Condition("Excellent").Valid())
	assert.False(t, Condition("Poor").Valid())
}

func TestTimer_Marks(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tm := StartTimer(start)
	tm.Mark("cache", start.Add(5*time.Millisecond))
	tm.Mark("ai", start.Add(25*time.Millisecond))

	assert.Equal(t, int64(5), tm.Stages()["cache"])
	assert.Equal(t, int64(20), tm.Stages()["ai"])
	assert.Equal(t, int64(30), tm.Total(start.Add(30*time.Millisecond)))
}

func TestErrorKind_UserMessage(t *testing.T) {
	assert.Empty(t, ErrorNone.UserMessage())
	assert.Contains(t, ErrorRateLimited.UserMessage(), "wait")
	assert.NotEmpty(t, ErrorKind("other").UserMessage())
}
