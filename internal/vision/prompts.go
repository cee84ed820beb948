package vision

import (
	"fmt"
	"strings"

	"github.com/sells-group/teardown/internal/model"
)

func categoryList() string {
	cats := model.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func conditionList() string {
	conds := model.Conditions()
	names := make([]string, len(conds))
	for i, c := range conds {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// SystemPrompt is sent with every full identification.
var SystemPrompt = `You are an electronics teardown expert. You look at photos of a device and list the internal components a hobbyist could salvage and reuse.

Rules:
- Identify the device shown, then decompose it into salvageable internal components.
- Do not list the casing, screws, fasteners, labels or packaging.
- Estimate used-market value ranges in USD per component.
- Respond with exactly one JSON object and nothing else. No markdown, no commentary.

The JSON object must have this shape:
{
  "parent_object": string,
  "items": [
    {
      "component_name": string,
      "category": one of [` + categoryList() + `],
      "specifications": object of string keys to values,
      "reusability_score": integer 1-10,
      "market_value_low": number,
      "market_value_high": number,
      "condition": one of [` + conditionList() + `],
      "confidence": number 0-1,
      "description": string,
      "common_uses": array of up to 5 strings,
      "quantity": integer >= 1
    }
  ],
  "total_estimated_value_low": number,
  "total_estimated_value_high": number,
  "salvage_difficulty": one of [Easy, Medium, Hard],
  "tools_needed": array of up to 8 strings
}

If the photo does not show a device with salvageable electronics, return the object with "items": [] and explain in "parent_object".`

// DeviceSystemPrompt asks only for the identity of the device.
const DeviceSystemPrompt = `You identify consumer electronics from photos. Respond with exactly one JSON object and nothing else:
{"device_name": string, "brand": string, "model": string, "category": string, "confidence": number 0-1}
Use empty strings for brand or model when they are not visible or not known.`

// ComponentsSystemPrompt asks for component names only.
var ComponentsSystemPrompt = `You are an electronics teardown expert. Given a device identity, list the salvageable internal components. Exclude casing, screws and packaging. Respond with exactly one JSON object and nothing else:
{"components": [{"name": string, "category": one of [` + categoryList() + `], "quantity": integer >= 1}]}`

// DetailSystemPrompt asks for the full record of one component.
var DetailSystemPrompt = `You are an electronics teardown expert. Describe one salvageable component of the given device. Respond with exactly one JSON object and nothing else:
{"component_name": string, "category": one of [` + categoryList() + `], "specifications": object, "reusability_score": integer 1-10, "market_value_low": number, "market_value_high": number, "condition": one of [` + conditionList() + `], "confidence": number 0-1, "description": string, "common_uses": array of up to 5 strings, "quantity": integer >= 1}`

// IdentifyText is the user turn for a full identification.
func IdentifyText(hint string) string {
	if strings.TrimSpace(hint) == "" {
		return "Identify this device and list its salvageable components."
	}
	return fmt.Sprintf("Identify this device and list its salvageable components. The user describes it as: %q", strings.TrimSpace(hint))
}

// DeviceText is the user turn for the identity stage.
func DeviceText(hint string) string {
	if strings.TrimSpace(hint) == "" {
		return "What device is this?"
	}
	return fmt.Sprintf("What device is this? The user describes it as: %q", strings.TrimSpace(hint))
}

// ComponentsText is the user turn for the component list stage.
func ComponentsText(id model.DeviceIdentity) string {
	return "List the salvageable components of: " + describeIdentity(id)
}

// DetailText is the user turn for the component detail stage.
func DetailText(id model.DeviceIdentity, component string) string {
	return fmt.Sprintf("Device: %s\nComponent: %s", describeIdentity(id), component)
}

func describeIdentity(id model.DeviceIdentity) string {
	parts := []string{id.DeviceName}
	if id.Brand != "" {
		parts = append(parts, "brand "+id.Brand)
	}
	if id.Model != "" {
		parts = append(parts, "model "+id.Model)
	}
	if id.Category != "" {
		parts = append(parts, "category "+id.Category)
	}
	return strings.Join(parts, ", ")
}
