// Package policy tracks the service tier the platform declares for this
// workload and derives the permitted reporting interval and heartbeat
// eligibility from it.
package policy

import "encoding/json"

// Info is the tier information extracted from one platform response.
type Info struct {
	Tier       string
	Minutes    int
	HasMinutes bool
}

// ExtractionRule probes one known response shape for tier information.
// Rules are independently testable and tried in priority order; the first
// rule that matches wins.
type ExtractionRule struct {
	Name    string
	Extract func(fields map[string]json.RawMessage) (Info, bool)
}

// nestedTier matches responses that carry a tier object:
//
//	{"tier": {"name": "business", "updateIntervalMinutes": 30}}
func nestedTier(fields map[string]json.RawMessage) (Info, bool) {
	raw, ok := fields["tier"]
	if !ok {
		return Info{}, false
	}
	var tier struct {
		Name    string `json:"name"`
		Minutes *int   `json:"updateIntervalMinutes"`
	}
	if err := json.Unmarshal(raw, &tier); err != nil || tier.Name == "" {
		return Info{}, false
	}
	info := Info{Tier: tier.Name}
	if tier.Minutes != nil {
		info.Minutes = *tier.Minutes
		info.HasMinutes = true
	}
	return info, true
}

// rootTier matches responses with tier fields at the response root:
//
//	{"tier": "business", "updateIntervalMinutes": 30, ...}
func rootTier(fields map[string]json.RawMessage) (Info, bool) {
	raw, ok := fields["tier"]
	if !ok {
		return Info{}, false
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil || name == "" {
		return Info{}, false
	}
	info := Info{Tier: name}
	if rawMin, ok := fields["updateIntervalMinutes"]; ok {
		var minutes int
		if err := json.Unmarshal(rawMin, &minutes); err == nil {
			info.Minutes = minutes
			info.HasMinutes = true
		}
	}
	return info, true
}

// DefaultRules is the prioritized list of known response shapes. Both
// locations are probed before concluding a response carries no tier
// information.
var DefaultRules = []ExtractionRule{
	{Name: "nested-tier", Extract: nestedTier},
	{Name: "root-tier", Extract: rootTier},
}

// ExtractInfo runs the rules against a raw response payload. It returns
// false when the payload is not a JSON object or no rule matches.
func ExtractInfo(payload []byte, rules []ExtractionRule) (Info, bool) {
	if len(payload) == 0 {
		return Info{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Info{}, false
	}
	for _, rule := range rules {
		if info, ok := rule.Extract(fields); ok {
			return info, true
		}
	}
	return Info{}, false
}
