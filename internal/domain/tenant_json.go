package domain

import "encoding/json"

// tenantConfigAlias has the same fields as RuntimeTenantConfig but none of
// its methods, so json can (un)marshal it without recursing into
// UnmarshalJSON/MarshalJSON below.
type tenantConfigAlias RuntimeTenantConfig

// knownTenantConfigFields is the set of JSON keys declared on
// RuntimeTenantConfig itself, used to separate "known" from "unknown" keys
// when round-tripping.
var knownTenantConfigFields = map[string]bool{
	"contractVersion":  true,
	"tenantId":         true,
	"dids":             true,
	"caps":             true,
	"stt":              true,
	"tts":              true,
	"audio":            true,
	"webhookSecret":    true,
	"webhookSecretRef": true,
	"transferProfiles": true,
	"assistantContext": true,
	"callForwarding":   true,
	"llmContext":       true,
}

// UnmarshalJSON parses a tenant config document, keeping any field this
// version doesn't declare in Extra (spec.md §3 "Unknown fields accepted").
func (c *RuntimeTenantConfig) UnmarshalJSON(data []byte) error {
	var alias tenantConfigAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	extra := make(map[string]interface{})
	for k, v := range raw {
		if knownTenantConfigFields[k] {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(v, &decoded); err != nil {
			continue
		}
		extra[k] = decoded
	}
	if len(extra) == 0 {
		extra = nil
	}

	*c = RuntimeTenantConfig(alias)
	c.Extra = extra
	return nil
}

// MarshalJSON serialises the config, re-emitting any preserved unknown
// fields alongside the known ones.
func (c RuntimeTenantConfig) MarshalJSON() ([]byte, error) {
	alias := tenantConfigAlias(c)
	known, err := json.Marshal(alias)
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = encoded
	}
	return json.Marshal(merged)
}
