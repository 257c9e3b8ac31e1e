package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// templateVar matches `{{token}}` with dotted path segments.
var templateVar = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

const maxTemplateDepth = 3

// templateContext is what a step's interpolated strings may reference
// (spec.md §4.H "Template interpolation").
type templateContext struct {
	Caller     string
	Tenant     string
	Workflow   string
	Timestamp  string
	Transcript string

	// StepOutputs maps step order -> output fields for `{{step.<order>.<field>...}}`.
	StepOutputs map[int]map[string]interface{}

	// Extracted holds the most recent ai_extract/ai_extract_quote output, for
	// `{{extracted.<field>}}`.
	Extracted map[string]interface{}

	// EventLead holds the triggering call_ended event's `lead` object, the
	// lowest-precedence source for store_lead's merge (spec.md §4.H
	// "merge config > extracted > event.lead").
	EventLead map[string]interface{}
}

// interpolate substitutes every `{{...}}` token in s. Missing tokens render
// as empty strings (spec.md §4.H).
func interpolate(s string, ctx templateContext) string {
	return templateVar.ReplaceAllStringFunc(s, func(match string) string {
		path := templateVar.FindStringSubmatch(match)[1]
		return resolveToken(path, ctx)
	})
}

func resolveToken(path string, ctx templateContext) string {
	parts := strings.Split(path, ".")
	if len(parts) > maxTemplateDepth+1 {
		parts = parts[:maxTemplateDepth+1]
	}

	switch parts[0] {
	case "caller":
		return ctx.Caller
	case "tenant":
		return ctx.Tenant
	case "workflow":
		return ctx.Workflow
	case "timestamp":
		return ctx.Timestamp
	case "transcript":
		return ctx.Transcript
	case "step":
		if len(parts) < 3 {
			return ""
		}
		order, err := strconv.Atoi(parts[1])
		if err != nil {
			return ""
		}
		out, ok := ctx.StepOutputs[order]
		if !ok {
			return ""
		}
		return resolveField(out, parts[2:])
	case "extracted":
		if len(parts) < 2 {
			return ""
		}
		return resolveField(ctx.Extracted, parts[1:])
	default:
		return ""
	}
}

// resolveField walks a dotted path into a nested map, stopping gracefully
// (empty string) on any missing key or non-map intermediate value.
func resolveField(m map[string]interface{}, path []string) string {
	var cur interface{} = m
	for _, key := range path {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur, ok = asMap[key]
		if !ok {
			return ""
		}
	}
	if cur == nil {
		return ""
	}
	return fmt.Sprintf("%v", cur)
}
