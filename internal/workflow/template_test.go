package workflow

import "testing"

func TestInterpolateBasicTokens(t *testing.T) {
	ctx := templateContext{
		Caller:     "+15551234567",
		Tenant:     "acme",
		Workflow:   "After-hours lead",
		Transcript: "caller: hello",
		StepOutputs: map[int]map[string]interface{}{
			1: {"summary": "Caller wants a quote"},
		},
		Extracted: map[string]interface{}{"name": "Jane"},
	}

	got := interpolate("Hi {{caller}}, re: {{workflow}} for {{tenant}} - {{step.1.summary}} - {{extracted.name}}", ctx)
	want := "Hi +15551234567, re: After-hours lead for acme - Caller wants a quote - Jane"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestInterpolateMissingTokenRendersEmpty(t *testing.T) {
	var ctx templateContext
	got := interpolate("value: [{{extracted.missing}}]", ctx)
	if got != "value: []" {
		t.Fatalf("got %q", got)
	}
}

func TestInterpolateDepthLimited(t *testing.T) {
	ctx := templateContext{
		StepOutputs: map[int]map[string]interface{}{
			1: {"a": map[string]interface{}{"b": map[string]interface{}{"c": "too-deep"}}},
		},
	}
	// step.1.a.b.c exceeds the depth limit, so the path is truncated before
	// reaching "c" and resolves to the intermediate map, not "too-deep".
	got := interpolate("{{step.1.a.b.c}}", ctx)
	if got == "too-deep" {
		t.Fatalf("expected depth-limited path to not reach the deepest value, got %q", got)
	}
}
