package validate

import (
	"bytes"
	"encoding/json"
	"regexp"
	"testing"
)

func decodeBody(t *testing.T, raw string) map[string]any {
	t.Helper()
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()
	var body map[string]any
	if err := decoder.Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestEvaluateCollectsAllViolations(t *testing.T) {
	rules := NewRuleSet(
		Field{Path: "items", Rules: []Rule{Required("must contain at least one item"), IsArray()}},
		Field{Path: "shippingAddress.phone", Rules: []Rule{
			Required(""),
			Pattern(regexp.MustCompile(`^\+?[0-9]{7,15}$`), "must be a valid phone number"),
		}},
		Field{Path: "paymentMethod", Rules: []Rule{Required(""), Enum("CARD", "PAYPAL", "COD")}},
	)
	body := decodeBody(t, `{
		"items": [],
		"shippingAddress": {"phone": "not-a-phone"},
		"paymentMethod": "BITCOIN"
	}`)

	violations := rules.Evaluate(body)
	if len(violations) != 3 {
		t.Fatalf("expected 3 violations, got %d: %v", len(violations), violations)
	}
	if violations[0].Field != "items" || violations[0].Message != "must contain at least one item" {
		t.Fatalf("unexpected first violation %+v", violations[0])
	}
	if violations[1].Field != "shippingAddress.phone" {
		t.Fatalf("unexpected second violation %+v", violations[1])
	}
	if violations[2].Field != "paymentMethod" {
		t.Fatalf("unexpected third violation %+v", violations[2])
	}
}

func TestOptionalAbsentSkipsChain(t *testing.T) {
	rules := NewRuleSet(
		Field{Path: "brand", Rules: []Rule{Optional(), Length(2, 40)}},
	)
	if violations := rules.Evaluate(decodeBody(t, `{}`)); len(violations) != 0 {
		t.Fatalf("expected no violations for absent optional field, got %v", violations)
	}
	violations := rules.Evaluate(decodeBody(t, `{"brand": "x"}`))
	if len(violations) != 1 {
		t.Fatalf("expected length violation when optional field present, got %v", violations)
	}
}

func TestWildcardPathsReportConcreteIndexes(t *testing.T) {
	rules := NewRuleSet(
		Field{Path: "items.*.quantity", Rules: []Rule{Required(""), IsInt(), Range(1, 99)}},
		Field{Path: "items.*.productId", Rules: []Rule{Required(""), ID()}},
	)
	body := decodeBody(t, `{
		"items": [
			{"quantity": 2, "productId": "64de8c310f1b2a3c4d5e6f70"},
			{"quantity": 0, "productId": "nope"}
		]
	}`)
	violations := rules.Evaluate(body)
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %v", violations)
	}
	if violations[0].Field != "items.1.quantity" {
		t.Fatalf("expected items.1.quantity, got %s", violations[0].Field)
	}
	if violations[1].Field != "items.1.productId" {
		t.Fatalf("expected items.1.productId, got %s", violations[1].Field)
	}
}

func TestTrimRewritesValueForHandlers(t *testing.T) {
	rules := NewRuleSet(
		Field{Path: "name", Trim: true, Rules: []Rule{Required(""), Length(2, 100)}},
	)
	body := decodeBody(t, `{"name": "  Widget  "}`)
	if violations := rules.Evaluate(body); len(violations) != 0 {
		t.Fatalf("unexpected violations: %v", violations)
	}
	if body["name"] != "Widget" {
		t.Fatalf("expected trimmed value in body, got %q", body["name"])
	}
}

func TestRequiredStopsChainButOtherFieldsStillRun(t *testing.T) {
	rules := NewRuleSet(
		Field{Path: "name", Rules: []Rule{Required(""), Length(2, 100)}},
		Field{Path: "price", Rules: []Rule{Required(""), IsFloat()}},
	)
	violations := rules.Evaluate(decodeBody(t, `{"price": "abc"}`))
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %v", violations)
	}
	if violations[0].Field != "name" {
		t.Fatalf("expected name violation first, got %+v", violations[0])
	}
	if violations[1].Field != "price" || violations[1].Message != "must be a number" {
		t.Fatalf("unexpected price violation %+v", violations[1])
	}
}

func TestNumericCoercion(t *testing.T) {
	rules := NewRuleSet(
		Field{Path: "countInStock", Rules: []Rule{IsInt(), Range(0, 10000)}},
	)
	cases := []struct {
		body  string
		valid bool
	}{
		{body: `{"countInStock": 5}`, valid: true},
		{body: `{"countInStock": "12"}`, valid: true},
		{body: `{"countInStock": 3.5}`, valid: false},
		{body: `{"countInStock": -1}`, valid: false},
		{body: `{"countInStock": "lots"}`, valid: false},
	}
	for _, tc := range cases {
		violations := rules.Evaluate(decodeBody(t, tc.body))
		if tc.valid && len(violations) != 0 {
			t.Fatalf("body %s: unexpected violations %v", tc.body, violations)
		}
		if !tc.valid && len(violations) == 0 {
			t.Fatalf("body %s: expected violation", tc.body)
		}
	}
}

func TestDecodeStructuredFields(t *testing.T) {
	body := map[string]any{
		"items":           `[{"productId":"64de8c310f1b2a3c4d5e6f70","quantity":1}]`,
		"shippingAddress": `{"city":"Lisbon"}`,
		"tags":            `not json`,
		"title":           "plain string stays",
	}
	results := DecodeStructuredFields(body, "items", "shippingAddress", "tags", "missing")

	if results["items"] != StructuredDecoded {
		t.Fatalf("expected items decoded, got %v", results["items"])
	}
	items, ok := body["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected decoded items array, got %T", body["items"])
	}
	address, ok := body["shippingAddress"].(map[string]any)
	if !ok || address["city"] != "Lisbon" {
		t.Fatalf("expected decoded address, got %v", body["shippingAddress"])
	}
	if results["tags"] != StructuredEmptied {
		t.Fatalf("expected tags emptied, got %v", results["tags"])
	}
	if emptied, ok := body["tags"].([]any); !ok || len(emptied) != 0 {
		t.Fatalf("expected empty collection for malformed tags, got %v", body["tags"])
	}
	if results["missing"] != StructuredAbsent {
		t.Fatalf("expected missing field absent, got %v", results["missing"])
	}
	if body["title"] != "plain string stays" {
		t.Fatalf("non-allow-listed field mutated: %v", body["title"])
	}
}
