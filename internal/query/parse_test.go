package query

import (
	"testing"

	"github.com/gapminder/ddf-server/internal/apperr"
)

func TestParseJSON_MinimalQuery(t *testing.T) {
	q, err := ParseJSON([]byte(`{"select":{"key":["geo"],"value":["name"]},"from":"entities"}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(q.Select.Key) != 1 || q.Select.Key[0] != "geo" {
		t.Errorf("unexpected select.key: %v", q.Select.Key)
	}
	if q.From != "entities" {
		t.Errorf("unexpected from: %s", q.From)
	}
}

func TestParseJSON_InvalidJSON(t *testing.T) {
	if _, err := ParseJSON([]byte(`{not json`)); err == nil {
		t.Fatal("expected an error for malformed JSON")
	} else if apperr.KindOf(err) != apperr.QuerySyntax {
		t.Errorf("expected QuerySyntax, got %v", apperr.KindOf(err))
	}
}

func TestParseJSON_MissingSelectOrFrom(t *testing.T) {
	if _, err := ParseJSON([]byte(`{"from":"entities"}`)); err == nil {
		t.Error("expected an error for missing select")
	}
	if _, err := ParseJSON([]byte(`{"select":{"key":["geo"],"value":[]}}`)); err == nil {
		t.Error("expected an error for missing from")
	}
}

func TestParseJSON_WhereAndOr(t *testing.T) {
	raw := `{
		"select":{"key":["geo","time"],"value":["population"]},
		"from":"datapoints",
		"where":{"$and":[{"time":{"$gt":1990}},{"geo":{"$in":["usa","can"]}}]}
	}`
	q, err := ParseJSON([]byte(raw))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	and, ok := q.Where.(AndPredicate)
	if !ok || len(and.Clauses) != 2 {
		t.Fatalf("expected a 2-clause AndPredicate, got %#v", q.Where)
	}
	cmp, ok := and.Clauses[0].(Comparison)
	if !ok || cmp.Column != "time" || cmp.Op != "gt" {
		t.Errorf("unexpected first clause: %#v", and.Clauses[0])
	}
}

func TestParseJSON_ScalarComparisonIsImplicitEq(t *testing.T) {
	raw := `{"select":{"key":["geo"],"value":[]},"from":"entities","where":{"geo":"usa"}}`
	q, err := ParseJSON([]byte(raw))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	cmp, ok := q.Where.(Comparison)
	if !ok || cmp.Op != "eq" || cmp.Operand != StringOperand("usa") {
		t.Fatalf("expected an implicit eq comparison, got %#v", q.Where)
	}
}

func TestParseJSON_JoinRefOperand(t *testing.T) {
	raw := `{"select":{"key":["geo"],"value":[]},"from":"entities","where":{"geo":"$country"}}`
	q, err := ParseJSON([]byte(raw))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	cmp := q.Where.(Comparison)
	if cmp.Operand != JoinRefOperand("country") {
		t.Errorf("expected a join reference operand, got %#v", cmp.Operand)
	}
}

func TestParseJSON_UnsupportedOperator(t *testing.T) {
	raw := `{"select":{"key":["geo"],"value":[]},"from":"entities","where":{"geo":{"$regex":"x"}}}`
	if _, err := ParseJSON([]byte(raw)); err == nil {
		t.Fatal("expected an error for an unsupported operator")
	}
}

func TestParseJSON_NullOperandRejected(t *testing.T) {
	raw := `{"select":{"key":["geo"],"value":[]},"from":"entities","where":{"geo":null}}`
	if _, err := ParseJSON([]byte(raw)); err == nil {
		t.Fatal("expected an error for a null operand")
	}
}

func TestParseJSON_JoinClause(t *testing.T) {
	raw := `{
		"select":{"key":["geo"],"value":[]},
		"from":"datapoints",
		"join":{"$country":{"key":"geo","where":{"is--country":true}}}
	}`
	q, err := ParseJSON([]byte(raw))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	binding, ok := q.Join["country"]
	if !ok {
		t.Fatalf("expected a join binding named country, got %v", q.Join)
	}
	if len(binding.Key) != 1 || binding.Key[0] != "geo" {
		t.Errorf("unexpected join key: %v", binding.Key)
	}
}

func TestParseJSON_JoinMissingKeyErrors(t *testing.T) {
	raw := `{"select":{"key":["geo"],"value":[]},"from":"datapoints","join":{"$country":{}}}`
	if _, err := ParseJSON([]byte(raw)); err == nil {
		t.Fatal("expected an error for a join binding with no key")
	}
}

func TestParseJSON_OrderByStringAndObjectForms(t *testing.T) {
	raw := `{
		"select":{"key":["geo"],"value":["population"]},
		"from":"entities",
		"order_by":["geo", {"population":"desc"}]
	}`
	q, err := ParseJSON([]byte(raw))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(q.OrderBy) != 2 {
		t.Fatalf("expected 2 order terms, got %d", len(q.OrderBy))
	}
	if q.OrderBy[0].Column != "geo" || q.OrderBy[0].Desc {
		t.Errorf("unexpected first order term: %#v", q.OrderBy[0])
	}
	if q.OrderBy[1].Column != "population" || !q.OrderBy[1].Desc {
		t.Errorf("unexpected second order term: %#v", q.OrderBy[1])
	}
}

func TestParseJSON_OrderByInvalidDirection(t *testing.T) {
	raw := `{"select":{"key":["geo"],"value":[]},"from":"entities","order_by":[{"geo":"sideways"}]}`
	if _, err := ParseJSON([]byte(raw)); err == nil {
		t.Fatal("expected an error for an invalid order_by direction")
	}
}

func TestParseJSON_LanguageField(t *testing.T) {
	raw := `{"select":{"key":["geo"],"value":["name"]},"from":"entities","language":"sv"}`
	q, err := ParseJSON([]byte(raw))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if q.Language != "sv" {
		t.Errorf("expected language sv, got %q", q.Language)
	}
}

func TestParseJSON_MalformedLanguageTagRejectedByValidate(t *testing.T) {
	raw := `{"select":{"key":["geo"],"value":[]},"from":"entities","language":"???"}`
	if _, err := ParseJSON([]byte(raw)); err == nil {
		t.Fatal("expected an error for a malformed language tag")
	}
}
