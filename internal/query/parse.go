package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gapminder/ddf-server/internal/apperr"
)

// ParseJSON decodes a JSON query object; the caller percent-decodes the
// query string first.
func ParseJSON(raw []byte) (*Query, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Wrap(apperr.QuerySyntax, "query is not valid JSON", err)
	}
	return FromGeneric(doc)
}

// FromGeneric builds a Query AST from a generic decoded document, shared by
// both the JSON and the URL-object-notation parsers.
func FromGeneric(doc map[string]interface{}) (*Query, error) {
	q := &Query{}

	selectRaw, ok := doc["select"]
	if !ok {
		return nil, apperr.New(apperr.QuerySyntax, "missing select clause")
	}
	selectMap, ok := asMap(selectRaw)
	if !ok {
		return nil, apperr.New(apperr.QuerySyntax, "select must be an object")
	}
	key, err := asStringSlice(selectMap["key"])
	if err != nil {
		return nil, apperr.Wrap(apperr.QuerySyntax, "select.key must be an array of strings", err)
	}
	q.Select.Key = key
	value, err := asStringSlice(selectMap["value"])
	if err != nil {
		return nil, apperr.Wrap(apperr.QuerySyntax, "select.value must be an array of strings", err)
	}
	q.Select.Value = value

	fromRaw, ok := doc["from"]
	if !ok {
		return nil, apperr.New(apperr.QuerySyntax, "missing from clause")
	}
	from, ok := fromRaw.(string)
	if !ok {
		return nil, apperr.New(apperr.QuerySyntax, "from must be a string")
	}
	q.From = from

	if whereRaw, ok := doc["where"]; ok {
		pred, err := parsePredicate(whereRaw)
		if err != nil {
			return nil, err
		}
		q.Where = pred
	}

	if joinRaw, ok := doc["join"]; ok {
		joinMap, ok := asMap(joinRaw)
		if !ok {
			return nil, apperr.New(apperr.QuerySyntax, "join must be an object")
		}
		q.Join = make(map[string]JoinBinding, len(joinMap))
		for name, bindingRaw := range joinMap {
			varName := strings.TrimPrefix(name, "$")
			bindingMap, ok := asMap(bindingRaw)
			if !ok {
				return nil, apperr.New(apperr.QuerySyntax, fmt.Sprintf("malformed join variable: %q", name))
			}
			var binding JoinBinding
			switch k := bindingMap["key"].(type) {
			case string:
				binding.Key = []string{k}
			default:
				ks, err := asStringSlice(bindingMap["key"])
				if err != nil {
					return nil, apperr.Wrap(apperr.QuerySyntax, fmt.Sprintf("malformed join variable: %q", name), err)
				}
				binding.Key = ks
			}
			if len(binding.Key) == 0 {
				return nil, apperr.New(apperr.QuerySyntax, fmt.Sprintf("malformed join variable: %q", name))
			}
			if whereRaw, ok := bindingMap["where"]; ok {
				pred, err := parsePredicate(whereRaw)
				if err != nil {
					return nil, err
				}
				binding.Where = pred
			}
			q.Join[varName] = binding
		}
	}

	if orderRaw, ok := doc["order_by"]; ok {
		terms, err := parseOrderBy(orderRaw)
		if err != nil {
			return nil, err
		}
		q.OrderBy = terms
	}

	if langRaw, ok := doc["language"]; ok {
		lang, ok := langRaw.(string)
		if !ok {
			return nil, apperr.New(apperr.QuerySyntax, "language must be a string")
		}
		q.Language = lang
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func parseOrderBy(raw interface{}) ([]OrderTerm, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, apperr.New(apperr.QuerySyntax, "order_by must be an array")
	}
	terms := make([]OrderTerm, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			terms = append(terms, OrderTerm{Column: v})
		case map[string]interface{}:
			if len(v) != 1 {
				return nil, apperr.New(apperr.QuerySyntax, "malformed order_by entry")
			}
			for col, dir := range v {
				dirStr, ok := dir.(string)
				if !ok {
					return nil, apperr.New(apperr.QuerySyntax, "malformed order_by direction")
				}
				switch strings.ToLower(dirStr) {
				case "asc":
					terms = append(terms, OrderTerm{Column: col})
				case "desc":
					terms = append(terms, OrderTerm{Column: col, Desc: true})
				default:
					return nil, apperr.New(apperr.QuerySyntax, fmt.Sprintf("malformed order_by direction: %q", dirStr))
				}
			}
		default:
			return nil, apperr.New(apperr.QuerySyntax, "malformed order_by entry")
		}
	}
	return terms, nil
}

var comparisonOps = map[string]string{
	"$eq": "eq", "$ne": "ne", "$gt": "gt", "$gte": "gte",
	"$lt": "lt", "$lte": "lte", "$in": "in", "$nin": "nin",
}

func parsePredicate(raw interface{}) (Predicate, error) {
	m, ok := asMap(raw)
	if !ok {
		return nil, apperr.New(apperr.QuerySyntax, "where clause must be an object")
	}
	if len(m) == 0 {
		return AndPredicate{}, nil
	}

	if andRaw, ok := m["$and"]; ok {
		clauses, err := parsePredicateList(andRaw)
		if err != nil {
			return nil, err
		}
		return AndPredicate{Clauses: clauses}, nil
	}
	if orRaw, ok := m["$or"]; ok {
		clauses, err := parsePredicateList(orRaw)
		if err != nil {
			return nil, err
		}
		return OrPredicate{Clauses: clauses}, nil
	}

	// Otherwise every key is a column name; multiple columns combine as an
	// implicit $and (rewrite step 5 makes this explicit again later).
	var clauses []Predicate
	for col, rhs := range m {
		cmp, err := parseColumnComparison(col, rhs)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, cmp)
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return AndPredicate{Clauses: clauses}, nil
}

func parsePredicateList(raw interface{}) ([]Predicate, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, apperr.New(apperr.QuerySyntax, "$and/$or must be an array of predicates")
	}
	out := make([]Predicate, 0, len(list))
	for _, item := range list {
		pred, err := parsePredicate(item)
		if err != nil {
			return nil, err
		}
		out = append(out, pred)
	}
	return out, nil
}

func parseColumnComparison(col string, rhs interface{}) (Predicate, error) {
	if opMap, ok := asMap(rhs); ok {
		var clauses []Predicate
		for opKey, opVal := range opMap {
			op, ok := comparisonOps[opKey]
			if !ok {
				return nil, apperr.New(apperr.QuerySyntax, fmt.Sprintf("unsupported comparison operator: %q", opKey))
			}
			operand, err := parseOperand(opVal)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, Comparison{Column: col, Op: op, Operand: operand})
		}
		if len(clauses) == 1 {
			return clauses[0], nil
		}
		return AndPredicate{Clauses: clauses}, nil
	}
	operand, err := parseOperand(rhs)
	if err != nil {
		return nil, err
	}
	return Comparison{Column: col, Op: "eq", Operand: operand}, nil
}

func parseOperand(raw interface{}) (ValueOperand, error) {
	switch v := raw.(type) {
	case string:
		if strings.HasPrefix(v, "$") {
			return JoinRefOperand(strings.TrimPrefix(v, "$")), nil
		}
		return StringOperand(v), nil
	case float64:
		return NumberOperand(v), nil
	case bool:
		return BoolOperand(v), nil
	case []interface{}:
		list := make(ListOperand, 0, len(v))
		for _, item := range v {
			operand, err := parseOperand(item)
			if err != nil {
				return nil, err
			}
			list = append(list, operand)
		}
		return list, nil
	case nil:
		return nil, apperr.New(apperr.QuerySyntax, "null is not a valid comparison operand")
	default:
		return nil, apperr.New(apperr.QuerySyntax, fmt.Sprintf("unsupported operand type: %T", raw))
	}
}

func asMap(raw interface{}) (map[string]interface{}, bool) {
	m, ok := raw.(map[string]interface{})
	return m, ok
}

func asStringSlice(raw interface{}) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", raw)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string element, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}
