package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gapminder/ddf-server/internal/apperr"
)

// ParseURLObject decodes a bracketed URL-object-notation query string, e.g.
// `select[key][]=geo&select[key][]=time&from=datapoints&where[year][$gt]=1990`,
// into the same Query AST ParseJSON produces.
func ParseURLObject(rawQuery string) (*Query, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, apperr.Wrap(apperr.QuerySyntax, "malformed url-object query string", err)
	}

	root := map[string]interface{}{}
	for key, vals := range values {
		segs := splitBrackets(key)
		for _, v := range vals {
			insertPath(root, segs, v)
		}
	}

	doc, ok := normalize(root).(map[string]interface{})
	if !ok {
		return nil, apperr.New(apperr.QuerySyntax, "malformed url-object query string")
	}

	if whereRaw, ok := doc["where"]; ok {
		doc["where"] = coerceLeaves(whereRaw)
	}
	if joinRaw, ok := doc["join"]; ok {
		if joinMap, ok := joinRaw.(map[string]interface{}); ok {
			for name, bindingRaw := range joinMap {
				bindingMap, ok := bindingRaw.(map[string]interface{})
				if !ok {
					continue
				}
				if w, ok := bindingMap["where"]; ok {
					bindingMap["where"] = coerceLeaves(w)
				}
				joinMap[name] = bindingMap
			}
		}
	}

	return FromGeneric(doc)
}

// splitBrackets tokenizes a bracketed key like "join[$geo][where][lt]" into
// ["join", "$geo", "where", "lt"]; "a[]" tokenizes to ["a", ""] (array
// append).
func splitBrackets(key string) []string {
	idx := strings.IndexByte(key, '[')
	if idx < 0 {
		return []string{key}
	}
	segs := []string{key[:idx]}
	rest := key[idx:]
	for len(rest) > 0 && rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			break
		}
		segs = append(segs, rest[1:end])
		rest = rest[end+1:]
	}
	return segs
}

// insertPath writes value into container at the nested path described by
// segs, creating intermediate maps as needed. An empty segment ("[]")
// appends to the next unused integer-keyed slot of its parent map, which
// normalize later collapses into a slice.
func insertPath(container map[string]interface{}, segs []string, value string) {
	key := segs[0]
	if len(segs) == 1 {
		container[key] = value
		return
	}

	childRaw, ok := container[key]
	child, ok2 := childRaw.(map[string]interface{})
	if !ok || !ok2 {
		child = map[string]interface{}{}
		container[key] = child
	}

	rest := segs[1:]
	if rest[0] == "" {
		idx := nextIndex(child)
		insertPath(child, append([]string{idx}, rest[1:]...), value)
		return
	}
	insertPath(child, rest, value)
}

func nextIndex(m map[string]interface{}) string {
	idx := 0
	for {
		if _, exists := m[strconv.Itoa(idx)]; !exists {
			return strconv.Itoa(idx)
		}
		idx++
	}
}

// normalize converts any map whose keys are all non-negative integers into
// an ordered []interface{}, recursively.
func normalize(node interface{}) interface{} {
	m, ok := node.(map[string]interface{})
	if !ok {
		return node
	}

	allNumeric := len(m) > 0
	for k := range m {
		if _, err := strconv.Atoi(k); err != nil {
			allNumeric = false
			break
		}
	}
	if allNumeric {
		keys := make([]int, 0, len(m))
		for k := range m {
			n, _ := strconv.Atoi(k)
			keys = append(keys, n)
		}
		sort.Ints(keys)
		arr := make([]interface{}, 0, len(keys))
		for _, k := range keys {
			arr = append(arr, normalize(m[strconv.Itoa(k)]))
		}
		return arr
	}

	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

// coerceLeaves walks a where-clause subtree produced by the URL-object
// parser (where every leaf arrived as a string) and converts numeric- and
// boolean-looking leaves to their typed form, so `{$lt: 25}` compiles the
// same way whether the query arrived as JSON or as bracket notation.
func coerceLeaves(node interface{}) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = coerceLeaves(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = coerceLeaves(val)
		}
		return out
	case string:
		if strings.HasPrefix(v, "$") {
			return v
		}
		if v == "true" {
			return true
		}
		if v == "false" {
			return false
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
		return v
	default:
		return v
	}
}
