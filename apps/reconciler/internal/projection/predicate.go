package projection

import (
	"encoding/json"
	"reflect"
)

// Op is a predicate operator
type Op string

const (
	OpAll         Op = ""
	OpEqualTo     Op = "equalTo"
	OpContainedIn Op = "containedIn"
)

// Predicate selects documents. The zero value matches everything.
type Predicate struct {
	Field  string        `json:"field,omitempty"`
	Op     Op            `json:"op,omitempty"`
	Values []interface{} `json:"values,omitempty"`
}

// All matches every document
func All() Predicate {
	return Predicate{}
}

// EqualTo matches documents whose field equals value. When the field holds an
// array it matches if any element equals value.
func EqualTo(field string, value interface{}) Predicate {
	return Predicate{Field: field, Op: OpEqualTo, Values: []interface{}{value}}
}

// ContainedIn matches documents whose field equals one of values. An empty
// value list matches nothing.
func ContainedIn(field string, values ...interface{}) Predicate {
	return Predicate{Field: field, Op: OpContainedIn, Values: values}
}

// ContainedInStrings is ContainedIn for a string slice
func ContainedInStrings(field string, values []string) Predicate {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return ContainedIn(field, vs...)
}

// Matches evaluates the predicate against a stored document
func (p Predicate) Matches(doc Document) bool {
	if p.Op == OpAll {
		return true
	}

	field, ok := doc[p.Field]
	if !ok {
		return false
	}

	candidates := []interface{}{field}
	if arr, isArr := field.([]interface{}); isArr {
		candidates = arr
	}

	for _, want := range p.Values {
		w := jsonValue(want)
		for _, have := range candidates {
			if reflect.DeepEqual(have, w) {
				return true
			}
		}
	}
	return false
}

// jsonValue brings a Go value into the shape it has inside a stored document
func jsonValue(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
