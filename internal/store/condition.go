package store

import (
	"strings"
	"unicode"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Condition selects documents. Every condition can both be evaluated against
// a Document in process and be compiled into a database filter.
type Condition interface {
	Matches(doc Document) bool
	BSON() bson.D
}

// All matches every document.
func All() Condition { return allCondition{} }

type allCondition struct{}

func (allCondition) Matches(Document) bool { return true }
func (allCondition) BSON() bson.D          { return bson.D{} }

// Eq matches documents whose field equals value. When the field holds an
// array, the condition matches if any element equals value.
func Eq(field string, value any) Condition {
	return eqCondition{field: field, value: Canonical(value)}
}

type eqCondition struct {
	field string
	value any
}

func (c eqCondition) Matches(doc Document) bool {
	got, ok := ValueAt(doc, c.field)
	if !ok {
		return c.value == nil
	}
	return containsOrEqual(got, c.value)
}

func (c eqCondition) BSON() bson.D {
	return bson.D{{Key: c.field, Value: c.value}}
}

// Ne matches documents whose field does not equal value. When the field holds
// an array, no element may equal value. Documents without the field match.
func Ne(field string, value any) Condition {
	return neCondition{field: field, value: Canonical(value)}
}

type neCondition struct {
	field string
	value any
}

func (c neCondition) Matches(doc Document) bool {
	return !eqCondition(c).Matches(doc)
}

func (c neCondition) BSON() bson.D {
	return bson.D{{Key: c.field, Value: bson.D{{Key: "$ne", Value: c.value}}}}
}

// In matches documents whose field equals any of values.
func In(field string, values ...any) Condition {
	canon := make([]any, len(values))
	for i, v := range values {
		canon[i] = Canonical(v)
	}
	return inCondition{field: field, values: canon}
}

type inCondition struct {
	field  string
	values []any
}

func (c inCondition) Matches(doc Document) bool {
	got, ok := ValueAt(doc, c.field)
	if !ok {
		return false
	}
	for _, v := range c.values {
		if containsOrEqual(got, v) {
			return true
		}
	}
	return false
}

func (c inCondition) BSON() bson.D {
	return bson.D{{Key: c.field, Value: bson.D{{Key: "$in", Value: bson.A(c.values)}}}}
}

// And matches documents satisfying every condition.
func And(conds ...Condition) Condition {
	return andCondition(conds)
}

type andCondition []Condition

func (c andCondition) Matches(doc Document) bool {
	for _, cond := range c {
		if !cond.Matches(doc) {
			return false
		}
	}
	return true
}

func (c andCondition) BSON() bson.D {
	if len(c) == 0 {
		return bson.D{}
	}
	parts := make(bson.A, 0, len(c))
	for _, cond := range c {
		parts = append(parts, cond.BSON())
	}
	return bson.D{{Key: "$and", Value: parts}}
}

// Text is a full text search over the collection's text index. In process it
// matches documents where one of fields contains a search term as a word,
// case-insensitively. fields must list the fields of the text index; with
// none, every string field except _id is searched.
func Text(search string, fields ...string) Condition {
	return textCondition{search: search, terms: Terms(search), fields: fields}
}

type textCondition struct {
	search string
	terms  []string
	fields []string
}

func (c textCondition) Matches(doc Document) bool {
	return textScore(doc, c.terms, c.fields) > 0
}

func (c textCondition) BSON() bson.D {
	return bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: c.search}}}}
}

// Terms splits a search string into lower-cased words.
func Terms(search string) []string {
	return strings.FieldsFunc(strings.ToLower(search), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// textScore counts how many times the terms occur as words in the string
// values of fields, or of the whole document when fields is empty.
// Identifier fields are ignored.
func textScore(doc Document, terms, fields []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	var score float64
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			for _, w := range Terms(val) {
				for _, t := range terms {
					if w == t {
						score++
					}
				}
			}
		case Document:
			for k, item := range val {
				if k == "_id" {
					continue
				}
				walk(item)
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}

	if len(fields) == 0 {
		walk(doc)
		return score
	}
	for _, f := range fields {
		if v, ok := ValueAt(doc, f); ok {
			walk(v)
		}
	}
	return score
}

func containsOrEqual(got, want any) bool {
	if Equal(got, want) {
		return true
	}
	if arr, ok := got.([]any); ok {
		for _, item := range arr {
			if containsOrEqual(item, want) {
				return true
			}
		}
	}
	return false
}
