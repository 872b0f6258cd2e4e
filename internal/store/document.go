package store

import (
	"bytes"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Document is the untyped shape every backend stores and returns.
//
// Values inside a Document are always canonical: whatever bson.Unmarshal
// produces for a bson.M, with nested documents flattened to Document and
// arrays to []any. In-process backends rely on this to compare values
// without knowing the Go type they were written from.
type Document = bson.M

// ToDocument encodes any bson-marshalable value into a canonical Document.
func ToDocument(v any) (Document, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return normalize(doc).(Document), nil
}

// FromDocument decodes a Document into out.
func FromDocument(doc Document, out any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

// Canonical converts a Go value into the representation it would have after
// a bson round trip. Values that bson cannot encode are returned unchanged.
func Canonical(v any) any {
	switch v.(type) {
	case nil, string, bool, int32, int64, float64, bson.ObjectID, bson.DateTime:
		return v
	}
	raw, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return v
	}
	var wrapper Document
	if err := bson.Unmarshal(raw, &wrapper); err != nil {
		return v
	}
	return normalize(wrapper["v"])
}

// Canonicalize rewrites a document decoded by a driver into canonical form.
func Canonicalize(doc Document) Document {
	if doc == nil {
		return nil
	}
	return normalize(doc).(Document)
}

func normalize(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(Document, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(Document, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case bson.D:
		out := make(Document, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

// Clone returns a deep copy of doc.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(Document)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Document:
		out := make(Document, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []byte:
		return append([]byte(nil), val...)
	default:
		return v
	}
}

// ValueAt resolves a dotted path. Paths crossing an array collect the values
// found in each element, the way the document database does.
func ValueAt(doc Document, path string) (any, bool) {
	return lookupParts(doc, strings.Split(path, "."))
}

func lookupParts(v any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return v, true
	}
	switch val := v.(type) {
	case Document:
		next, ok := val[parts[0]]
		if !ok {
			return nil, false
		}
		return lookupParts(next, parts[1:])
	case []any:
		var collected []any
		for _, item := range val {
			if found, ok := lookupParts(item, parts); ok {
				collected = append(collected, found)
			}
		}
		if len(collected) == 0 {
			return nil, false
		}
		return collected, true
	default:
		return nil, false
	}
}

// SetPath assigns value at a dotted path, creating intermediate documents.
func SetPath(doc Document, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(Document)
		if !ok {
			next = Document{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// UnsetPath removes the value at a dotted path. Arrays along the path are
// walked element by element.
func UnsetPath(doc Document, path string) {
	unsetParts(doc, strings.Split(path, "."))
}

func unsetParts(v any, parts []string) {
	switch val := v.(type) {
	case Document:
		if len(parts) == 1 {
			delete(val, parts[0])
			return
		}
		unsetParts(val[parts[0]], parts[1:])
	case []any:
		for _, item := range val {
			unsetParts(item, parts)
		}
	}
}

// Equal compares two canonical values. Numbers compare by value across
// int32/int64/float64.
func Equal(a, b any) bool {
	if na, ok := number(a); ok {
		if nb, ok := number(b); ok {
			return na == nb
		}
		return false
	}
	switch av := a.(type) {
	case bson.DateTime:
		if bt, ok := b.(time.Time); ok {
			return av.Time().Equal(bt)
		}
	case time.Time:
		if bd, ok := b.(bson.DateTime); ok {
			return av.Equal(bd.Time())
		}
	case Document:
		bv, ok := b.(Document)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, item := range av {
			other, ok := bv[k]
			if !ok || !Equal(item, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two canonical values using the document database's
// cross-type ordering: null < numbers < strings < documents < arrays <
// binary < object ids < booleans < dates.
func Compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNumber:
		na, _ := number(a)
		nb, _ := number(b)
		return cmpOrdered(na, nb)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankObjectID:
		oa, ob := a.(bson.ObjectID), b.(bson.ObjectID)
		return bytes.Compare(oa[:], ob[:])
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case rankDate:
		return cmpOrdered(millis(a), millis(b))
	case rankArray:
		aa, ba := a.([]any), b.([]any)
		for i := 0; i < len(aa) && i < len(ba); i++ {
			if c := Compare(aa[i], ba[i]); c != 0 {
				return c
			}
		}
		return cmpOrdered(len(aa), len(ba))
	}
	return 0
}

const (
	rankNull = iota
	rankNumber
	rankString
	rankDocument
	rankArray
	rankBinary
	rankObjectID
	rankBool
	rankDate
	rankOther
)

func typeRank(v any) int {
	if _, ok := number(v); ok {
		return rankNumber
	}
	switch v.(type) {
	case nil:
		return rankNull
	case string:
		return rankString
	case Document:
		return rankDocument
	case []any:
		return rankArray
	case []byte, bson.Binary:
		return rankBinary
	case bson.ObjectID:
		return rankObjectID
	case bool:
		return rankBool
	case bson.DateTime, time.Time:
		return rankDate
	default:
		return rankOther
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func millis(v any) int64 {
	switch t := v.(type) {
	case bson.DateTime:
		return int64(t)
	case time.Time:
		return t.UnixMilli()
	}
	return 0
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
