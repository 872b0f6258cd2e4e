package store

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type updateOp string

const (
	opSet      updateOp = "$set"
	opInc      updateOp = "$inc"
	opPush     updateOp = "$push"
	opAddToSet updateOp = "$addToSet"
	opPull     updateOp = "$pull"
)

type updateStep struct {
	op    updateOp
	field string
	value any
}

// Update is an ordered list of field operators applied to a single document.
type Update struct {
	steps []updateStep
}

// NewUpdate starts an empty update.
func NewUpdate() *Update { return &Update{} }

// Set assigns value to field.
func (u *Update) Set(field string, value any) *Update {
	return u.add(opSet, field, value)
}

// Inc adds delta to a numeric field, creating it when missing.
func (u *Update) Inc(field string, delta int) *Update {
	return u.add(opInc, field, int64(delta))
}

// Push appends value to an array field.
func (u *Update) Push(field string, value any) *Update {
	return u.add(opPush, field, value)
}

// AddToSet appends value to an array field unless already present.
func (u *Update) AddToSet(field string, value any) *Update {
	return u.add(opAddToSet, field, value)
}

// Pull removes every occurrence of value from an array field.
func (u *Update) Pull(field string, value any) *Update {
	return u.add(opPull, field, value)
}

func (u *Update) add(op updateOp, field string, value any) *Update {
	u.steps = append(u.steps, updateStep{op: op, field: field, value: Canonical(value)})
	return u
}

// Empty reports whether the update changes nothing.
func (u *Update) Empty() bool { return u == nil || len(u.steps) == 0 }

// BSON compiles the update into an operator document. The updatedAt
// timestamp is always refreshed.
func (u *Update) BSON(now time.Time) bson.D {
	grouped := map[updateOp]bson.D{}
	var order []updateOp
	if u != nil {
		for _, s := range u.steps {
			if _, ok := grouped[s.op]; !ok {
				order = append(order, s.op)
			}
			grouped[s.op] = append(grouped[s.op], bson.E{Key: s.field, Value: s.value})
		}
	}
	if _, ok := grouped[opSet]; !ok {
		order = append(order, opSet)
	}
	grouped[opSet] = append(grouped[opSet], bson.E{Key: "updatedAt", Value: bson.NewDateTimeFromTime(now)})

	out := make(bson.D, 0, len(order))
	for _, op := range order {
		out = append(out, bson.E{Key: string(op), Value: grouped[op]})
	}
	return out
}

// Apply mutates doc in place and refreshes updatedAt.
func (u *Update) Apply(doc Document, now time.Time) {
	if u != nil {
		for _, s := range u.steps {
			applyStep(doc, s)
		}
	}
	doc["updatedAt"] = bson.NewDateTimeFromTime(now)
}

func applyStep(doc Document, s updateStep) {
	switch s.op {
	case opSet:
		SetPath(doc, s.field, cloneValue(s.value))
	case opInc:
		cur, _ := ValueAt(doc, s.field)
		SetPath(doc, s.field, addNumbers(cur, s.value))
	case opPush:
		arr := arrayAt(doc, s.field)
		SetPath(doc, s.field, append(arr, cloneValue(s.value)))
	case opAddToSet:
		arr := arrayAt(doc, s.field)
		for _, item := range arr {
			if Equal(item, s.value) {
				SetPath(doc, s.field, arr)
				return
			}
		}
		SetPath(doc, s.field, append(arr, cloneValue(s.value)))
	case opPull:
		arr := arrayAt(doc, s.field)
		kept := make([]any, 0, len(arr))
		for _, item := range arr {
			if !Equal(item, s.value) {
				kept = append(kept, item)
			}
		}
		SetPath(doc, s.field, kept)
	}
}

func arrayAt(doc Document, field string) []any {
	cur, ok := ValueAt(doc, field)
	if !ok {
		return []any{}
	}
	arr, _ := cur.([]any)
	if arr == nil {
		return []any{}
	}
	return arr
}

func addNumbers(cur, delta any) any {
	d, ok := number(delta)
	if !ok {
		return cur
	}
	c, ok := number(cur)
	if !ok {
		return delta
	}
	_, curFloat := cur.(float64)
	_, deltaFloat := delta.(float64)
	if curFloat || deltaFloat {
		return c + d
	}
	_, curSmall := cur.(int32)
	_, deltaSmall := delta.(int32)
	sum := int64(c) + int64(d)
	if curSmall && deltaSmall && sum >= math.MinInt32 && sum <= math.MaxInt32 {
		return int32(sum)
	}
	return sum
}
