package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Stage is one step of an aggregation pipeline. Stages compile to the
// database's aggregation language and can be evaluated in process.
type Stage interface {
	stageBSON() bson.D
	eval(ctx context.Context, docs []Document, r Resolver) ([]Document, error)
}

// Pipeline is an ordered list of stages.
type Pipeline []Stage

// BSON compiles the pipeline for the database driver.
func (p Pipeline) BSON() []bson.D {
	out := make([]bson.D, 0, len(p))
	for _, s := range p {
		out = append(out, s.stageBSON())
	}
	return out
}

// Evaluate runs the pipeline over docs in process. Lookup stages fetch
// their foreign collection through r. The input slice is not modified.
func Evaluate(ctx context.Context, docs []Document, p Pipeline, r Resolver) ([]Document, error) {
	cur := make([]Document, len(docs))
	for i, d := range docs {
		cur[i] = Clone(d)
	}
	for i, s := range p {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := s.eval(ctx, cur, r)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		cur = next
	}
	return cur, nil
}

// Match keeps documents satisfying Cond.
type Match struct {
	Cond Condition
}

func (s Match) stageBSON() bson.D {
	return bson.D{{Key: "$match", Value: s.Cond.BSON()}}
}

func (s Match) eval(_ context.Context, docs []Document, _ Resolver) ([]Document, error) {
	return Filter(docs, s.Cond), nil
}

// Sort orders documents.
type Sort struct {
	Fields []SortField
}

func (s Sort) stageBSON() bson.D {
	return bson.D{{Key: "$sort", Value: SortBSON(s.Fields)}}
}

func (s Sort) eval(_ context.Context, docs []Document, _ Resolver) ([]Document, error) {
	SortDocuments(docs, s.Fields)
	return docs, nil
}

// Skip drops the first N documents.
type Skip struct {
	N int64
}

func (s Skip) stageBSON() bson.D {
	return bson.D{{Key: "$skip", Value: s.N}}
}

func (s Skip) eval(_ context.Context, docs []Document, _ Resolver) ([]Document, error) {
	return Window(docs, s.N, 0), nil
}

// Limit keeps at most N documents.
type Limit struct {
	N int64
}

func (s Limit) stageBSON() bson.D {
	return bson.D{{Key: "$limit", Value: s.N}}
}

func (s Limit) eval(_ context.Context, docs []Document, _ Resolver) ([]Document, error) {
	return Window(docs, 0, s.N), nil
}

// Lookup joins documents of another collection where ForeignField equals
// LocalField, storing the matches as an array under As.
type Lookup struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
}

func (s Lookup) stageBSON() bson.D {
	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: s.From},
		{Key: "localField", Value: s.LocalField},
		{Key: "foreignField", Value: s.ForeignField},
		{Key: "as", Value: s.As},
	}}}
}

func (s Lookup) eval(ctx context.Context, docs []Document, r Resolver) ([]Document, error) {
	if r == nil {
		return nil, fmt.Errorf("lookup %q: no resolver", s.From)
	}
	foreign, err := r.Documents(ctx, s.From)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", s.From, err)
	}
	for _, d := range docs {
		local, _ := ValueAt(d, s.LocalField)
		keys := []any{local}
		if arr, ok := local.([]any); ok {
			keys = arr
		}
		joined := []any{}
		for _, f := range foreign {
			fv, _ := ValueAt(f, s.ForeignField)
			for _, k := range keys {
				if containsOrEqual(fv, k) {
					joined = append(joined, Clone(f))
					break
				}
			}
		}
		SetPath(d, s.As, joined)
	}
	return docs, nil
}

// Unwind emits one document per element of the array at Path. Documents
// whose array is missing or empty are dropped unless PreserveEmpty is set.
type Unwind struct {
	Path          string
	PreserveEmpty bool
}

func (s Unwind) stageBSON() bson.D {
	return bson.D{{Key: "$unwind", Value: bson.D{
		{Key: "path", Value: "$" + s.Path},
		{Key: "preserveNullAndEmptyArrays", Value: s.PreserveEmpty},
	}}}
}

func (s Unwind) eval(_ context.Context, docs []Document, _ Resolver) ([]Document, error) {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		v, ok := ValueAt(d, s.Path)
		arr, isArr := v.([]any)
		switch {
		case !ok || v == nil || (isArr && len(arr) == 0):
			if s.PreserveEmpty {
				if isArr {
					UnsetPath(d, s.Path)
				}
				out = append(out, d)
			}
		case !isArr:
			out = append(out, d)
		default:
			for _, item := range arr {
				cp := Clone(d)
				SetPath(cp, s.Path, cloneValue(item))
				out = append(out, cp)
			}
		}
	}
	return out, nil
}

// AccumulatorOp names a group accumulator.
type AccumulatorOp string

const (
	OpSum      AccumulatorOp = "$sum"
	OpFirst    AccumulatorOp = "$first"
	OpPush     AccumulatorOp = "$push"
	OpAddToSet AccumulatorOp = "$addToSet"
)

// Accumulator computes the output field Name of a group. A Sum without
// Field counts documents.
type Accumulator struct {
	Name  string
	Op    AccumulatorOp
	Field string
}

// Count is a Sum accumulator counting documents.
func Count(name string) Accumulator { return Accumulator{Name: name, Op: OpSum} }

// Group collects documents sharing the value at By into one document whose
// _id is that value. An empty By groups everything together.
type Group struct {
	By           string
	Accumulators []Accumulator
}

func (s Group) stageBSON() bson.D {
	var id any
	if s.By != "" {
		id = "$" + s.By
	}
	spec := bson.D{{Key: "_id", Value: id}}
	for _, a := range s.Accumulators {
		var arg any = int32(1)
		if a.Field != "" {
			arg = "$" + a.Field
		}
		spec = append(spec, bson.E{Key: a.Name, Value: bson.D{{Key: string(a.Op), Value: arg}}})
	}
	return bson.D{{Key: "$group", Value: spec}}
}

func (s Group) eval(_ context.Context, docs []Document, _ Resolver) ([]Document, error) {
	var groups []Document
	for _, d := range docs {
		var key any
		if s.By != "" {
			key, _ = ValueAt(d, s.By)
		}
		var g Document
		for _, existing := range groups {
			if Equal(existing["_id"], key) {
				g = existing
				break
			}
		}
		first := g == nil
		if first {
			g = Document{"_id": key}
			groups = append(groups, g)
		}
		for _, a := range s.Accumulators {
			if err := accumulate(g, a, d, first); err != nil {
				return nil, err
			}
		}
	}
	if groups == nil {
		groups = []Document{}
	}
	return groups, nil
}

func accumulate(g Document, a Accumulator, d Document, first bool) error {
	var val any
	found := false
	if a.Field != "" {
		val, found = ValueAt(d, a.Field)
	}
	switch a.Op {
	case OpSum:
		cur := g[a.Name]
		if cur == nil {
			cur = int32(0)
		}
		switch {
		case a.Field == "":
			g[a.Name] = addNumbers(cur, int64(1))
		default:
			if _, ok := number(val); ok {
				g[a.Name] = addNumbers(cur, val)
			} else {
				g[a.Name] = cur
			}
		}
	case OpFirst:
		if first {
			g[a.Name] = cloneValue(val)
		}
	case OpPush:
		arr, _ := g[a.Name].([]any)
		if arr == nil {
			arr = []any{}
		}
		if found {
			arr = append(arr, cloneValue(val))
		}
		g[a.Name] = arr
	case OpAddToSet:
		arr, _ := g[a.Name].([]any)
		if arr == nil {
			arr = []any{}
		}
		if found {
			dup := false
			for _, item := range arr {
				if Equal(item, val) {
					dup = true
					break
				}
			}
			if !dup {
				arr = append(arr, cloneValue(val))
			}
		}
		g[a.Name] = arr
	default:
		return fmt.Errorf("unknown accumulator %q", a.Op)
	}
	return nil
}

// Project reshapes documents with a projection.
type Project struct {
	Projection *Projection
}

func (s Project) stageBSON() bson.D {
	return bson.D{{Key: "$project", Value: s.Projection.BSON()}}
}

func (s Project) eval(_ context.Context, docs []Document, _ Resolver) ([]Document, error) {
	for i, d := range docs {
		docs[i] = s.Projection.Apply(d)
	}
	return docs, nil
}

// TextScore stores the relevance of each document for Search under As. It
// belongs after a Match on Text with the same search string and fields.
type TextScore struct {
	Search string
	As     string
	Fields []string
}

func (s TextScore) stageBSON() bson.D {
	return bson.D{{Key: "$addFields", Value: bson.D{
		{Key: s.As, Value: bson.D{{Key: "$meta", Value: "textScore"}}},
	}}}
}

func (s TextScore) eval(_ context.Context, docs []Document, _ Resolver) ([]Document, error) {
	terms := Terms(s.Search)
	for _, d := range docs {
		d[s.As] = textScore(d, terms, s.Fields)
	}
	return docs, nil
}
