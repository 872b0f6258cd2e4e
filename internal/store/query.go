package store

import (
	"sort"
)

// Filter returns the documents matching cond, in input order.
func Filter(docs []Document, cond Condition) []Document {
	if cond == nil {
		cond = All()
	}
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if cond.Matches(d) {
			out = append(out, d)
		}
	}
	return out
}

// SortDocuments stably sorts docs in place.
func SortDocuments(docs []Document, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, _ := ValueAt(docs[i], f.Field)
			b, _ := ValueAt(docs[j], f.Field)
			c := Compare(a, b)
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Window applies skip and limit.
func Window(docs []Document, skip, limit int64) []Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return []Document{}
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

// Query runs a find over an in-memory snapshot. Returned documents are
// copies.
func Query(docs []Document, cond Condition, opts FindOptions) []Document {
	matched := Filter(docs, cond)
	SortDocuments(matched, opts.Sort)
	matched = Window(matched, opts.Skip, opts.Limit)
	out := make([]Document, len(matched))
	for i, d := range matched {
		if opts.Projection != nil {
			out[i] = opts.Projection.Apply(d)
		} else {
			out[i] = Clone(d)
		}
	}
	return out
}
