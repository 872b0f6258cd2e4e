package store

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Projection narrows the fields of returned documents. A projection is
// either inclusive or exclusive. Inclusive projections always keep _id.
type Projection struct {
	include bool
	fields  []string
}

// Include keeps only the given fields (plus _id).
func Include(fields ...string) *Projection {
	return &Projection{include: true, fields: fields}
}

// Exclude drops the given fields.
func Exclude(fields ...string) *Projection {
	return &Projection{fields: fields}
}

// BSON compiles the projection for the database driver.
func (p *Projection) BSON() bson.D {
	if p == nil {
		return nil
	}
	flag := 0
	if p.include {
		flag = 1
	}
	out := make(bson.D, 0, len(p.fields))
	for _, f := range p.fields {
		out = append(out, bson.E{Key: f, Value: flag})
	}
	return out
}

// Apply returns a projected copy of doc.
func (p *Projection) Apply(doc Document) Document {
	if p == nil || doc == nil {
		return doc
	}
	if !p.include {
		out := Clone(doc)
		for _, f := range p.fields {
			UnsetPath(out, f)
		}
		return out
	}

	out := Document{}
	for _, f := range p.fields {
		copyPath(doc, out, strings.Split(f, "."))
	}
	if id, ok := doc["_id"]; ok {
		out["_id"] = id
	}
	return out
}

func copyPath(src, dst Document, parts []string) {
	v, ok := src[parts[0]]
	if !ok {
		return
	}
	if len(parts) == 1 {
		dst[parts[0]] = cloneValue(v)
		return
	}
	switch val := v.(type) {
	case Document:
		child, ok := dst[parts[0]].(Document)
		if !ok {
			child = Document{}
			dst[parts[0]] = child
		}
		copyPath(val, child, parts[1:])
	case []any:
		items := make([]any, 0, len(val))
		for _, item := range val {
			if sub, ok := item.(Document); ok {
				child := Document{}
				copyPath(sub, child, parts[1:])
				items = append(items, child)
			}
		}
		dst[parts[0]] = items
	}
}
