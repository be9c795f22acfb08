package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Op is a query filter operator.
type Op string

const (
	OpEqual          Op = "=="
	OpNotEqual       Op = "!="
	OpLess           Op = "<"
	OpLessOrEqual    Op = "<="
	OpGreater        Op = ">"
	OpGreaterOrEqual Op = ">="
	OpArrayContains  Op = "array-contains"
	OpIn             Op = "in"
)

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// DocumentID is the pseudo field path that filters or orders by document id.
const DocumentID = "__name__"

type filter struct {
	field string
	parts []string
	op    Op
	value any
}

type ordering struct {
	field string
	parts []string
	dir   Direction
}

// Query selects documents of one collection. Query values are immutable;
// every builder method returns a modified copy.
type Query struct {
	collection  string
	filters     []filter
	order       *ordering
	limit       int
	limitToLast bool
	err         error
}

// From starts a query over a collection path.
func From(collection string) Query {
	q := Query{collection: collection}
	if err := validCollection(collection); err != nil {
		q.err = invalid("query", collection, err)
	}
	return q
}

// Collection returns the queried collection path.
func (q Query) Collection() string {
	return q.collection
}

// Where adds a filter. Documents missing the field never match.
func (q Query) Where(field string, op Op, value any) Query {
	f := filter{field: field, op: op}
	if field != DocumentID {
		parts, err := splitFieldPath(field)
		if err != nil {
			q.setErr(invalid("where", q.collection, err))
			return q
		}
		f.parts = parts
	}
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual, OpArrayContains:
		v, err := normalizeValue(value)
		if err != nil {
			q.setErr(invalid("where", q.collection, err))
			return q
		}
		f.value = v
	case OpIn:
		v, err := normalizeValue(value)
		if err != nil {
			q.setErr(invalid("where", q.collection, err))
			return q
		}
		if _, ok := v.([]any); !ok {
			q.setErr(invalid("where", q.collection, fmt.Errorf("operator in requires a list")))
			return q
		}
		f.value = v
	default:
		q.setErr(invalid("where", q.collection, fmt.Errorf("unknown operator %q", op)))
		return q
	}
	q.filters = append(append([]filter(nil), q.filters...), f)
	return q
}

// OrderBy sorts by a single field. Documents missing the field are excluded.
// Ties are broken by insertion sequence.
func (q Query) OrderBy(field string, dir Direction) Query {
	o := &ordering{field: field, dir: dir}
	if field != DocumentID {
		parts, err := splitFieldPath(field)
		if err != nil {
			q.setErr(invalid("order", q.collection, err))
			return q
		}
		o.parts = parts
	}
	q.order = o
	return q
}

// Limit keeps the first n results.
func (q Query) Limit(n int) Query {
	q.limit = n
	q.limitToLast = false
	return q
}

// LimitToLast keeps the last n results, still in query order.
func (q Query) LimitToLast(n int) Query {
	q.limit = n
	q.limitToLast = true
	return q
}

func (q *Query) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

// Query runs q against committed state.
func (s *Store) Query(ctx context.Context, q Query) ([]*Document, error) {
	return runQuery(ctx, s.db, q)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func runQuery(ctx context.Context, db querier, q Query) ([]*Document, error) {
	if q.err != nil {
		return nil, q.err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE collection = ?
		ORDER BY seq ASC
	`, q.collection)
	if err != nil {
		return nil, unavailable("query", q.collection, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, unavailable("query", q.collection, err)
		}
		if q.matches(d) {
			docs = append(docs, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query", q.collection, err)
	}

	if q.order != nil {
		docs = q.sortDocs(docs)
	}

	if q.limit > 0 && len(docs) > q.limit {
		if q.limitToLast {
			docs = docs[len(docs)-q.limit:]
		} else {
			docs = docs[:q.limit]
		}
	}
	return docs, nil
}

func fieldOf(d *Document, field string, parts []string) (any, bool) {
	if field == DocumentID {
		return d.ID, true
	}
	return lookup(d.Data, parts)
}

func (q Query) matches(d *Document) bool {
	for _, f := range q.filters {
		v, ok := fieldOf(d, f.field, f.parts)
		if !ok || !f.matches(v) {
			return false
		}
	}
	return true
}

func (f filter) matches(v any) bool {
	switch f.op {
	case OpEqual:
		return valuesEqual(v, f.value)
	case OpNotEqual:
		return v != nil && !valuesEqual(v, f.value)
	case OpArrayContains:
		arr, ok := v.([]any)
		return ok && containsValue(arr, f.value)
	case OpIn:
		return containsValue(f.value.([]any), v)
	}
	// Range operators only match values of the same kind.
	if typeRank(v) != typeRank(f.value) {
		return false
	}
	c := compareValues(v, f.value)
	switch f.op {
	case OpLess:
		return c < 0
	case OpLessOrEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterOrEqual:
		return c >= 0
	}
	return false
}

func (q Query) sortDocs(docs []*Document) []*Document {
	o := q.order
	kept := docs[:0:0]
	keys := make(map[*Document]any, len(docs))
	for _, d := range docs {
		v, ok := fieldOf(d, o.field, o.parts)
		if !ok {
			continue
		}
		keys[d] = v
		kept = append(kept, d)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		c := compareValues(keys[kept[i]], keys[kept[j]])
		if c == 0 {
			// seq ascending regardless of direction.
			return kept[i].Seq < kept[j].Seq
		}
		if o.dir == Desc {
			return c > 0
		}
		return c < 0
	})
	return kept
}
