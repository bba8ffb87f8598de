package persistence

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"

	jsoniter "github.com/json-iterator/go"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidQuery = errors.New("invalid query")
)

var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Document is one record in a named collection. Data holds JSON-compatible values only.
type Document struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

type Operator string

const (
	OpEq  Operator = "=="
	OpNe  Operator = "!="
	OpLt  Operator = "<"
	OpLte Operator = "<="
	OpGt  Operator = ">"
	OpGte Operator = ">="
)

type Filter struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

// Cursor marks the position of the last document of a page: its order value and id.
type Cursor struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// Query selects documents of one collection. Results are ordered by OrderBy (id when empty) with id as
// tie-break, and start strictly after the After cursor when set. Limit 0 means no limit.
type Query struct {
	Collection string    `json:"collection"`
	Filters    []Filter  `json:"filters,omitempty"`
	OrderBy    string    `json:"order_by,omitempty"`
	Direction  Direction `json:"direction"`
	Limit      int       `json:"limit"`
	After      *Cursor   `json:"after,omitempty"`
}

// Shape identifies the query for caching purposes.
func (q Query) Shape() string {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(q)
	if err != nil {
		return fmt.Sprintf("%s|%v", q.Collection, q)
	}
	return string(b)
}

func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: empty collection", ErrInvalidQuery)
	}
	if q.OrderBy != "" && !fieldRe.MatchString(q.OrderBy) {
		return fmt.Errorf("%w: bad order field %q", ErrInvalidQuery, q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if !fieldRe.MatchString(f.Field) {
			return fmt.Errorf("%w: bad filter field %q", ErrInvalidQuery, f.Field)
		}
		switch f.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
	}
	return nil
}

// OrderValue returns the value a document is ordered by under q.
func (q Query) OrderValue(d Document) any {
	if q.OrderBy == "" {
		return d.ID
	}
	return d.Data[q.OrderBy]
}

type MutationKind int

const (
	MutationSet MutationKind = iota
	MutationUpdate
	MutationDelete
)

func (k MutationKind) String() string {
	switch k {
	case MutationSet:
		return "set"
	case MutationUpdate:
		return "update"
	case MutationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Mutation is one write inside an atomic commit. Set replaces the document, Update merges Data into an
// existing document and fails with ErrNotFound when it is missing, Delete removes it.
type Mutation struct {
	Kind       MutationKind
	Collection string
	ID         string
	Data       map[string]any
}

// DocumentStore is the backend beneath the batcher.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	// Commit applies every mutation or none of them.
	Commit(ctx context.Context, mutations []Mutation) error
	Close() error
}

func validateMutations(mutations []Mutation) error {
	for _, m := range mutations {
		if m.Collection == "" || m.ID == "" {
			return fmt.Errorf("%w: %s mutation needs collection and id", ErrInvalidQuery, m.Kind)
		}
	}
	return nil
}

// normalize round-trips data through JSON so every backend sees the same value types.
func normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	b, err := jsoniter.Marshal(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(data))
	if err := jsoniter.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// compareValues orders JSON values: null < bool < number < string. Other kinds compare by JSON text.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 0:
		return 0
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 2:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return cmp.Compare(fa, fb)
	case 3:
		return cmp.Compare(a.(string), b.(string))
	default:
		ja, _ := jsoniter.MarshalToString(a)
		jb, _ := jsoniter.MarshalToString(b)
		return cmp.Compare(ja, jb)
	}
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	default:
		if _, ok := toFloat(v); ok {
			return 2
		}
		return 4
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func matches(d Document, filters []Filter) bool {
	for _, f := range filters {
		c := compareValues(d.Data[f.Field], f.Value)
		var ok bool
		switch f.Op {
		case OpEq:
			ok = c == 0
		case OpNe:
			ok = c != 0
		case OpLt:
			ok = c < 0
		case OpLte:
			ok = c <= 0
		case OpGt:
			ok = c > 0
		case OpGte:
			ok = c >= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

// applyQuery filters, orders, positions and limits docs in memory.
func applyQuery(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if matches(d, q.Filters) {
			out = append(out, d)
		}
	}
	order := func(a, b Document) int {
		c := compareValues(q.OrderValue(a), q.OrderValue(b))
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if q.Direction == Desc {
			return -c
		}
		return c
	}
	slices.SortFunc(out, order)

	if q.After != nil {
		pivot := Document{ID: q.After.ID}
		if q.OrderBy != "" {
			pivot.Data = map[string]any{q.OrderBy: q.After.Value}
		}
		start, _ := slices.BinarySearchFunc(out, pivot, order)
		for start < len(out) && order(out[start], pivot) <= 0 {
			start++
		}
		out = out[start:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
