package batcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/persistence"
	jsoniter "github.com/json-iterator/go"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Page is one slice of an ordered result set. HasNext and HasPrevious come from the extra record fetched
// and from whether a cursor was supplied; no count query is issued.
type Page struct {
	Documents   []persistence.Document `json:"documents"`
	NextCursor  string                 `json:"next_cursor,omitempty"`
	HasNext     bool                   `json:"has_next"`
	HasPrevious bool                   `json:"has_previous"`
}

// EncodeCursor returns an opaque token for c.
func EncodeCursor(c persistence.Cursor) (string, error) {
	raw, err := jsoniter.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func DecodeCursor(token string) (*persistence.Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c persistence.Cursor
	if err := jsoniter.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	return &c, nil
}

// Paginate returns at most limit documents of q starting after cursor. An empty cursor starts at the beginning.
// q.Limit and q.After are ignored.
func (b *Batcher) Paginate(ctx context.Context, q persistence.Query, limit int, cursor string) (Page, error) {
	if limit <= 0 {
		return Page{}, fmt.Errorf("%w: limit must be positive", persistence.ErrInvalidQuery)
	}
	q.Limit = limit + 1
	q.After = nil
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		q.After = c
	}

	docs, err := b.Query(ctx, q)
	if err != nil {
		return Page{}, err
	}
	page := Page{HasPrevious: cursor != ""}
	if len(docs) > limit {
		page.HasNext = true
		docs = docs[:limit]
	}
	page.Documents = docs
	if page.HasNext {
		last := docs[len(docs)-1]
		if page.NextCursor, err = EncodeCursor(persistence.Cursor{ID: last.ID, Value: q.OrderValue(last)}); err != nil {
			return Page{}, fmt.Errorf("encode cursor: %w", err)
		}
	}
	return page, nil
}

// All walks every document of q page by page. Iteration stops at the first error, which is yielded.
func (b *Batcher) All(ctx context.Context, q persistence.Query, pageSize int) iter.Seq2[persistence.Document, error] {
	return func(yield func(persistence.Document, error) bool) {
		cursor := ""
		for {
			page, err := b.Paginate(ctx, q, pageSize, cursor)
			if err != nil {
				yield(persistence.Document{}, err)
				return
			}
			for _, d := range page.Documents {
				if !yield(d, nil) {
					return
				}
			}
			if !page.HasNext {
				return
			}
			cursor = page.NextCursor
		}
	}
}
