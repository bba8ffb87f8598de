package worker

import (
	"context"
	"fmt"
	"iter"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/persistence"
	jsoniter "github.com/json-iterator/go"
)

// LocationStore is the slice of the batcher the discovery worker needs.
type LocationStore interface {
	Set(ctx context.Context, collection, id string, data map[string]any) error
	All(ctx context.Context, q persistence.Query, pageSize int) iter.Seq2[persistence.Document, error]
}

func locationToData(l model.Location) (map[string]any, error) {
	raw, err := jsoniter.Marshal(l)
	if err != nil {
		return nil, err
	}
	data := make(map[string]any)
	if err := jsoniter.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	delete(data, "id")
	return data, nil
}

func locationFromDocument(d persistence.Document) (model.Location, error) {
	raw, err := jsoniter.Marshal(d.Data)
	if err != nil {
		return model.Location{}, err
	}
	var l model.Location
	if err := jsoniter.Unmarshal(raw, &l); err != nil {
		return model.Location{}, fmt.Errorf("decode location %s: %w", d.ID, err)
	}
	l.ID = d.ID
	return l, nil
}

// loadCorpus reads every known location page by page.
func loadCorpus(ctx context.Context, store LocationStore, collection string, pageSize int) ([]model.Location, error) {
	var out []model.Location
	q := persistence.Query{Collection: collection}
	for d, err := range store.All(ctx, q, pageSize) {
		if err != nil {
			return nil, err
		}
		l, err := locationFromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// failingCorpus yields err on first use so the detector fails open.
func failingCorpus(err error) iter.Seq2[model.Location, error] {
	return func(yield func(model.Location, error) bool) {
		yield(model.Location{}, err)
	}
}
