package extract

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
	jsoniter "github.com/json-iterator/go"
)

var listWrappers = []string{"results", "data", "items", "places", "restaurants", "listings", "businesses"}

type jsonListing struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Address  string   `json:"address"`
	Location string   `json:"location"`
	Phone    string   `json:"phone"`
	Website  string   `json:"website"`
	URL      string   `json:"url"`
	Rating   any      `json:"rating"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
}

// JSONListings decodes a search API payload: either a bare array or an object wrapping one.
func (e *Extractor) JSONListings(body []byte, sourceURL string) ([]model.LocationCandidate, error) {
	var listings []jsonListing
	if err := jsoniter.Unmarshal(body, &listings); err != nil {
		var wrapped map[string]jsoniter.RawMessage
		if err := jsoniter.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("json listing payload: %w", err)
		}
		for _, key := range listWrappers {
			raw, ok := wrapped[key]
			if !ok {
				continue
			}
			if err := jsoniter.Unmarshal(raw, &listings); err == nil && len(listings) > 0 {
				break
			}
		}
	}

	out := make([]model.LocationCandidate, 0, min(len(listings), e.maxItems))
	for _, l := range listings {
		name := CleanText(l.Name)
		if name == "" {
			name = CleanText(l.Title)
		}
		if utf8.RuneCountInString(name) <= minNameLength {
			continue
		}
		address := CleanText(l.Address)
		if address == "" {
			address = CleanText(l.Location)
		}
		c := model.NewCandidate(name, address)
		c.SourceURL = sourceURL
		c.Phone = CleanText(l.Phone)
		c.Website = l.Website
		if c.Website == "" {
			c.Website = l.URL
		}
		c.Rating = jsonRating(l.Rating)
		if l.Lat != nil && l.Lng != nil {
			c.Coordinates = &model.Coordinates{Lat: *l.Lat, Lng: *l.Lng}
		}
		out = append(out, c)
		if len(out) >= e.maxItems {
			break
		}
	}
	return out, nil
}

func jsonRating(v any) *float64 {
	var f float64
	switch r := v.(type) {
	case float64:
		f = r
	case string:
		parsed, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if f < 0 || f > 5 {
		return nil
	}
	return &f
}
