package model

import (
	"errors"
	"testing"

	jsoniter "github.com/json-iterator/go"
)

func TestScrapingTargetValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  ScrapingTarget
		wantErr bool
	}{
		{name: "valid", target: ScrapingTarget{URL: "https://example.com/lagos", Category: Directory}},
		{name: "placeholder", target: ScrapingTarget{URL: "https://example.com/search?q={query}", Category: Maps}},
		{name: "empty url", target: ScrapingTarget{URL: " "}, wantErr: true},
		{name: "no scheme", target: ScrapingTarget{URL: "example.com/lagos"}, wantErr: true},
		{name: "ftp", target: ScrapingTarget{URL: "ftp://example.com"}, wantErr: true},
		{name: "bad category", target: ScrapingTarget{URL: "https://example.com", Category: SourceCategory(42)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTarget) {
					t.Fatalf("expected ErrInvalidTarget, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestScrapingTargetFetchURLs(t *testing.T) {
	tests := []struct {
		name   string
		target ScrapingTarget
		want   []string
	}{
		{
			name:   "no queries",
			target: ScrapingTarget{URL: "https://example.com/places"},
			want:   []string{"https://example.com/places"},
		},
		{
			name:   "query param",
			target: ScrapingTarget{URL: "https://example.com/search?city=lagos", SearchQueries: []string{"amala", " ", "ewedu soup"}},
			want: []string{
				"https://example.com/search?city=lagos&q=amala",
				"https://example.com/search?city=lagos&q=ewedu+soup",
			},
		},
		{
			name:   "placeholder",
			target: ScrapingTarget{URL: "https://example.com/find/{query}", SearchQueries: []string{"amala spot"}},
			want:   []string{"https://example.com/find/amala+spot"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.target.FetchURLs()
			if len(got) != len(tt.want) {
				t.Fatalf("urls = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("url[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSourceCategoryJSON(t *testing.T) {
	var target ScrapingTarget
	payload := []byte(`{"url":"https://example.com","category":"review-site","search_queries":["amala"]}`)
	if err := jsoniter.Unmarshal(payload, &target); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if target.Category != ReviewSite {
		t.Fatalf("category = %v, want review-site", target.Category)
	}

	if err := jsoniter.Unmarshal([]byte(`{"url":"https://example.com","category":"newspaper"}`), &target); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}

func TestNewCandidateIsPending(t *testing.T) {
	c := NewCandidate("  Iya Basira Kitchen ", "")
	if c.Status != StatusPending {
		t.Fatalf("status = %q, want pending", c.Status)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		t.Fatalf("candidate id and timestamp must be set")
	}
	if c.Name != "Iya Basira Kitchen" {
		t.Fatalf("name = %q", c.Name)
	}
}
