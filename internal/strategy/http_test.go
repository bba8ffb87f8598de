package strategy

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/extract"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/loader"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
	"github.com/jarcoal/httpmock"
)

const listingPage = `<!doctype html><html><head><title>Best amala in Lagos</title></head><body>
<h1>Where to eat amala</h1>
<h2>Mama Cass Amala Spot</h2>
<h2>Contact us</h2>
<h3>Iya Oyo Bukka</h3>
<p>Lagos has no shortage of places serving amala with ewedu and gbegiri, from roadside bukas to sit-down restaurants.</p>
</body></html>`

func responder(status int, contentType, body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(status, body)
		resp.Header.Set("Content-Type", contentType)
		resp.Request = req
		return resp, nil
	}
}

type stubPage struct {
	snap        loader.Snapshot
	navigations int
}

func (p *stubPage) Navigate(context.Context, string, loader.WaitCondition) error {
	p.navigations++
	return nil
}

func (p *stubPage) Snapshot(context.Context) (loader.Snapshot, error) {
	return p.snap, nil
}

type stubPages struct {
	page     *stubPage
	released int
}

func (s *stubPages) AcquirePage(context.Context) (loader.Page, error) { return s.page, nil }
func (s *stubPages) ReleasePage(loader.Page)                          { s.released++ }

func testLoader() *loader.Loader {
	return loader.New(loader.Options{MaxRetries: 3, RetryBackoff: time.Millisecond, PageTimeout: time.Second,
		MinBodyLength: 20}, discard(), nil)
}

func TestHTTPStrategyExtractsKeywordHeadings(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://guide.example.com/amala",
		responder(http.StatusOK, "text/html; charset=utf-8", listingPage))

	s := NewHTTPStrategy(time.Second, 20, extract.New(20), discard()).WithTransport(transport)
	out, err := s.Fetch(context.Background(),
		model.ScrapingTarget{URL: "https://guide.example.com/amala", Category: model.Blog})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	var names []string
	for _, c := range out.Candidates {
		names = append(names, c.Name)
	}
	want := "Where to eat amala,Mama Cass Amala Spot,Iya Oyo Bukka"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("names = %q, want %q", got, want)
	}
	if out.Source != "https://guide.example.com/amala" || out.HTML == "" {
		t.Fatalf("unexpected source %q or empty html", out.Source)
	}
}

func TestHTTPStrategyClassifiesStatus(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://guide.example.com/gone",
		responder(http.StatusForbidden, "text/html", "<html><title>Forbidden</title></html>"))

	s := NewHTTPStrategy(time.Second, 20, extract.New(20), discard()).WithTransport(transport)
	_, err := s.Fetch(context.Background(), model.ScrapingTarget{URL: "https://guide.example.com/gone", Category: model.Blog})
	if loader.Label(err) != string(loader.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAlternativeURLs(t *testing.T) {
	s := NewAlternativeStrategy(time.Second, 3, 20, extract.New(20), discard())
	urls := s.AlternativeURLs(model.ScrapingTarget{URL: "https://dir.example.com/lagos",
		Category: model.Directory, SearchQueries: []string{"amala ikeja"}})

	want := []string{
		"https://dir.example.com/search?q=amala+ikeja",
		"https://dir.example.com/api/search?q=amala+ikeja",
		"https://dir.example.com/api/places?q=amala+ikeja",
	}
	if strings.Join(urls, " ") != strings.Join(want, " ") {
		t.Fatalf("urls = %v, want %v", urls, want)
	}

	urls = s.AlternativeURLs(model.ScrapingTarget{URL: "https://dir.example.com/search?q=amala",
		Category: model.Directory})
	if urls[0] != "https://dir.example.com/api/search?q=amala" {
		t.Fatalf("target url itself should be skipped, got %v", urls)
	}
}

func TestAlternativeStrategyDecodesJSON(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://dir.example.com/search?q=amala",
		responder(http.StatusNotFound, "text/html", "<html><title>404</title></html>"))
	transport.RegisterResponder(http.MethodGet, "https://dir.example.com/api/search?q=amala",
		responder(http.StatusOK, "application/json",
			`{"results":[{"name":"Amala Shitta","address":"Surulere, Lagos","rating":"4.5"},{"name":"ab"}]}`))

	s := NewAlternativeStrategy(time.Second, 6, 20, extract.New(20), discard()).WithTransport(transport)
	out, err := s.Fetch(context.Background(), model.ScrapingTarget{URL: "https://dir.example.com/lagos",
		Category: model.Directory, SearchQueries: []string{"amala"}})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if out.Source != "https://dir.example.com/api/search?q=amala" {
		t.Fatalf("source = %q", out.Source)
	}
	if len(out.Candidates) != 1 || out.Candidates[0].Address != "Surulere, Lagos" {
		t.Fatalf("unexpected candidates %+v", out.Candidates)
	}
	if r := out.Candidates[0].Rating; r == nil || *r != 4.5 {
		t.Fatalf("rating = %v", r)
	}
}

func TestBrowserStrategyExtractsCards(t *testing.T) {
	html := `<html><body>
<div class="listing"><h3>Amala Skye</h3><span class="address">Bode Thomas, Surulere</span><span class="rating">4.2</span></div>
<div class="listing"><h3>Ok</h3></div>
</body></html>`
	pages := &stubPages{page: &stubPage{snap: loader.Snapshot{URL: "https://maps.example.com/amala",
		Title: "Amala near you", Text: strings.Repeat("amala ", 10), HTML: html}}}

	s := NewBrowserStrategy(pages, testLoader(), extract.New(20), discard())
	out, err := s.Fetch(context.Background(), model.ScrapingTarget{URL: "https://maps.example.com/amala",
		Category: model.Maps})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(out.Candidates) != 1 || out.Candidates[0].Name != "Amala Skye" {
		t.Fatalf("unexpected candidates %+v", out.Candidates)
	}
	if pages.released != 1 {
		t.Fatalf("page released %d times", pages.released)
	}
}

// A target whose page keeps answering "404 Not Found" exhausts the loader, then the HTTP fallback,
// and ends with strategy none.
func TestChainNotFoundTargetEndsWithNone(t *testing.T) {
	page := &stubPage{snap: loader.Snapshot{Title: "404 Not Found", Text: strings.Repeat("x", 50)}}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://example.com/lagos",
		responder(http.StatusNotFound, "text/html", "<html><title>404 Not Found</title></html>"))

	chain := NewChain(discard(), nil,
		NewBrowserStrategy(&stubPages{page: page}, testLoader(), extract.New(20), discard()),
		NewHTTPStrategy(time.Second, 20, extract.New(20), discard()).WithTransport(transport),
	)
	target := model.ScrapingTarget{URL: "https://example.com/lagos", Category: model.Directory,
		Selectors: model.FieldSelectors{Container: ".spot", Name: ".spot-name"}}

	res := chain.ScrapeWithFallbacks(context.Background(), target)

	if page.navigations != 3 {
		t.Fatalf("expected 3 page load attempts, got %d", page.navigations)
	}
	if transport.GetTotalCallCount() != 1 {
		t.Fatalf("expected one http call, got %d", transport.GetTotalCallCount())
	}
	if res.Success || res.Strategy != model.StrategyNone {
		t.Fatalf("expected failure with strategy none, got %+v", res)
	}
}
