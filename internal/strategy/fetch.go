package strategy

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/browser"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/loader"
	"github.com/gocolly/colly"
)

type response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

func (r response) isJSON() bool {
	return strings.Contains(strings.ToLower(r.ContentType), "json")
}

// fetcher performs one disguised GET with colly. A new collector is built per request so
// concurrent targets never share visited-URL state.
type fetcher struct {
	transport http.RoundTripper // nil uses colly's default transport
}

func (f fetcher) get(ctx context.Context, url string, timeout time.Duration) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, loader.Classify(err, 0, url)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	d := browser.NewDisguise()
	c := colly.NewCollector()
	c.SetRequestTimeout(timeout)
	c.UserAgent = d.UserAgent
	if f.transport != nil {
		c.WithTransport(f.transport)
	}

	resp := response{URL: url}
	c.OnRequest(func(r *colly.Request) {
		for k, v := range d.Headers() {
			r.Headers.Set(k, v)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		resp.StatusCode = r.StatusCode
		resp.Body = r.Body
		resp.URL = r.Request.URL.String()
		if r.Headers != nil {
			resp.ContentType = r.Headers.Get("Content-Type")
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			resp.StatusCode = r.StatusCode
		}
	})

	err := c.Visit(url)
	if err != nil {
		if resp.StatusCode == 0 {
			resp.StatusCode = -1
		}
		return resp, loader.Classify(err, resp.StatusCode, url)
	}
	if err := loader.Classify(nil, resp.StatusCode, url); err != nil {
		return resp, err
	}
	return resp, nil
}
