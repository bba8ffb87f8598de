package broker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

func TestReadTargetsFileAndFeed(t *testing.T) {
	p := filepath.Join(t.TempDir(), "targets.json")
	body := `[
  {"url":"https://blog.example.com/amala","category":"blog","search_queries":["amala"]},
  {"url":"https://dir.example.com/lagos","category":"business-directory"}
]`
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	targets, err := ReadTargetsFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(targets) != 2 || targets[1].Category != model.BusinessDirectory {
		t.Fatalf("targets = %+v", targets)
	}

	ch := make(chan model.ScrapingTarget)
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go FeedTargets(context.Background(), wg, targets, ch)
	var got []string
	for target := range ch {
		got = append(got, target.URL)
	}
	wg.Wait()
	if len(got) != 2 || got[0] != targets[0].URL {
		t.Fatalf("fed %v", got)
	}
}

func TestReadTargetsFileMissing(t *testing.T) {
	if _, err := ReadTargetsFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
