package batcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/cache"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/persistence"
)

// countingStore records backend round trips and can be told to reject commits.
type countingStore struct {
	persistence.DocumentStore

	mu        sync.Mutex
	gets      int
	queries   int
	commits   [][]persistence.Mutation
	commitErr error
}

func newCountingStore() *countingStore {
	return &countingStore{DocumentStore: persistence.NewMemoryStore()}
}

func (s *countingStore) Get(ctx context.Context, collection, id string) (persistence.Document, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.DocumentStore.Get(ctx, collection, id)
}

func (s *countingStore) Query(ctx context.Context, q persistence.Query) ([]persistence.Document, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
	return s.DocumentStore.Query(ctx, q)
}

func (s *countingStore) Commit(ctx context.Context, mutations []persistence.Mutation) error {
	s.mu.Lock()
	s.commits = append(s.commits, mutations)
	err := s.commitErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.DocumentStore.Commit(ctx, mutations)
}

func (s *countingStore) stats() (gets, queries, commits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.queries, len(s.commits)
}

func newTestBatcher(store persistence.DocumentStore, window time.Duration, maxBatch int) *Batcher {
	return New(store, cache.NewLocalCache(time.Minute), Options{Window: window, MaxBatch: maxBatch, CacheTTL: time.Minute},
		slog.New(slog.DiscardHandler), nil)
}

// concurrently runs fns at once and returns their errors in order.
func concurrently(fns ...func() error) []error {
	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn()
		}()
	}
	wg.Wait()
	return errs
}

func TestBatcherFlushesOnWindow(t *testing.T) {
	store := newCountingStore()
	b := newTestBatcher(store, 20*time.Millisecond, 500)
	defer b.Close()
	ctx := context.Background()

	start := time.Now()
	if err := b.Set(ctx, "locations", "a", map[string]any{"name": "Amala Skye"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("set resolved before the window elapsed: %v", elapsed)
	}
	d, err := b.Get(ctx, "locations", "a")
	if err != nil || d.Data["name"] != "Amala Skye" {
		t.Fatalf("Get = %+v, %v", d, err)
	}
}

func TestBatcherFlushesOnSizeCap(t *testing.T) {
	store := newCountingStore()
	b := newTestBatcher(store, time.Hour, 3)
	defer b.Close()
	ctx := context.Background()

	done := make(chan []error, 1)
	go func() {
		done <- concurrently(
			func() error { return b.Set(ctx, "locations", "a", map[string]any{"name": "A spot"}) },
			func() error { return b.Set(ctx, "locations", "b", map[string]any{"name": "B spot"}) },
			func() error { return b.Delete(ctx, "locations", "c") },
		)
	}()

	select {
	case errs := <-done:
		for _, err := range errs {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("size cap did not trigger a flush")
	}
	if _, _, commits := store.stats(); commits != 1 {
		t.Fatalf("expected one atomic commit, got %d", commits)
	}
	if n := len(store.commits[0]); n != 3 {
		t.Fatalf("expected 3 mutations in the commit, got %d", n)
	}
}

func TestBatcherRejectsWholeGroupOnCommitFailure(t *testing.T) {
	store := newCountingStore()
	ctx := context.Background()
	if err := store.DocumentStore.Commit(ctx, []persistence.Mutation{
		{Kind: persistence.MutationSet, Collection: "locations", ID: "x", Data: map[string]any{"name": "Existing"}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.commitErr = errors.New("backend unavailable")
	b := newTestBatcher(store, 20*time.Millisecond, 500)
	defer b.Close()

	var doc persistence.Document
	errs := concurrently(
		func() error { return b.Set(ctx, "locations", "a", map[string]any{"name": "A"}) },
		func() error { return b.Set(ctx, "locations", "b", map[string]any{"name": "B"}) },
		func() error { return b.Delete(ctx, "locations", "x") },
		func() (err error) { doc, err = b.Get(ctx, "locations", "x"); return err },
	)
	for i, err := range errs[:3] {
		if err == nil || !errors.Is(err, store.commitErr) {
			t.Fatalf("write %d: expected commit error, got %v", i, err)
		}
	}
	if errs[3] != nil || doc.Data["name"] != "Existing" {
		t.Fatalf("read in the same flush should succeed, got %+v, %v", doc, errs[3])
	}
}

func TestBatcherUpdatesCommitSeparately(t *testing.T) {
	store := newCountingStore()
	b := newTestBatcher(store, 20*time.Millisecond, 500)
	defer b.Close()
	ctx := context.Background()

	errs := concurrently(
		func() error { return b.Set(ctx, "locations", "a", map[string]any{"name": "A"}) },
		func() error { return b.Update(ctx, "locations", "missing", map[string]any{"status": "approved"}) },
	)
	if errs[0] != nil {
		t.Fatalf("set failed with the update group: %v", errs[0])
	}
	if !errors.Is(errs[1], persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for update, got %v", errs[1])
	}
}

func TestBatcherCachesAndInvalidatesReads(t *testing.T) {
	store := newCountingStore()
	b := newTestBatcher(store, 5*time.Millisecond, 500)
	defer b.Close()
	ctx := context.Background()

	if err := b.Set(ctx, "locations", "a", map[string]any{"name": "Old"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for range 3 {
		if _, err := b.Get(ctx, "locations", "a"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if gets, _, _ := store.stats(); gets != 1 {
		t.Fatalf("expected cached reads, store saw %d gets", gets)
	}

	if err := b.Update(ctx, "locations", "a", map[string]any{"name": "New"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	d, err := b.Get(ctx, "locations", "a")
	if err != nil || d.Data["name"] != "New" {
		t.Fatalf("stale read after write: %+v, %v", d, err)
	}
}

func TestBatcherCoalescesIdenticalReads(t *testing.T) {
	store := newCountingStore()
	b := New(store, nil, Options{Window: 100 * time.Millisecond, MaxBatch: 500}, slog.New(slog.DiscardHandler), nil)
	defer b.Close()
	ctx := context.Background()
	q := persistence.Query{Collection: "locations", OrderBy: "name"}

	fns := make([]func() error, 5)
	for i := range fns {
		fns[i] = func() error { _, err := b.Query(ctx, q); return err }
	}
	for _, err := range concurrently(fns...) {
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
	}
	if _, queries, _ := store.stats(); queries != 1 {
		t.Fatalf("expected one coalesced query, got %d", queries)
	}
}

func TestBatcherClosed(t *testing.T) {
	b := newTestBatcher(newCountingStore(), time.Millisecond, 500)
	b.Close()
	if err := b.Set(context.Background(), "locations", "a", nil); !errors.Is(err, ErrBatcherClosed) {
		t.Fatalf("expected ErrBatcherClosed, got %v", err)
	}
}

func TestBatcherCloseFlushesPending(t *testing.T) {
	store := newCountingStore()
	b := newTestBatcher(store, time.Hour, 500)

	errc := make(chan error, 1)
	go func() { errc <- b.Set(context.Background(), "locations", "a", map[string]any{"name": "A"}) }()
	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("pending set failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not flush the pending set")
	}
}

func seedRanks(t *testing.T, store persistence.DocumentStore, n int) {
	t.Helper()
	muts := make([]persistence.Mutation, 0, n)
	for i := range n {
		muts = append(muts, persistence.Mutation{Kind: persistence.MutationSet, Collection: "locations",
			ID: fmt.Sprintf("loc-%02d", i), Data: map[string]any{"rank": i % 4}})
	}
	if err := store.Commit(context.Background(), muts); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestPaginateCoversResultSetExactlyOnce(t *testing.T) {
	for _, dir := range []persistence.Direction{persistence.Asc, persistence.Desc} {
		store := persistence.NewMemoryStore()
		seedRanks(t, store, 25)
		b := newTestBatcher(store, time.Millisecond, 500)
		ctx := context.Background()
		q := persistence.Query{Collection: "locations", OrderBy: "rank", Direction: dir}

		want, err := store.Query(ctx, q)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}

		var got []string
		seen := make(map[string]bool)
		cursor := ""
		for pageNo := 0; ; pageNo++ {
			page, err := b.Paginate(ctx, q, 7, cursor)
			if err != nil {
				t.Fatalf("Paginate: %v", err)
			}
			if len(page.Documents) > 7 {
				t.Fatalf("page %d has %d documents", pageNo, len(page.Documents))
			}
			if page.HasPrevious != (pageNo > 0) {
				t.Fatalf("page %d: HasPrevious = %v", pageNo, page.HasPrevious)
			}
			for _, d := range page.Documents {
				if seen[d.ID] {
					t.Fatalf("document %s returned twice", d.ID)
				}
				seen[d.ID] = true
				got = append(got, d.ID)
			}
			if !page.HasNext {
				if page.NextCursor != "" {
					t.Fatal("last page carries a cursor")
				}
				break
			}
			cursor = page.NextCursor
		}

		if len(got) != len(want) {
			t.Fatalf("got %d documents, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i].ID {
				t.Fatalf("position %d: got %s, want %s", i, got[i], want[i].ID)
			}
		}
		b.Close()
	}
}

func TestPaginateExactMultiple(t *testing.T) {
	store := persistence.NewMemoryStore()
	seedRanks(t, store, 10)
	b := newTestBatcher(store, time.Millisecond, 500)
	defer b.Close()
	q := persistence.Query{Collection: "locations"}

	page, err := b.Paginate(context.Background(), q, 5, "")
	if err != nil || !page.HasNext {
		t.Fatalf("first page: %+v, %v", page, err)
	}
	page, err = b.Paginate(context.Background(), q, 5, page.NextCursor)
	if err != nil || page.HasNext || len(page.Documents) != 5 {
		t.Fatalf("second page: hasNext=%v len=%d err=%v", page.HasNext, len(page.Documents), err)
	}
}

func TestPaginateRejectsBadInput(t *testing.T) {
	b := newTestBatcher(persistence.NewMemoryStore(), time.Millisecond, 500)
	defer b.Close()
	q := persistence.Query{Collection: "locations"}

	if _, err := b.Paginate(context.Background(), q, 5, "%%%"); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
	if _, err := b.Paginate(context.Background(), q, 0, ""); !errors.Is(err, persistence.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestAllIteratesEveryDocument(t *testing.T) {
	store := persistence.NewMemoryStore()
	seedRanks(t, store, 12)
	b := newTestBatcher(store, time.Millisecond, 500)
	defer b.Close()

	n := 0
	for _, err := range b.All(context.Background(), persistence.Query{Collection: "locations"}, 5) {
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		n++
	}
	if n != 12 {
		t.Fatalf("iterated %d documents, want 12", n)
	}
}
