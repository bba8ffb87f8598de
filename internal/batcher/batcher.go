package batcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/cache"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/metrics"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/persistence"
	jsoniter "github.com/json-iterator/go"
)

var ErrBatcherClosed = errors.New("batcher is closed")

const flushTimeout = 30 * time.Second

type opKind int

const (
	opGet opKind = iota
	opQuery
	opSet
	opUpdate
	opDelete
)

type result struct {
	doc  persistence.Document
	docs []persistence.Document
	err  error
}

type operation struct {
	kind       opKind
	collection string
	id         string
	query      persistence.Query
	data       map[string]any
	done       chan result
}

func (op *operation) resolve(r result) {
	op.done <- r
}

type Options struct {
	Window   time.Duration
	MaxBatch int
	CacheTTL time.Duration
}

// Batcher coalesces operations issued within Window, or until MaxBatch are queued, into one flush.
// A flush runs its reads concurrently, then commits sets and deletes atomically, then updates atomically.
type Batcher struct {
	store   persistence.DocumentStore
	cache   cache.ReadCache
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	queue   []*operation
	timer   *time.Timer
	closed  bool
	flushes sync.WaitGroup

	genMu       sync.Mutex
	generations map[string]uint64
}

// New returns a Batcher. rc may be nil to disable read caching.
func New(store persistence.DocumentStore, rc cache.ReadCache, opts Options, log *slog.Logger,
	m *metrics.Metrics) *Batcher {
	if opts.Window <= 0 {
		opts.Window = 50 * time.Millisecond
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 500
	}
	return &Batcher{
		store:       store,
		cache:       rc,
		opts:        opts,
		log:         log,
		metrics:     m,
		generations: make(map[string]uint64),
	}
}

func (b *Batcher) Get(ctx context.Context, collection, id string) (persistence.Document, error) {
	r, err := b.enqueue(ctx, &operation{kind: opGet, collection: collection, id: id})
	return r.doc, err
}

func (b *Batcher) Query(ctx context.Context, q persistence.Query) ([]persistence.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	r, err := b.enqueue(ctx, &operation{kind: opQuery, collection: q.Collection, query: q})
	return r.docs, err
}

func (b *Batcher) Set(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := b.enqueue(ctx, &operation{kind: opSet, collection: collection, id: id, data: data})
	return err
}

func (b *Batcher) Update(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := b.enqueue(ctx, &operation{kind: opUpdate, collection: collection, id: id, data: data})
	return err
}

func (b *Batcher) Delete(ctx context.Context, collection, id string) error {
	_, err := b.enqueue(ctx, &operation{kind: opDelete, collection: collection, id: id})
	return err
}

// Close flushes whatever is queued and waits for in-flight flushes. Later operations fail with ErrBatcherClosed.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batch := b.take()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
	b.flushes.Wait()
}

func (b *Batcher) enqueue(ctx context.Context, op *operation) (result, error) {
	if op.collection == "" || (op.kind != opQuery && op.id == "") {
		return result{}, fmt.Errorf("%w: collection and id are required", persistence.ErrInvalidQuery)
	}
	op.done = make(chan result, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return result{}, ErrBatcherClosed
	}
	b.queue = append(b.queue, op)
	if len(b.queue) >= b.opts.MaxBatch {
		batch := b.take()
		b.flushes.Add(1)
		go func() {
			defer b.flushes.Done()
			b.flush(batch)
		}()
	} else if b.timer == nil {
		b.timer = time.AfterFunc(b.opts.Window, b.flushWindow)
	}
	b.mu.Unlock()

	select {
	case r := <-op.done:
		return r, r.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// take detaches the queue. Callers hold mu.
func (b *Batcher) take() []*operation {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.queue
	b.queue = nil
	return batch
}

func (b *Batcher) flushWindow() {
	b.mu.Lock()
	batch := b.take()
	if len(batch) > 0 {
		b.flushes.Add(1)
	}
	b.mu.Unlock()

	if len(batch) > 0 {
		defer b.flushes.Done()
		b.flush(batch)
	}
}

func (b *Batcher) flush(batch []*operation) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	b.metrics.ObserveFlush(len(batch))

	var reads, writes, updates []*operation
	for _, op := range batch {
		switch op.kind {
		case opGet, opQuery:
			reads = append(reads, op)
		case opSet, opDelete:
			writes = append(writes, op)
		case opUpdate:
			updates = append(updates, op)
		}
	}
	b.log.Debug("flushing batch.", slog.Int("reads", len(reads)), slog.Int("writes", len(writes)),
		slog.Int("updates", len(updates)))

	b.runReads(ctx, reads)
	b.commit(ctx, writes)
	b.commit(ctx, updates)
}

// runReads executes each distinct read once, concurrently, and fans the result out to every caller.
func (b *Batcher) runReads(ctx context.Context, reads []*operation) {
	groups := make(map[string][]*operation)
	for _, op := range reads {
		key := b.readKey(op)
		groups[key] = append(groups[key], op)
	}

	var wg sync.WaitGroup
	for key, ops := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := b.read(ctx, key, ops[0])
			for _, op := range ops {
				op.resolve(r)
			}
		}()
	}
	wg.Wait()
}

func (b *Batcher) readKey(op *operation) string {
	gen := b.generation(op.collection)
	if op.kind == opGet {
		return fmt.Sprintf("%s|%d|doc|%s", op.collection, gen, op.id)
	}
	return fmt.Sprintf("%s|%d|query|%s", op.collection, gen, op.query.Shape())
}

func (b *Batcher) read(ctx context.Context, key string, op *operation) result {
	if b.cache != nil {
		if raw, ok := b.cache.Get(key); ok {
			var r result
			var err error
			if op.kind == opGet {
				err = jsoniter.Unmarshal(raw, &r.doc)
			} else {
				err = jsoniter.Unmarshal(raw, &r.docs)
			}
			if err == nil {
				return r
			}
			b.log.Warn("dropping undecodable cache entry.", slog.String("err", err.Error()))
		}
	}

	var r result
	var value any
	if op.kind == opGet {
		r.doc, r.err = b.store.Get(ctx, op.collection, op.id)
		value = r.doc
	} else {
		r.docs, r.err = b.store.Query(ctx, op.query)
		value = r.docs
	}
	if r.err != nil || b.cache == nil {
		return r
	}
	if raw, err := jsoniter.Marshal(value); err == nil {
		b.cache.Set(key, raw, b.opts.CacheTTL)
	}
	return r
}

// commit applies ops as one atomic unit. A failure is delivered to every op of the unit.
func (b *Batcher) commit(ctx context.Context, ops []*operation) {
	if len(ops) == 0 {
		return
	}
	mutations := make([]persistence.Mutation, 0, len(ops))
	for _, op := range ops {
		m := persistence.Mutation{Collection: op.collection, ID: op.id, Data: op.data}
		switch op.kind {
		case opSet:
			m.Kind = persistence.MutationSet
		case opUpdate:
			m.Kind = persistence.MutationUpdate
		case opDelete:
			m.Kind = persistence.MutationDelete
		}
		mutations = append(mutations, m)
	}

	err := b.store.Commit(ctx, mutations)
	if err != nil {
		b.metrics.IncCommitFailure()
		b.log.Error("batch commit failed.", slog.Int("operations", len(ops)), slog.String("err", err.Error()))
		err = fmt.Errorf("batch of %d operations rejected: %w", len(ops), err)
	} else {
		touched := make(map[string]struct{})
		for _, op := range ops {
			touched[op.collection] = struct{}{}
		}
		for collection := range touched {
			b.invalidate(collection)
		}
	}
	for _, op := range ops {
		op.resolve(result{err: err})
	}
}

func (b *Batcher) generation(collection string) uint64 {
	b.genMu.Lock()
	defer b.genMu.Unlock()
	return b.generations[collection]
}

// invalidate orphans every cached read of the collection.
func (b *Batcher) invalidate(collection string) {
	b.genMu.Lock()
	defer b.genMu.Unlock()
	b.generations[collection]++
}
