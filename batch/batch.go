// Package batch fans an indexed dataset out to a fixed pool of workers and
// yields collated per-batch results in dataset order.
//
// Datasets wrap resources whose handles cannot be shared between goroutines
// (alignment readers, indexed FASTA handles).  Each worker lazily opens its
// own Producer the first time it receives a batch, so an iterator holds at
// most Workers live handles and a worker that never receives work never
// opens one.
package batch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/syncqueue"
)

// Producer yields dataset items by index.  A Producer is owned by a single
// worker goroutine; implementations need not be safe for concurrent use.
type Producer[T any] interface {
	// Produce returns the item at the given dataset index.  An error is
	// fatal to the whole iteration; recoverable per-item conditions belong
	// inside T.
	Produce(index int) (T, error)
	Close() error
}

// Dataset is an indexed collection of items.  Open returns a fresh Producer
// and is called at most once per worker, on the worker's own goroutine.
type Dataset[T any] interface {
	Len() int
	Open() (Producer[T], error)
}

// Opts configure an Iterator.
type Opts struct {
	// BatchSize is the number of consecutive indices a worker claims at a
	// time.  Values below 1 fall back to DefaultOpts.BatchSize.
	BatchSize int
	// Workers is the number of concurrent producers.  Zero runs the whole
	// iteration inline on the calling goroutine.
	Workers int
}

// DefaultOpts is a reasonable configuration for genome-scale interval sets.
var DefaultOpts = Opts{BatchSize: 100, Workers: 8}

// Items is the identity collation: a batch's result is its item slice.
func Items[T any](items []T) ([]T, error) { return items, nil }

type span struct {
	index, lo, hi int
}

type batchResult[U any] struct {
	val U
	err error
}

// Iterator yields one collated value per batch, in dataset order, regardless
// of which worker produced it.  It is not safe for concurrent use.
type Iterator[T, U any] struct {
	dataset Dataset[T]
	collate func([]T) (U, error)
	opts    Opts
	spans   []span

	// Parallel mode.
	queue *syncqueue.OrderedQueue
	err   errors.Once
	wg    sync.WaitGroup
	stop  atomic.Bool

	// Inline mode (Workers == 0).
	producer Producer[T]
	nextSpan int

	cur    U
	closed bool
	done   bool
}

// NewIterator starts iterating ds: items are produced in batches of
// opts.BatchSize by opts.Workers workers and collated into one value per
// batch.  The caller must Close the iterator, whether or not it drains it.
func NewIterator[T, U any](ds Dataset[T], collate func([]T) (U, error), opts Opts) *Iterator[T, U] {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultOpts.BatchSize
	}
	if opts.Workers < 0 {
		opts.Workers = 0
	}
	it := &Iterator[T, U]{dataset: ds, collate: collate, opts: opts}
	n := ds.Len()
	for lo := 0; lo < n; lo += opts.BatchSize {
		hi := lo + opts.BatchSize
		if hi > n {
			hi = n
		}
		it.spans = append(it.spans, span{index: len(it.spans), lo: lo, hi: hi})
	}
	if opts.Workers == 0 {
		return it
	}

	capacity := len(it.spans)
	if capacity == 0 {
		capacity = 1
	}
	it.queue = syncqueue.NewOrderedQueue(capacity)
	jobs := make(chan span, len(it.spans))
	for _, sp := range it.spans {
		jobs <- sp
	}
	close(jobs)

	workers := opts.Workers
	if workers > len(it.spans) {
		workers = len(it.spans)
	}
	for w := 0; w < workers; w++ {
		it.wg.Add(1)
		go it.work(jobs)
	}
	go func() {
		it.wg.Wait()
		if err := it.queue.Close(nil); err != nil {
			it.err.Set(err)
		}
	}()
	return it
}

func (it *Iterator[T, U]) work(jobs <-chan span) {
	defer it.wg.Done()
	var (
		producer Producer[T]
		openErr  error
	)
	defer func() {
		if producer != nil {
			it.err.Set(producer.Close())
		}
	}()
	for sp := range jobs {
		if it.stop.Load() {
			if err := it.queue.Insert(sp.index, batchResult[U]{}); err != nil {
				it.err.Set(err)
			}
			continue
		}
		if producer == nil && openErr == nil {
			producer, openErr = it.dataset.Open()
		}
		var res batchResult[U]
		if openErr != nil {
			res.err = errors.E(openErr, "batch: opening producer")
		} else {
			res.val, res.err = it.produce(producer, sp)
		}
		if res.err != nil {
			it.err.Set(res.err)
		}
		if err := it.queue.Insert(sp.index, res); err != nil {
			it.err.Set(err)
		}
	}
}

func (it *Iterator[T, U]) produce(producer Producer[T], sp span) (U, error) {
	items := make([]T, 0, sp.hi-sp.lo)
	for i := sp.lo; i < sp.hi; i++ {
		item, err := producer.Produce(i)
		if err != nil {
			var zero U
			return zero, errors.E(err, fmt.Sprintf("batch: item %d", i))
		}
		items = append(items, item)
	}
	return it.collate(items)
}

// Scan advances to the next batch, returning false at exhaustion, on error,
// or after Close.  The batch is available from Batch until the next call.
// Batches that precede a failed one are still delivered in order; Scan stops
// at the failure's position, not at the moment it happened.
func (it *Iterator[T, U]) Scan() bool {
	if it.closed || it.done {
		return false
	}
	if it.opts.Workers == 0 {
		if !it.scanInline() {
			it.done = true
			return false
		}
		return true
	}
	val, ok, err := it.queue.Next()
	if err != nil || !ok {
		it.err.Set(err)
		it.done = true
		return false
	}
	res := val.(batchResult[U])
	if res.err != nil {
		it.err.Set(res.err)
		it.done = true
		return false
	}
	it.cur = res.val
	return true
}

func (it *Iterator[T, U]) scanInline() bool {
	if it.nextSpan >= len(it.spans) {
		return false
	}
	if it.producer == nil {
		p, err := it.dataset.Open()
		if err != nil {
			it.err.Set(errors.E(err, "batch: opening producer"))
			return false
		}
		it.producer = p
	}
	sp := it.spans[it.nextSpan]
	it.nextSpan++
	val, err := it.produce(it.producer, sp)
	if err != nil {
		it.err.Set(err)
		return false
	}
	it.cur = val
	return true
}

// Batch returns the value produced by the last successful Scan.
func (it *Iterator[T, U]) Batch() U { return it.cur }

// Err returns the first error the iteration hit, nil after a clean drain or
// a caller-initiated Close.
func (it *Iterator[T, U]) Err() error { return it.err.Err() }

// Close releases all workers and producers.  It is idempotent, safe to call
// mid-iteration, and returns the same error as Err.
func (it *Iterator[T, U]) Close() error {
	if !it.closed {
		it.closed = true
		it.stop.Store(true)
		if it.opts.Workers == 0 {
			if it.producer != nil {
				it.err.Set(it.producer.Close())
				it.producer = nil
			}
		} else {
			it.drain()
			it.wg.Wait()
		}
	}
	return it.err.Err()
}

// drain consumes whatever the workers still insert so that none of them can
// block, then lets the closer goroutine shut the queue down.
func (it *Iterator[T, U]) drain() {
	for {
		_, ok, err := it.queue.Next()
		if err != nil || !ok {
			return
		}
	}
}
