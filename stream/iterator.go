// Package stream produces height-ordered block sequences from a Core data
// directory. Reads and decodes fan out across a fixed worker pool; a
// bounded reorder window re-imposes submission order on the way out, so
// memory stays proportional to the worker count no matter how long the
// scanned range is.
package stream

import (
	"runtime"
	"sync"

	"github.com/chainquery/blockdb/blkfile"
)

// Task names one block to fetch: its height and its location on disk,
// taken from the block index.
type Task struct {
	Height  uint32
	File    uint32
	DataPos uint32
}

// DecodeFunc turns raw block bytes into the iterator's item type. It runs
// on worker goroutines and must be safe for concurrent invocation.
type DecodeFunc[T any] func(raw []byte) (T, error)

// Config tunes an iterator's parallelism.
type Config struct {
	// Workers is the number of fetch/decode goroutines. Defaults to the
	// logical CPU count.
	Workers int

	// Window bounds how many decoded blocks may wait ahead of the
	// next-to-emit height before workers stall. Defaults to four per
	// worker.
	Window int
}

// normalize fills in defaults for unset fields.
func (c Config) normalize() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Window <= 0 {
		c.Window = 4 * c.Workers
	}
	return c
}

// result is what a worker delivers into a height's slot.
type result[T any] struct {
	item T
	err  error
}

// slot pairs a height with the channel its result arrives on. The channel
// is buffered so workers never block on delivery.
type slot[T any] struct {
	height uint32
	ch     chan result[T]
}

// job couples a task with the slot channel awaiting its result.
type job[T any] struct {
	task Task
	ch   chan result[T]
}

// Iterator yields decoded blocks strictly in task-submission order. It is
// driven by a single consumer goroutine: Next advances, Item returns the
// current block or its per-height error, Close cancels early. Exhausting
// the iterator releases its workers and file handles; so does Close.
type Iterator[T any] struct {
	pending chan slot[T]
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	height  uint32
	item    T
	itemErr error
	done    bool
}

// New starts the worker pool and dispatcher for the given tasks and returns
// the iterator over their results. Each worker owns a blkfile reader with
// its private file-handle cache.
func New[T any](store *blkfile.Store, tasks []Task, decode DecodeFunc[T],
	cfg Config) *Iterator[T] {

	cfg = cfg.normalize()

	it := &Iterator[T]{
		pending: make(chan slot[T], cfg.Window),
		quit:    make(chan struct{}),
	}
	jobs := make(chan job[T])

	// The dispatcher feeds the reorder window and the workers in lock
	// step: a height's slot is enqueued before its job can be picked
	// up, so delivery order always matches submission order. When the
	// window is full the dispatcher blocks, which is what holds worker
	// memory bounded.
	it.wg.Add(1)
	go func() {
		defer it.wg.Done()
		defer close(it.pending)
		defer close(jobs)

		for _, task := range tasks {
			s := slot[T]{
				height: task.Height,
				ch:     make(chan result[T], 1),
			}
			select {
			case it.pending <- s:
			case <-it.quit:
				return
			}
			select {
			case jobs <- job[T]{task: task, ch: s.ch}:
			case <-it.quit:
				return
			}
		}
	}()

	for w := 0; w < cfg.Workers; w++ {
		it.wg.Add(1)
		go func() {
			defer it.wg.Done()

			r := store.NewReader()
			defer r.Close()

			for {
				select {
				case j, ok := <-jobs:
					if !ok {
						return
					}
					j.ch <- run(r, j.task, decode)
				case <-it.quit:
					return
				}
			}
		}()
	}

	log.Debugf("Iterator started: %d tasks, %d workers, window %d",
		len(tasks), cfg.Workers, cfg.Window)

	return it
}

// run fetches and decodes one block on a worker.
func run[T any](r *blkfile.Reader, task Task, decode DecodeFunc[T]) result[T] {
	raw, err := r.ReadBlock(task.File, task.DataPos)
	if err != nil {
		return result[T]{err: err}
	}
	item, err := decode(raw)
	return result[T]{item: item, err: err}
}

// Next advances to the next height in order. It returns false once the
// range is drained or the iterator has been closed. A decode failure does
// not end the iteration: Next still returns true and Item carries the
// error for that height.
func (it *Iterator[T]) Next() bool {
	if it.done {
		return false
	}

	// A closed iterator may still hold buffered slots and finished
	// results; check quit first so none of them is yielded after Close.
	select {
	case <-it.quit:
		it.done = true
		return false
	default:
	}

	var (
		s  slot[T]
		ok bool
	)
	select {
	case s, ok = <-it.pending:
	case <-it.quit:
		it.done = true
		return false
	}
	if !ok {
		// Dispatcher finished and every slot was consumed: the range
		// is drained. Shut the pool down so file handles are
		// released without waiting for a Close call.
		it.done = true
		it.Close()
		return false
	}

	select {
	case res := <-s.ch:
		it.height = s.height
		it.item = res.item
		it.itemErr = res.err
		return true
	case <-it.quit:
		it.done = true
		return false
	}
}

// Item returns the block at the current height, or the error that height's
// fetch or decode produced.
func (it *Iterator[T]) Item() (T, error) {
	return it.item, it.itemErr
}

// Height returns the height of the current item.
func (it *Iterator[T]) Height() uint32 {
	return it.height
}

// Close cancels the iteration. Workers finish the task they are on, drop
// the rest, and release their file handles before Close returns. Close is
// idempotent and implied by draining the iterator.
func (it *Iterator[T]) Close() {
	it.once.Do(func() {
		close(it.quit)
	})
	it.wg.Wait()
}
