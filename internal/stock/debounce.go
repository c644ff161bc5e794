package stock

import (
	"context"
	"sync"
	"time"

	"github.com/omahaaigc/agent-chat/internal/domain"
)

// DefaultDebounce is the quiet period before a typed query is searched.
const DefaultDebounce = 300 * time.Millisecond

// SearchFunc runs one search.
type SearchFunc func(ctx context.Context, query string) ([]domain.StockItem, error)

// Result is delivered once per settled query.
type Result struct {
	Query string             `json:"query"`
	Items []domain.StockItem `json:"items"`
	Err   error              `json:"-"`
}

// Debouncer delays searches until input has been quiet for a fixed period.
// A newer query cancels both the pending timer and any in-flight search, so
// only the latest query's result is delivered.
type Debouncer struct {
	delay   time.Duration
	search  SearchFunc
	deliver func(Result)

	mu      sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	seq     uint64
	stopped bool
}

// NewDebouncer creates a debouncer. deliver is called from a background
// goroutine.
func NewDebouncer(delay time.Duration, search SearchFunc, deliver func(Result)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, search: search, deliver: deliver}
}

// Submit schedules a search for query, superseding any earlier one.
func (d *Debouncer) Submit(query string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.seq++
	seq := d.seq
	d.resetLocked()
	d.timer = time.AfterFunc(d.delay, func() { d.run(seq, query) })
}

// Stop cancels pending and in-flight work. No result is delivered afterwards.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.resetLocked()
}

func (d *Debouncer) resetLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Debouncer) run(seq uint64, query string) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	items, err := d.search(ctx, query)

	d.mu.Lock()
	current := !d.stopped && seq == d.seq
	d.mu.Unlock()
	if !current {
		return
	}
	d.deliver(Result{Query: query, Items: items, Err: err})
}
