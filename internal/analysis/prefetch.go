package analysis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
)

// PrefetchStatus reports the prefetcher's counters.
type PrefetchStatus struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Fetched    int `json:"fetched"`
	Failed     int `json:"failed"`
}

// Prefetcher warms a provider (normally the Cache) for upcoming tracks so
// the jukebox can start without waiting on the network.
type Prefetcher struct {
	provider jukebox.AnalysisProvider
	workers  int
	timeout  time.Duration
	jobs     chan jukebox.Track
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[string]bool

	fetched    int64
	failed     int64
	inProgress int64
}

// NewPrefetcher creates a prefetcher with the given number of workers.
// Each fetch is bounded by timeout.
func NewPrefetcher(provider jukebox.AnalysisProvider, workers int, timeout time.Duration) *Prefetcher {
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prefetcher{
		provider: provider,
		workers:  workers,
		timeout:  timeout,
		jobs:     make(chan jukebox.Track, 32),
		pending:  make(map[string]bool),
		log:      log.With().Str("component", "prefetch").Logger(),
	}
}

// Start runs the workers until ctx is done.
func (p *Prefetcher) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx, i)
	}
}

// Enqueue schedules catalog tracks for fetching. Local tracks, duplicates
// of pending work and overflow beyond the queue are skipped.
func (p *Prefetcher) Enqueue(tracks ...jukebox.Track) {
	for _, t := range tracks {
		if t.ID == "" || (t.Kind != "" && t.Kind != jukebox.KindMusic) {
			continue
		}
		if c, ok := p.provider.(*Cache); ok && c.Has(t.ID) {
			continue
		}

		p.mu.Lock()
		if p.pending[t.ID] {
			p.mu.Unlock()
			continue
		}
		p.pending[t.ID] = true
		p.mu.Unlock()

		select {
		case p.jobs <- t:
		default:
			p.done(t.ID)
			p.log.Debug().Str("track", t.ID).Msg("prefetch queue full")
		}
	}
}

// Status returns the current counters.
func (p *Prefetcher) Status() PrefetchStatus {
	p.mu.Lock()
	pending := len(p.pending)
	p.mu.Unlock()

	return PrefetchStatus{
		Pending:    pending,
		InProgress: int(atomic.LoadInt64(&p.inProgress)),
		Fetched:    int(atomic.LoadInt64(&p.fetched)),
		Failed:     int(atomic.LoadInt64(&p.failed)),
	}
}

func (p *Prefetcher) done(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Prefetcher) worker(ctx context.Context, id int) {
	for {
		var t jukebox.Track
		select {
		case <-ctx.Done():
			return
		case t = <-p.jobs:
		}

		atomic.AddInt64(&p.inProgress, 1)
		fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
		_, err := p.provider.Fetch(fetchCtx, t)
		cancel()
		atomic.AddInt64(&p.inProgress, -1)

		if err != nil {
			atomic.AddInt64(&p.failed, 1)
			p.log.Debug().Err(err).Int("worker", id).Str("track", t.ID).Msg("prefetch failed")
		} else {
			atomic.AddInt64(&p.fetched, 1)
		}
		p.done(t.ID)
	}
}
