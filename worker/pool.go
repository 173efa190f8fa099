package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/translatebot/domain"
)

// Stats are cumulative job counters.
type Stats struct {
	Workers   int               `json:"workers"`
	Busy      int64             `json:"busy"`
	Processed uint64            `json:"processed"`
	Delivered uint64            `json:"delivered"`
	Failures  map[string]uint64 `json:"failures"`
}

type counters struct {
	busy      atomic.Int64
	processed atomic.Uint64
	delivered atomic.Uint64
	failures  map[domain.FailureKind]*atomic.Uint64
}

func newCounters() *counters {
	c := &counters{failures: make(map[domain.FailureKind]*atomic.Uint64)}
	for _, k := range domain.FailureKinds() {
		c.failures[k] = new(atomic.Uint64)
	}
	return c
}

func (c *counters) record(res Result) {
	c.processed.Add(1)
	if res.State == domain.StateDelivered {
		c.delivered.Add(1)
		return
	}
	if n, ok := c.failures[res.Failure]; ok {
		n.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Busy:      c.busy.Load(),
		Processed: c.processed.Load(),
		Delivered: c.delivered.Load(),
		Failures:  make(map[string]uint64, len(c.failures)),
	}
	for k, n := range c.failures {
		s.Failures[k.String()] = n.Load()
	}
	return s
}

// Pool runs a fixed number of workers against one source.
type Pool struct {
	size  int
	wg    sync.WaitGroup
	done  chan struct{}
	stats *counters
	log   *log.Logger
}

// Start launches n workers that share deps and conf. They stop when the
// source is closed and drained, or when ctx is cancelled.
func Start(ctx context.Context, n int, src Source, deps Deps, conf Config, logger *log.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Pool{size: n, done: make(chan struct{}), stats: newCounters(), log: logger.WithPrefix("Pool")}
	for i := 0; i < n; i++ {
		w := newWorker(deps, conf, logger.With("worker", i), p.stats)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(ctx, src)
		}()
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	p.log.Info("Workers started", "count", n)
	return p
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	<-p.done
	p.log.Info("Workers stopped", "processed", p.stats.processed.Load())
}

// Done is closed once every worker has returned.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) Stats() Stats {
	s := p.stats.snapshot()
	s.Workers = p.size
	return s
}
