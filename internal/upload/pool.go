package upload

import (
	"context"
	"sync"
	"time"

	"github.com/floorsight-data/floorsight/internal/fsutil"
	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/segment"
)

// PoolConfig tunes the upload worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent uploads.
	Workers int
	// QueueDepth bounds the backlog. Enqueue drops when full so a slow
	// service cannot stall frame processing.
	QueueDepth int
	// Attempts is the retry budget per clip.
	Attempts int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

// Pool uploads finalized clips with bounded retries and reports each
// completion through the callback. Clips are removed from disk once
// uploaded.
type Pool struct {
	cfg        PoolConfig
	uploader   Uploader
	fs         fsutil.FileSystem
	onComplete func(Completion)

	queue chan segment.Segment
	wg    sync.WaitGroup

	mu      sync.Mutex
	dropped int
}

func NewPool(cfg PoolConfig, uploader Uploader, fsys fsutil.FileSystem, onComplete func(Completion)) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Pool{
		cfg:        cfg,
		uploader:   uploader,
		fs:         fsys,
		onComplete: onComplete,
		queue:      make(chan segment.Segment, cfg.QueueDepth),
	}
}

// Start launches the workers. They run until Shutdown.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for seg := range p.queue {
				p.process(ctx, seg)
			}
		}()
	}
}

// Enqueue submits a clip without blocking. It reports false when the
// backlog is full; the clip stays on disk for a later sweep.
func (p *Pool) Enqueue(seg segment.Segment) bool {
	select {
	case p.queue <- seg:
		return true
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		monitoring.Logf("upload: queue full, leaving segment %s on disk", seg.ID)
		return false
	}
}

// Dropped returns how many clips were refused by a full queue.
func (p *Pool) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Shutdown stops accepting work and waits for in-flight uploads, up to
// the context deadline.
func (p *Pool) Shutdown(ctx context.Context) error {
	close(p.queue)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) process(ctx context.Context, seg segment.Segment) {
	backoff := p.cfg.Backoff
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		comp, err := p.uploader.Upload(ctx, seg)
		if err == nil {
			if err := p.fs.Remove(seg.Path); err != nil {
				monitoring.Debugf("upload: remove %s: %v", seg.Path, err)
			}
			if p.onComplete != nil {
				p.onComplete(comp)
			}
			return
		}

		monitoring.Logf("upload: segment %s attempt %d/%d failed: %v", seg.ID, attempt, p.cfg.Attempts, err)
		if attempt == p.cfg.Attempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			monitoring.Logf("upload: giving up segment %s: %v", seg.ID, ctx.Err())
			return
		}
	}
	monitoring.Logf("upload: segment %s exhausted retries, leaving clip on disk", seg.ID)
}
