// Package viewport turns visible-range requests into bounded, cancellable
// page fetches against a paged provider.
//
// Every Request that differs from the previous one starts a new generation:
// pages of older generations are cancelled before any page of the new one is
// admitted. Admission is a drop decision; there is no queue. Row and column
// schedulers share the implementation and differ only in their axis.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/agentic-research/vgrid/internal/provider"
	"github.com/agentic-research/vgrid/internal/row"
)

// Axis names what a scheduler pages through.
type Axis string

const (
	Rows    Axis = "row"
	Columns Axis = "column"
)

// PageFetcher is the part of provider.Provider the scheduler drives.
type PageFetcher[T any] interface {
	Count() int
	Prefetch(ctx context.Context, req row.PageRequest) error
	GetPage(ctx context.Context, req row.PageRequest) (row.PageResult[T], error)
}

// Settings are the admission parameters of a scheduler.
type Settings struct {
	PageSize           int // values < 1 mean 1
	MaxPages           int // 0 = unbounded
	MaxConcurrentLoads int // 0 = unbounded
	ResetThrottle      time.Duration
}

// Pass summarizes one Request call.
type Pass struct {
	Generation uint64
	Admitted   int
	Dropped    int
	Skipped    bool // identical to the previous request, or disposed
}

// Progress is emitted after every admission and completion.
type Progress struct {
	Axis       Axis
	Generation uint64
	InFlight   int
	Completed  int
	Target     int
	// Value is Completed/Target clamped to [0,1], 1 when idle, NaN while
	// work is in flight with no target.
	Value float64
}

func progressValue(inFlight, completed, target int) float64 {
	switch {
	case inFlight == 0:
		return 1
	case target == 0:
		return math.NaN()
	}
	return math.Min(1, math.Max(0, float64(completed)/float64(target)))
}

type page struct {
	rng    row.Range
	gen    uint64
	cancel context.CancelFunc
}

// Scheduler schedules page fetches for one axis.
type Scheduler[T any] struct {
	axis     Axis
	src      PageFetcher[T]
	settings Settings
	logger   *slog.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	progress chan Progress

	mu        sync.Mutex
	last      row.ViewportRequest
	hasLast   bool
	gen       uint64
	inflight  map[int]*page
	completed int
	target    int
	disposed  bool
}

type options struct {
	logger *slog.Logger
	buffer int
}

// Option configures a scheduler.
type Option func(*options)

// WithLogger sets the logger for fetch failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProgressBuffer sets the depth of the progress channel. When it is full
// the oldest update is dropped.
func WithProgressBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

// New returns a scheduler over src.
func New[T any](axis Axis, src PageFetcher[T], settings Settings, opts ...Option) *Scheduler[T] {
	o := options{logger: slog.Default(), buffer: 32}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buffer < 1 {
		o.buffer = 1
	}
	base, stop := context.WithCancel(context.Background())
	return &Scheduler[T]{
		axis:     axis,
		src:      src,
		settings: settings,
		logger:   o.logger.With("axis", string(axis)),
		base:     base,
		stop:     stop,
		progress: make(chan Progress, o.buffer),
		inflight: make(map[int]*page),
	}
}

// NewRowScheduler returns a scheduler for the row axis.
func NewRowScheduler(src PageFetcher[row.Row], settings Settings, opts ...Option) *Scheduler[row.Row] {
	return New(Rows, src, settings, opts...)
}

// NewColumnScheduler returns a scheduler for the column axis.
func NewColumnScheduler(src PageFetcher[row.Column], settings Settings, opts ...Option) *Scheduler[row.Column] {
	return New(Columns, src, settings, opts...)
}

// Request schedules the pages covering v. It never blocks on fetch work.
// A request equal to the previous one is a no-op, as is any request after
// Dispose. Invalid requests are rejected, never clamped.
func (s *Scheduler[T]) Request(v row.ViewportRequest) (Pass, error) {
	if err := v.Validate(); err != nil {
		return Pass{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return Pass{Generation: s.gen, Skipped: true}, nil
	}
	if s.hasLast && v == s.last {
		return Pass{Generation: s.gen, Skipped: true}, nil
	}
	s.last, s.hasLast = v, true

	s.cancelInflightLocked()
	s.gen++
	s.completed, s.target = 0, 0

	pass := Pass{Generation: s.gen}
	for _, c := range s.plan(v) {
		if s.admitLocked(c) {
			pass.Admitted++
		} else {
			pass.Dropped++
		}
	}
	if pass.Admitted == 0 {
		s.emitLocked()
	}
	return pass, nil
}

// plan splits v into page-sized main chunks plus one backward and one
// forward prefetch chunk, all clipped to the source.
func (s *Scheduler[T]) plan(v row.ViewportRequest) []row.Range {
	size := max(1, s.settings.PageSize)
	total := s.src.Count()
	main := row.Range{Start: v.Start, Count: v.Count}.Clip(total)

	var chunks []row.Range
	for start := main.Start; start < main.End(); start += size {
		chunks = append(chunks, row.Range{Start: start, Count: min(size, main.End()-start)})
	}
	if r := v.PrefetchRadius; r > 0 {
		back := row.Range{Start: v.Start - r, Count: r}.Clip(min(v.Start, total))
		if !back.Empty() {
			chunks = append(chunks, back)
		}
		fwd := row.Range{Start: v.Start + v.Count, Count: r}.Clip(total)
		if !fwd.Empty() {
			chunks = append(chunks, fwd)
		}
	}
	return chunks
}

// admitLocked dispatches c unless a ceiling is reached. Pages are keyed by
// start index. Request cancels every in-flight page before planning and plan
// never yields two chunks with the same start, so a new page at a start
// always replaces an already cancelled one.
func (s *Scheduler[T]) admitLocked(c row.Range) bool {
	n := len(s.inflight)
	if lim := s.settings.MaxConcurrentLoads; lim > 0 && n >= lim {
		return false
	}
	if lim := s.settings.MaxPages; lim > 0 && n >= lim {
		return false
	}
	ctx, cancel := context.WithCancel(s.base)
	p := &page{rng: c, gen: s.gen, cancel: cancel}
	s.inflight[c.Start] = p
	s.target++
	s.wg.Add(1)
	go s.run(ctx, p)
	s.emitLocked()
	return true
}

func (s *Scheduler[T]) run(ctx context.Context, p *page) {
	defer s.wg.Done()
	err := s.fetch(ctx, p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.inflight[p.rng.Start]; ok && cur == p {
		delete(s.inflight, p.rng.Start)
	}
	cancelled := ctx.Err() != nil
	p.cancel()

	switch {
	case err == nil:
		if p.gen == s.gen && !cancelled {
			s.completed++
		}
	case cancelled || errors.Is(err, context.Canceled):
		s.logger.Debug("page cancelled", "start", p.rng.Start, "count", p.rng.Count, "generation", p.gen)
	default:
		s.logger.Warn("page fetch failed",
			"start", p.rng.Start, "count", p.rng.Count, "generation", p.gen, "error", err)
		if p.gen == s.gen {
			s.completed++
		}
	}
	s.emitLocked()
}

// fetch runs the prefetch and page hooks under the page's token and waits for
// background materialization. A superseded page stops waiting but lets the
// materialization finish into the provider's cache; only Dispose abandons it.
func (s *Scheduler[T]) fetch(ctx context.Context, p *page) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page [%d,%d) panicked: %v", p.rng.Start, p.rng.End(), r)
		}
	}()
	req := row.PageRequest{Start: p.rng.Start, Count: p.rng.Count}
	if err := s.src.Prefetch(ctx, req); err != nil {
		return fmt.Errorf("prefetch: %w", err)
	}
	res, err := s.src.GetPage(ctx, req)
	if err != nil {
		return err
	}
	if res.Completion == nil {
		return nil
	}
	select {
	case <-res.Completion:
		return nil
	case <-ctx.Done():
		if s.base.Err() != nil && res.Cancel != nil {
			res.Cancel()
		}
		return ctx.Err()
	}
}

func (s *Scheduler[T]) cancelInflightLocked() {
	for start, p := range s.inflight {
		p.cancel()
		delete(s.inflight, start)
	}
}

func (s *Scheduler[T]) snapshotLocked() Progress {
	return Progress{
		Axis:       s.axis,
		Generation: s.gen,
		InFlight:   len(s.inflight),
		Completed:  s.completed,
		Target:     s.target,
		Value:      progressValue(len(s.inflight), s.completed, s.target),
	}
}

// emitLocked delivers the current progress without blocking, dropping the
// oldest queued update when the channel is full.
func (s *Scheduler[T]) emitLocked() {
	p := s.snapshotLocked()
	for {
		select {
		case s.progress <- p:
			return
		default:
		}
		select {
		case <-s.progress:
		default:
		}
	}
}

// Progress returns the progress channel.
func (s *Scheduler[T]) Progress() <-chan Progress { return s.progress }

// Snapshot returns the current progress.
func (s *Scheduler[T]) Snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// CancelAll cancels every in-flight page and zeroes the counters. The next
// Request is scheduled even if it equals the previous one.
func (s *Scheduler[T]) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
}

func (s *Scheduler[T]) cancelAllLocked() {
	s.cancelInflightLocked()
	s.completed, s.target = 0, 0
	s.hasLast = false
	s.emitLocked()
}

// Dispose cancels everything, abandons background materializations and turns
// every later Request into a no-op.
func (s *Scheduler[T]) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.stop()
	s.cancelAllLocked()
}

// Refresh forgets the last request and issues it again, for when the
// provider's content changed under an unchanged viewport.
func (s *Scheduler[T]) Refresh() (Pass, error) {
	s.mu.Lock()
	if !s.hasLast || s.disposed {
		s.mu.Unlock()
		return Pass{Generation: s.gen, Skipped: true}, nil
	}
	v := s.last
	s.hasLast = false
	s.mu.Unlock()
	return s.Request(v)
}

// Follow refreshes the viewport after Reset notifications, waiting
// Settings.ResetThrottle after the last one of a burst. It returns
// immediately; the loop ends with ctx or the channel.
func (s *Scheduler[T]) Follow(ctx context.Context, notes <-chan provider.Notification) {
	delay := s.settings.ResetThrottle
	refresh := func() {
		if _, err := s.Refresh(); err != nil {
			s.logger.Warn("refresh after reset failed", "error", err)
		}
	}
	go func() {
		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-notes:
				if !ok {
					return
				}
				if n.Kind != provider.Reset {
					continue
				}
				if delay <= 0 {
					refresh()
					continue
				}
				if timer == nil {
					timer = time.NewTimer(delay)
				} else {
					timer.Reset(delay)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				refresh()
			}
		}
	}()
}

// Wait blocks until every dispatched page goroutine has returned.
func (s *Scheduler[T]) Wait() { s.wg.Wait() }
