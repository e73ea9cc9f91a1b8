/*
Package expose walks a list of stage positions and exposes each one through
the shutter.

A Sequencer runs at most one pass at a time.  Each step moves the stage,
opens the shutter for the configured exposure, closes it, and waits a short
settle time before the next move.  A pass moves through the states

	Idle -> Running -> (Cancelling) -> Completed -> Idle

Cancel is only observed between steps, so a shutter that is open is always
held for its full exposure.  If the context passed to Start is done, which
means the process is shutting down, the shutter is closed at once.
*/
package expose

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/logger"
	"github.com/nasa-jpl/daisy/mathx"
	"github.com/nasa-jpl/daisy/motion"
	"github.com/nasa-jpl/daisy/shutter"
	"github.com/nasa-jpl/daisy/transform"
)

const (
	// DefaultExposure is the shutter open time per position
	DefaultExposure = 15 * time.Second

	// DefaultSettle is the wait after closing the shutter before the next move
	DefaultSettle = 100 * time.Millisecond
)

var (
	// ErrAlreadyRunning is returned by Start while a pass is active
	ErrAlreadyRunning = fault.NewPrecondition("already exposing")

	// ErrNoPositions is returned by Start for an empty position list
	ErrNoPositions = fault.NewPrecondition("define positions first")

	// ErrBadExposure is returned by Start for a negative exposure or settle time
	ErrBadExposure = fault.NewPrecondition("exposure and settle times must not be negative")
)

// State is the sequencer state
type State int32

const (
	// Idle means no pass is active
	Idle State = iota

	// Running means a pass is stepping through positions
	Running

	// Cancelling means a pass will stop at the next step boundary
	Cancelling

	// Completed means a pass has ended and is being torn down
	Completed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	case Completed:
		return "completed"
	default:
		return "idle"
	}
}

// Config holds the dwell times of a pass
type Config struct {
	Exposure time.Duration `json:"exposure" yaml:"Exposure"`
	Settle   time.Duration `json:"settle" yaml:"Settle"`
}

// DefaultConfig returns the default dwell times
func DefaultConfig() Config {
	return Config{Exposure: DefaultExposure, Settle: DefaultSettle}
}

// Progress is emitted after each exposed position
type Progress struct {
	RunID string `json:"runID"`

	// Index is the zero-based index of the position just exposed
	Index int `json:"index"`
	Total int `json:"total"`

	// Percent is (Index+1)/Total*100
	Percent float64 `json:"percent"`

	// From is the stage position before the move, To the exposed position
	From transform.Point `json:"from"`
	To   transform.Point `json:"to"`
}

// Summary describes a finished pass
type Summary struct {
	RunID     string    `json:"runID"`
	Exposed   int       `json:"exposed"`
	Total     int       `json:"total"`
	Cancelled bool      `json:"cancelled"`
	Err       error     `json:"-"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// Notifier receives progress and completion.  Calls are made from the pass
// goroutine, in order.
type Notifier interface {
	Progress(Progress)
	Done(Summary)
}

// Sequencer runs exposure passes against a stage and shutter
type Sequencer struct {
	Stage    motion.Stage
	Shutter  shutter.Shutter
	Notifier Notifier
	Logger   logger.ILogger

	mu     sync.Mutex
	state  State
	active *Run
}

// New returns a sequencer over the given devices
func New(st motion.Stage, sh shutter.Shutter, n Notifier, l logger.ILogger) *Sequencer {
	return &Sequencer{Stage: st, Shutter: sh, Notifier: n, Logger: logger.OrNull(l)}
}

// Run is one exposure pass
type Run struct {
	ID string

	seq       *Sequencer
	positions []transform.Point
	cfg       Config
	cancel    atomic.Bool
	done      chan struct{}
	summary   Summary
}

// Start begins a pass over positions in a new goroutine.  The slice is
// copied; the caller may rebuild its projection while the pass runs.
func (s *Sequencer) Start(ctx context.Context, positions []transform.Point, cfg Config) (*Run, error) {
	if cfg.Exposure < 0 || cfg.Settle < 0 {
		return nil, ErrBadExposure
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrAlreadyRunning
	}
	if len(positions) == 0 {
		return nil, ErrNoPositions
	}
	r := &Run{
		ID:        uuid.NewString(),
		seq:       s,
		positions: append([]transform.Point(nil), positions...),
		cfg:       cfg,
		done:      make(chan struct{}),
	}
	s.active = r
	s.state = Running
	go r.run(ctx)
	return r, nil
}

// Expose runs a pass and waits for it to finish
func (s *Sequencer) Expose(ctx context.Context, positions []transform.Point, cfg Config) (Summary, error) {
	r, err := s.Start(ctx, positions, cfg)
	if err != nil {
		return Summary{}, err
	}
	sum := r.Wait()
	return sum, sum.Err
}

// Cancel asks the active pass, if any, to stop at the next step boundary.
// It returns false if no pass is active.
func (s *Sequencer) Cancel() bool {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r == nil {
		return false
	}
	r.Cancel()
	return true
}

// State returns the sequencer state
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the running pass, or nil
func (s *Sequencer) Active() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Sequencer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Cancel asks the pass to stop at the next step boundary
func (r *Run) Cancel() {
	if r.cancel.CompareAndSwap(false, true) {
		r.seq.mu.Lock()
		if r.seq.active == r && r.seq.state == Running {
			r.seq.state = Cancelling
		}
		r.seq.mu.Unlock()
	}
}

// Wait blocks until the pass has finished and returns its summary
func (r *Run) Wait() Summary {
	<-r.done
	return r.summary
}

// Done is closed when the pass has finished
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) run(ctx context.Context) {
	s := r.seq
	log := logger.OrNull(s.Logger)
	total := len(r.positions)
	sum := Summary{RunID: r.ID, Total: total, Started: time.Now()}
	log.Infof("exposure %s started, %d position(s), %v exposure, %v settle", r.ID, total, r.cfg.Exposure, r.cfg.Settle)

	for i, p := range r.positions {
		runtime.Gosched()
		if err := ctx.Err(); err != nil {
			sum.Cancelled, sum.Err = true, err
			break
		}
		if r.cancel.Load() {
			sum.Cancelled = true
			break
		}
		from, err := r.step(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				sum.Cancelled = true
				err = ctx.Err()
			}
			sum.Err = err
			r.closeShutter(log)
			log.Errorf("exposure %s stopped at position %d of %d: %v", r.ID, i+1, total, err)
			break
		}
		sum.Exposed++
		if s.Notifier != nil {
			s.Notifier.Progress(Progress{
				RunID:   r.ID,
				Index:   i,
				Total:   total,
				Percent: mathx.Percent(i+1, total),
				From:    from,
				To:      p,
			})
		}
	}

	sum.Finished = time.Now()
	r.summary = sum
	s.setState(Completed)
	if sum.Cancelled {
		log.Infof("exposure %s cancelled after %d of %d", r.ID, sum.Exposed, total)
	} else if sum.Err == nil {
		log.Infof("exposure %s done, %d position(s) in %v", r.ID, sum.Exposed, sum.Finished.Sub(sum.Started))
	}
	if s.Notifier != nil {
		s.Notifier.Done(sum)
	}
	s.mu.Lock()
	s.active = nil
	s.state = Idle
	s.mu.Unlock()
	close(r.done)
}

// step moves to p and performs one exposure, returning the stage position
// before the move
func (r *Run) step(ctx context.Context, p transform.Point) (transform.Point, error) {
	s := r.seq
	from, err := s.Stage.GetPosition()
	if err != nil {
		return from, fault.NewDevice("stage get position", err)
	}
	if err := s.Stage.MoveAbsolute(ctx, p); err != nil {
		return from, fault.NewDevice("stage move", err)
	}
	if err := s.Shutter.SetShutter(false); err != nil {
		return from, fault.NewDevice("shutter close", err)
	}
	if err := s.Shutter.SetShutter(true); err != nil {
		return from, fault.NewDevice("shutter open", err)
	}
	if !hold(ctx, r.cfg.Exposure) {
		return from, ctx.Err()
	}
	if err := s.Shutter.SetShutter(false); err != nil {
		return from, fault.NewDevice("shutter close", err)
	}
	if !hold(ctx, r.cfg.Settle) {
		return from, ctx.Err()
	}
	return from, nil
}

func (r *Run) closeShutter(log logger.ILogger) {
	if err := r.seq.Shutter.SetShutter(false); err != nil {
		log.Errorf("closing shutter after failed step: %v", err)
	}
}

// hold waits d, returning false if ctx ends first
func hold(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
