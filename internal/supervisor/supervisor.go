// Package supervisor keeps a fixed number of worker processes alive,
// hands idle ones out for chunks and replaces those that die or reach
// their task limit.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/procpool/internal/algorithms"
	"github.com/utkarsh5026/procpool/internal/cpu"
	"github.com/utkarsh5026/procpool/internal/proc"
)

var (
	// ErrExhausted is returned by Acquire when every slot failed to respawn.
	ErrExhausted = errors.New("all worker slots are dead")

	// ErrClosed is returned by Acquire after Shutdown or Terminate.
	ErrClosed = errors.New("supervisor is closed")

	// ErrNoSuchSlot is returned by Restart for an out-of-range slot.
	ErrNoSuchSlot = errors.New("no such worker slot")
)

// Default values applied by New for zero Config fields.
const (
	DefaultSpawnAttempts = 3
	DefaultStopTimeout   = 5 * time.Second
)

// Config configures a Supervisor.
type Config struct {
	// Size is the number of worker slots. It is fixed for the supervisor's
	// lifetime.
	Size int

	// Spec describes how worker processes are started.
	Spec proc.Spec

	// CPUSets are assigned to slots round-robin. Empty means no pinning.
	CPUSets []cpu.Set

	// RestartAfter retires a worker after it finished this many chunks.
	// Zero disables the policy.
	RestartAfter int

	// Init and Finalize name the hooks run on worker start and stop.
	Init     string
	Finalize string

	// SpawnAttempts bounds how often a slot tries to start a worker
	// before it is declared dead.
	SpawnAttempts int

	// Backoff spaces out spawn attempts.
	Backoff algorithms.BackoffStrategy

	// StopTimeout bounds a graceful stop before the worker is killed.
	StopTimeout time.Duration

	// OnEvent, when set, receives every lifecycle event. It is called
	// synchronously and must not block.
	OnEvent func(Event)
}

// Info is a point-in-time view of one slot.
type Info struct {
	Slot     int
	ID       string
	PID      int
	State    State
	Tasks    int64
	Restarts int
	CPUs     cpu.Set
	Err      error
}

type slot struct {
	index int
	cpus  cpu.Set

	// lifecycle serialises spawn, retire and stop of this slot.
	lifecycle sync.Mutex

	mu       sync.Mutex
	worker   *Worker
	restarts int
	dead     bool
	err      error
}

func (sl *slot) current() *Worker {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.worker
}

// Supervisor owns a fixed set of worker slots.
type Supervisor struct {
	cfg   Config
	slots []*slot

	idle chan *Worker

	aliveMu   sync.Mutex
	alive     int
	exhausted chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New spawns cfg.Size workers in parallel and returns once all of them are
// ready. If any slot cannot be brought up, the others are killed and the
// error is returned.
func New(ctx context.Context, cfg Config) (*Supervisor, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("invalid worker count %d", cfg.Size)
	}
	if cfg.SpawnAttempts <= 0 {
		cfg.SpawnAttempts = DefaultSpawnAttempts
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Backoff == nil {
		cfg.Backoff = algorithms.NewBackoffStrategy(algorithms.BackoffJittered, 50*time.Millisecond, time.Second, 0.2)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:       cfg,
		slots:     make([]*slot, cfg.Size),
		idle:      make(chan *Worker, cfg.Size),
		alive:     cfg.Size,
		exhausted: make(chan struct{}),
		ctx:       sctx,
		cancel:    cancel,
		closed:    make(chan struct{}),
	}
	for i := range s.slots {
		s.slots[i] = &slot{index: i, cpus: cpu.ForSlot(i, cfg.CPUSets)}
	}

	// creation is bounded by the caller's ctx, later respawns by the
	// supervisor's own lifetime
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(sctx)
	workers := make([]*Worker, cfg.Size)
	for i, sl := range s.slots {
		g.Go(func() error {
			w, err := s.spawn(gctx, sl)
			if err != nil {
				return fmt.Errorf("spawn worker %d: %w", i, err)
			}
			workers[i] = w
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, w := range workers {
			if w != nil {
				w.Kill()
				w.close()
			}
		}
		cancel()
		return nil, err
	}
	for i, w := range workers {
		s.slots[i].worker = w
		w.setState(StateReady)
		s.idle <- w
	}

	if !stop() {
		s.Terminate()
		return nil, ctx.Err()
	}
	return s, nil
}

// Size returns the number of slots.
func (s *Supervisor) Size() int { return len(s.slots) }

func (s *Supervisor) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Acquire blocks until a worker is ready and returns it marked Busy.
// Workers found dead while idle are replaced transparently.
func (s *Supervisor) Acquire(ctx context.Context) (*Worker, error) {
	for {
		if s.isClosed() {
			return nil, ErrClosed
		}

		select {
		case w := <-s.idle:
			if w.restart.Load() {
				s.retire(w, true)
				continue
			}
			if w.exited() {
				s.emit(Event{Kind: EventDeath, Slot: w.Slot, WorkerID: w.ID, PID: w.PID(), Err: ErrWorkerDied})
				s.retire(w, false)
				continue
			}
			if !w.casState(StateReady, StateBusy) {
				continue
			}
			return w, nil
		case <-s.exhausted:
			return nil, ErrExhausted
		case <-s.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a worker after Run. err is Run's error, if any.
//
// A worker that died or was killed is replaced in the background. A
// worker that reached the restart threshold is stopped gracefully and
// replaced. Any other worker goes back to the idle queue.
func (s *Supervisor) Release(w *Worker, err error) {
	var death *Death
	switch {
	case errors.As(err, &death) || w.Killed() || w.exited():
		s.emit(Event{Kind: EventDeath, Slot: w.Slot, WorkerID: w.ID, PID: w.PID(), Err: err})
		s.retire(w, false)
	case w.restart.Load():
		s.retire(w, true)
	case s.cfg.RestartAfter > 0 && w.Tasks() >= int64(s.cfg.RestartAfter):
		s.emit(Event{Kind: EventRestart, Slot: w.Slot, WorkerID: w.ID, PID: w.PID()})
		s.retire(w, true)
	default:
		if s.isClosed() {
			return
		}
		w.setState(StateReady)
		s.idle <- w
	}
}

// Kill aborts a worker that is busy on a chunk. Its pending Run returns a
// *Death and the worker is replaced after Release.
func (s *Supervisor) Kill(w *Worker) {
	debugLog("killing worker %d (pid %d)", w.Slot, w.PID())
	w.Kill()
}

// Restart replaces the worker in slot before it takes its next chunk.
func (s *Supervisor) Restart(index int) error {
	if index < 0 || index >= len(s.slots) {
		return fmt.Errorf("%w: %d", ErrNoSuchSlot, index)
	}
	if s.isClosed() {
		return ErrClosed
	}
	sl := s.slots[index]
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.dead {
		return fmt.Errorf("slot %d is dead: %w", index, sl.err)
	}
	if sl.worker != nil {
		sl.worker.restart.Store(true)
	}
	return nil
}

// retire takes w out of service and refills its slot in the background.
func (s *Supervisor) retire(w *Worker, graceful bool) {
	w.setState(StateRestarting)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sl := s.slots[w.Slot]

		sl.lifecycle.Lock()
		defer sl.lifecycle.Unlock()

		if sl.current() != w {
			w.close()
			return
		}

		if graceful {
			debugLog("restarting worker %d (pid %d) after %d tasks", w.Slot, w.PID(), w.Tasks())
			if err := w.stop(s.cfg.Finalize, s.cfg.StopTimeout); err != nil {
				debugLog("worker %d: %v", w.Slot, err)
			}
		} else {
			debugLog("replacing dead worker %d (pid %d): %s", w.Slot, w.PID(), w.proc.Describe())
			w.Kill()
			w.setState(StateDead)
			w.close()
		}

		sl.mu.Lock()
		sl.worker = nil
		sl.mu.Unlock()

		if s.isClosed() {
			return
		}

		nw, err := s.spawn(s.ctx, sl)
		if err != nil {
			if s.isClosed() {
				return
			}
			s.markDead(sl, err)
			return
		}

		sl.mu.Lock()
		sl.worker = nw
		sl.restarts++
		sl.mu.Unlock()

		if s.isClosed() {
			_ = nw.stop(s.cfg.Finalize, s.cfg.StopTimeout)
			return
		}
		nw.setState(StateReady)
		s.idle <- nw
	}()
}

func (s *Supervisor) markDead(sl *slot, err error) {
	sl.mu.Lock()
	sl.dead = true
	sl.err = err
	sl.mu.Unlock()

	debugLog("slot %d is dead: %v", sl.index, err)
	s.emit(Event{Kind: EventSlotDead, Slot: sl.index, Err: err})

	s.aliveMu.Lock()
	defer s.aliveMu.Unlock()
	s.alive--
	if s.alive == 0 {
		close(s.exhausted)
	}
}

// spawn starts a worker for sl, retrying with backoff.
func (s *Supervisor) spawn(ctx context.Context, sl *slot) (*Worker, error) {
	var w *Worker
	err := algorithms.Retry(ctx, s.cfg.SpawnAttempts, s.cfg.Backoff, func(attempt int) error {
		nw, err := s.startWorker(ctx, sl)
		if err != nil {
			debugLog("spawn attempt %d for slot %d failed: %v", attempt+1, sl.index, err)
			s.emit(Event{Kind: EventSpawnFailed, Slot: sl.index, Err: err})
			return err
		}
		w = nw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Supervisor) startWorker(ctx context.Context, sl *slot) (*Worker, error) {
	p, err := proc.Start(uuid.NewString(), s.cfg.Spec)
	if err != nil {
		return nil, err
	}
	w := newWorker(sl.index, p, sl.cpus)

	if len(sl.cpus) > 0 {
		if err := cpu.SetProcessAffinity(w.PID(), sl.cpus); err != nil {
			debugLog("pin worker %d to cpus %s: %v", sl.index, sl.cpus, err)
		}
	}

	if err := w.handshake(ctx, s.cfg.Init); err != nil {
		w.Kill()
		w.proc.Wait(exitGrace)
		w.close()
		return nil, err
	}

	debugLog("worker %d ready (pid %d, id %s)", sl.index, w.PID(), w.ID)
	s.emit(Event{Kind: EventReady, Slot: sl.index, WorkerID: w.ID, PID: w.PID()})
	return w, nil
}

func (s *Supervisor) emit(ev Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}

func (s *Supervisor) markClosed() bool {
	first := false
	s.closeOnce.Do(func() {
		first = true
		close(s.closed)
		s.cancel()
	})
	return first
}

// Shutdown stops every worker gracefully, running finalizers, and kills
// those that do not exit within timeout. Busy workers are killed. It
// waits for pending respawns to settle.
func (s *Supervisor) Shutdown(timeout time.Duration) error {
	if !s.markClosed() {
		return nil
	}
	if timeout <= 0 {
		timeout = s.cfg.StopTimeout
	}
	s.wg.Wait()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, sl := range s.slots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sl.lifecycle.Lock()
			defer sl.lifecycle.Unlock()

			sl.mu.Lock()
			w := sl.worker
			sl.worker = nil
			sl.mu.Unlock()
			if w == nil {
				return
			}

			if w.State() == StateBusy {
				w.Kill()
			}
			if err := w.stop(s.cfg.Finalize, timeout); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("worker %d: %w", sl.index, err))
				mu.Unlock()
			}
			s.emit(Event{Kind: EventStopped, Slot: sl.index, WorkerID: w.ID, PID: w.PID()})
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Terminate kills every worker without running finalizers.
func (s *Supervisor) Terminate() {
	s.markClosed()
	for _, sl := range s.slots {
		if w := sl.current(); w != nil {
			w.Kill()
		}
	}
	s.wg.Wait()

	for _, sl := range s.slots {
		sl.mu.Lock()
		w := sl.worker
		sl.worker = nil
		sl.mu.Unlock()
		if w != nil {
			w.Kill()
			w.proc.Wait(exitGrace)
			w.setState(StateDead)
			w.close()
		}
	}
}

// Snapshot returns the current state of every slot.
func (s *Supervisor) Snapshot() []Info {
	out := make([]Info, len(s.slots))
	for i, sl := range s.slots {
		sl.mu.Lock()
		info := Info{Slot: i, CPUs: sl.cpus, Restarts: sl.restarts, Err: sl.err, PID: -1, State: StateRestarting}
		if sl.dead {
			info.State = StateDead
		}
		if w := sl.worker; w != nil {
			info.ID = w.ID
			info.PID = w.PID()
			info.State = w.State()
			info.Tasks = w.Tasks()
		}
		sl.mu.Unlock()
		out[i] = info
	}
	return out
}
