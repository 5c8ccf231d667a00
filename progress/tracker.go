package progress

import (
	"sync"
	"time"

	"github.com/utkarsh5026/procpool/pool"
)

// Snapshot is a point-in-time copy of a Tracker's counters.
type Snapshot struct {
	JobID     string
	StartedAt time.Time
	Duration  time.Duration

	TotalChunks     int // -1 when the input length is unknown
	CompletedChunks int
	FailedChunks    int
	Elements        int

	// PerWorker counts resolved chunks by worker id.
	PerWorker map[string]int

	Done bool
	Err  error
}

// Remaining reports chunks not yet resolved, or -1 when unknown.
func (s Snapshot) Remaining() int {
	if s.TotalChunks < 0 {
		return -1
	}
	return s.TotalChunks - s.CompletedChunks - s.FailedChunks
}

// Tracker keeps aggregated counters for one job at a time. It is safe for
// concurrent use, so a snapshot can be taken while the job runs.
type Tracker struct {
	mu       sync.Mutex
	snap     Snapshot
	onChange func(Snapshot)
}

// NewTracker creates a Tracker. onChange, if not nil, is called with a copy
// of the counters after every update, outside the tracker's lock.
func NewTracker(onChange func(Snapshot)) *Tracker {
	return &Tracker{onChange: onChange, snap: Snapshot{TotalChunks: -1}}
}

// OnChange replaces the change callback. nil disables it.
func (t *Tracker) OnChange(cb func(Snapshot)) {
	t.mu.Lock()
	t.onChange = cb
	t.mu.Unlock()
}

// JobStarted implements pool.ProgressStarter and resets the counters.
func (t *Tracker) JobStarted(info pool.JobInfo) {
	t.update(func(s *Snapshot) {
		*s = Snapshot{
			JobID:       info.ID,
			StartedAt:   time.Now(),
			TotalChunks: info.Chunks,
			PerWorker:   make(map[string]int),
		}
	})
}

// ChunkDone implements pool.ProgressSink.
func (t *Tracker) ChunkDone(ev pool.ChunkEvent) {
	t.update(func(s *Snapshot) {
		if s.PerWorker == nil {
			s.PerWorker = make(map[string]int)
		}
		if ev.Err != nil {
			s.FailedChunks++
		} else {
			s.CompletedChunks++
			s.Elements += ev.Size
		}
		if ev.WorkerID != "" {
			s.PerWorker[ev.WorkerID]++
		}
	})
}

// JobFinished implements pool.ProgressFinisher.
func (t *Tracker) JobFinished(err error) {
	t.update(func(s *Snapshot) {
		s.Done = true
		s.Err = err
		if !s.StartedAt.IsZero() {
			s.Duration = time.Since(s.StartedAt)
		}
	})
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.clone()
}

func (t *Tracker) update(fn func(*Snapshot)) {
	t.mu.Lock()
	fn(&t.snap)
	snap := t.snap.clone()
	cb := t.onChange
	t.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

func (s Snapshot) clone() Snapshot {
	if s.PerWorker != nil {
		m := make(map[string]int, len(s.PerWorker))
		for k, v := range s.PerWorker {
			m[k] = v
		}
		s.PerWorker = m
	}
	return s
}
