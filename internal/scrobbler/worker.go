package scrobbler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type cmdType uint8

const (
	cmdDrain cmdType = iota
	cmdAuthRecovered
	cmdShutdown
)

// command is one unit of work for the worker loop. Commands scheduled in
// the future are not dequeued until due.
type command struct {
	typ       cmdType
	notBefore time.Time
}

// WorkerConfig tunes the worker's pacing and backpressure behavior.
type WorkerConfig struct {
	// MaxPendingCommands bounds the command queue. When full, a pending
	// Drain is sacrificed first; Shutdown is always accepted.
	MaxPendingCommands int

	// NowPlayingMinInterval is the minimum gap between now-playing sends,
	// so rapid track changes do not flood the service.
	NowPlayingMinInterval time.Duration

	// DrainMinInterval paces drain passes once the backlog exceeds
	// CooldownLimit records.
	DrainMinInterval time.Duration

	// DrainBudget bounds the time one drain command may spend before
	// rescheduling a continuation.
	DrainBudget time.Duration

	// DrainStepSleep is the pause between drain sub-iterations.
	DrainStepSleep time.Duration

	// CooldownLimit is the backlog size above which DrainMinInterval is
	// enforced.
	CooldownLimit int
}

// DefaultWorkerConfig returns the production tuning.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxPendingCommands:    2048,
		NowPlayingMinInterval: 1500 * time.Millisecond,
		DrainMinInterval:      250 * time.Millisecond,
		DrainBudget:           1200 * time.Millisecond,
		DrainStepSleep:        10 * time.Millisecond,
		CooldownLimit:         101,
	}
}

// Worker is the single serialized execution context that owns all outbound
// network calls: now-playing updates and queue drains never race on the
// wire. Callers post commands; the worker goroutine executes them in order
// of due time, flushing the coalesced now-playing slot first on every wake.
type Worker struct {
	client WebAPI
	auth   AuthOracle
	queue  *Queue
	cfg    WorkerConfig
	logger zerolog.Logger

	mu                 sync.Mutex
	cmds               []command
	pendingNowPlaying  *Track
	lastNowPlayingSent time.Time
	lastDrain          time.Time

	wakeCh chan struct{}
	done   chan struct{}

	running       atomic.Bool
	stopRequested atomic.Bool
	shuttingDown  atomic.Bool
	authBlocked   atomic.Bool
}

// NewWorker creates a worker over the given collaborators. Call Start to
// launch the loop.
func NewWorker(client WebAPI, auth AuthOracle, queue *Queue, cfg WorkerConfig, logger zerolog.Logger) *Worker {
	return &Worker{
		client: client,
		auth:   auth,
		queue:  queue,
		cfg:    cfg,
		logger: logger.With().Str("component", "worker").Logger(),
	}
}

// Start launches the worker goroutine. Idempotent.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}

	w.stopRequested.Store(false)
	w.wakeCh = make(chan struct{}, 1)
	w.done = make(chan struct{})
	go w.run()
}

// Stop shuts the worker down and joins the loop: when it returns, no
// submission is on the wire and nothing will touch the store again. The
// shutdown flag is raised before anything else, so once Stop begins no
// further side effect is dispatched even for commands already in flight.
// Must not be called from the loop goroutine itself; code running there
// requests shutdown by posting the shutdown command. Idempotent.
func (w *Worker) Stop() {
	// Make shutdown visible before any further wake or command.
	w.shuttingDown.Store(true)

	if !w.running.CompareAndSwap(true, false) {
		return
	}

	w.stopRequested.Store(true)
	w.enqueue(command{typ: cmdShutdown, notBefore: time.Now()})
	w.wake()
	<-w.done
}

// IsShuttingDown reports whether shutdown has begun.
func (w *Worker) IsShuttingDown() bool {
	return w.shuttingDown.Load()
}

func (w *Worker) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *Worker) accepting() bool {
	return !w.shuttingDown.Load() && w.running.Load() && !w.stopRequested.Load()
}

// enqueue appends a command, applying backpressure. A full queue sheds its
// oldest pending Drain to make room; drains are idempotent and
// re-triggerable, so dropping one loses nothing. Shutdown always gets in.
func (w *Worker) enqueue(cmd command) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Coalesce drains: at most one Drain command needs to exist. Keep the
	// earlier due time.
	if cmd.typ == cmdDrain {
		for i := range w.cmds {
			if w.cmds[i].typ == cmdDrain {
				if cmd.notBefore.Before(w.cmds[i].notBefore) {
					w.cmds[i].notBefore = cmd.notBefore
				}
				return
			}
		}
	}

	if len(w.cmds) >= w.cfg.MaxPendingCommands {
		if cmd.typ != cmdShutdown {
			for i := range w.cmds {
				if w.cmds[i].typ == cmdDrain {
					w.cmds = append(w.cmds[:i], w.cmds[i+1:]...)
					break
				}
			}
			if len(w.cmds) >= w.cfg.MaxPendingCommands {
				return
			}
		}
	}

	w.cmds = append(w.cmds, cmd)
}

// PostNowPlaying overwrites the coalescing slot: at most one now-playing
// update is ever pending, and the latest wins.
func (w *Worker) PostNowPlaying(track Track) {
	if !w.accepting() {
		return
	}

	w.mu.Lock()
	t := track
	w.pendingNowPlaying = &t
	w.mu.Unlock()
	w.wake()
}

// PostDrain schedules an immediate drain attempt.
func (w *Worker) PostDrain() {
	if !w.accepting() {
		return
	}
	w.enqueue(command{typ: cmdDrain, notBefore: time.Now()})
	w.wake()
}

// PostDrainAfter schedules a drain attempt after the given delay.
func (w *Worker) PostDrainAfter(delay time.Duration) {
	if !w.accepting() {
		return
	}
	w.enqueue(command{typ: cmdDrain, notBefore: time.Now().Add(delay)})
	w.wake()
}

// PostAuthRecovered lifts the auth-blocked gate and triggers an immediate
// drain.
func (w *Worker) PostAuthRecovered() {
	if !w.accepting() {
		return
	}
	w.enqueue(command{typ: cmdAuthRecovered, notBefore: time.Now()})
	w.wake()
}

// PostInvalidSession blocks all further side effects until auth is
// recovered, and discards any coalesced now-playing update; its target
// session is no longer valid.
func (w *Worker) PostInvalidSession() {
	w.mu.Lock()
	w.pendingNowPlaying = nil
	w.mu.Unlock()
	w.authBlocked.Store(true)
}

// nextWakeLocked returns the earliest time anything becomes due, or false
// when there is nothing pending. A coalesced now-playing slot becomes due
// only once the minimum send interval has elapsed since the last send;
// reporting it due earlier would make the loop iterate without being able
// to flush it. Callers hold w.mu.
func (w *Worker) nextWakeLocked(now time.Time) (time.Time, bool) {
	next := time.Time{}
	have := false

	if w.pendingNowPlaying != nil {
		due := now
		if !w.lastNowPlayingSent.IsZero() {
			if earliest := w.lastNowPlayingSent.Add(w.cfg.NowPlayingMinInterval); earliest.After(now) {
				due = earliest
			}
		}
		next = due
		have = true
	}
	for _, c := range w.cmds {
		if !have || c.notBefore.Before(next) {
			next = c.notBefore
			have = true
		}
	}
	return next, have
}

// popDue removes and returns the first command in FIFO order whose due time
// has passed.
func (w *Worker) popDue(now time.Time) (command, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, c := range w.cmds {
		if !c.notBefore.After(now) {
			w.cmds = append(w.cmds[:i], w.cmds[i+1:]...)
			return c, true
		}
	}
	return command{}, false
}

func (w *Worker) run() {
	defer close(w.done)
	w.logger.Debug().Msg("Worker started")

	for {
		w.mu.Lock()
		next, have := w.nextWakeLocked(time.Now())
		w.mu.Unlock()

		if !have {
			<-w.wakeCh
		} else {
			delay := time.Until(next)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-w.wakeCh:
				case <-timer.C:
				}
				timer.Stop()
			} else {
				// Already due; consume a pending wake if one is queued so
				// it does not cause a spurious extra iteration.
				select {
				case <-w.wakeCh:
				default:
				}
			}
		}

		cmd, haveCmd := w.popDue(time.Now())

		// During shutdown: absolutely no side effects.
		if !w.shuttingDown.Load() {
			w.sendNowPlayingIfReady()
		}

		if !haveCmd {
			if w.stopRequested.Load() {
				break
			}
			continue
		}

		if cmd.typ == cmdShutdown {
			break
		}

		w.handle(cmd)

		if w.stopRequested.Load() {
			break
		}
	}

	w.logger.Debug().Msg("Worker stopped")
}

func (w *Worker) handle(cmd command) {
	if w.shuttingDown.Load() {
		return
	}

	switch cmd.typ {
	case cmdDrain:
		w.handleDrain()
	case cmdAuthRecovered:
		w.authBlocked.Store(false)
		w.handleDrain()
	}
}

// sendNowPlayingIfReady flushes the coalesced now-playing slot, respecting
// the minimum send interval. The slot survives when the interval has not
// elapsed yet; the timed wake will retry it.
func (w *Worker) sendNowPlayingIfReady() {
	w.mu.Lock()
	if w.pendingNowPlaying == nil {
		w.mu.Unlock()
		return
	}
	now := time.Now()
	if !w.lastNowPlayingSent.IsZero() && now.Sub(w.lastNowPlayingSent) < w.cfg.NowPlayingMinInterval {
		w.mu.Unlock()
		return
	}
	track := *w.pendingNowPlaying
	w.pendingNowPlaying = nil
	w.lastNowPlayingSent = now
	w.mu.Unlock()

	if w.authBlocked.Load() {
		return
	}
	if !w.auth.IsAuthenticated() || w.auth.IsSuspended() {
		return
	}
	if !track.Valid() {
		return
	}

	_ = w.client.UpdateNowPlaying(context.Background(), track)
}

// handleDrain runs queue drain passes inside a bounded time budget, pacing
// between sub-iterations and rescheduling a follow-up when work remains.
func (w *Worker) handleDrain() {
	if w.shuttingDown.Load() {
		return
	}
	if w.authBlocked.Load() {
		return
	}
	if !w.auth.IsAuthenticated() || w.auth.IsSuspended() {
		return
	}

	now := time.Now()

	pending := w.queue.PendingCount()
	if pending == 0 {
		return
	}

	// With a large backlog, self-pace so the remote service is not
	// hammered by back-to-back drain triggers.
	if pending >= w.cfg.CooldownLimit {
		if now.Sub(w.lastDrain) < w.cfg.DrainMinInterval {
			return
		}
		w.lastDrain = now
	}

	if !w.queue.HasDue(time.Now().Unix()) {
		return
	}

	budgetEnd := time.Now().Add(w.cfg.DrainBudget)
	ctx := context.Background()

	for time.Now().Before(budgetEnd) {
		if w.shuttingDown.Load() || w.stopRequested.Load() {
			return
		}

		w.queue.RetryQueuedScrobbles(ctx)

		if w.shuttingDown.Load() || w.stopRequested.Load() {
			return
		}
		if w.queue.PendingCount() == 0 {
			return
		}
		if !w.queue.HasDue(time.Now().Unix()) {
			return
		}

		time.Sleep(w.cfg.DrainStepSleep)
	}

	// Budget exhausted with work still due: schedule a paced follow-up.
	if w.queue.PendingCount() > 0 && w.queue.HasDue(time.Now().Unix()) {
		w.PostDrainAfter(250 * time.Millisecond)
	}
}
