package hportal

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// SendCommandFunc issues a GOP's request-phase preamble over the wire.
// It runs on the sender goroutine of whichever host connection picks up
// the GOP, with no locks held.
type SendCommandFunc func(g *GOP, ns net.Conn) Status

// SendPhaseFunc writes the bulk of a GOP's request on the wire. It always
// runs immediately after SendCommandFunc succeeds. The GOP is pushed onto
// the connection's pipeline for the receiver whatever this returns; a
// non-SUCCESS result ends the sender's loop.
type SendPhaseFunc func(g *GOP, ns net.Conn) Status

// RecvPhaseFunc reads a GOP's response phase off the wire. It runs on the
// receiver goroutine once the GOP reaches the bottom of the pipeline.
type RecvPhaseFunc func(g *GOP, ns net.Conn) Status

// GOP ("generic operation") is a single unit of asynchronous work:
// caller-supplied callbacks plus bookkeeping the engine needs to pipeline,
// retry, and time it. A GOP is owned by exactly one of {the portal's
// queue, a connection's curr_op, a connection's pipeline, its completion
// observer} at every instant; see Submit/MarkCompleted.
type GOP struct {
	ID uint64

	SendCommand SendCommandFunc
	SendPhase   SendPhaseFunc
	RecvPhase   RecvPhaseFunc

	// Workload is the cost this GOP charges against a connection's
	// backpressure budget between send_phase and recv_phase completing.
	Workload int
	Timeout  time.Duration

	// RetryCount is decremented on a StatusTimeout disposition; it gates
	// whether StatusRetry/StatusTimeout are honored as retriable at all.
	RetryCount int
	// RetryWait is the pause hint honored by the portal when this GOP
	// causes a connection teardown with StatusRetry.
	RetryWait time.Duration

	StartTime time.Time
	EndTime   time.Time

	// onTop latches once this GOP's timing origin (StartTime/EndTime) is
	// authoritative, i.e. once it reaches the bottom of some pipeline
	// with nothing ahead of it. gopMu guards it alongside StartTime/
	// EndTime so the "start a timer from the other worker" cross-lock
	// dance in host connections has a single lock to take.
	gopMu sync.Mutex
	onTop atomic.Bool

	done   chan struct{}
	once   sync.Once
	status Status

	// pending marks a GOP that was re-submitted after a connection died
	// with it in flight, per the re-injection ordering in connection.go.
	pending bool

	// Bypass marks a GOP that should run via SyncExec instead of being
	// handed to a HostPortal's Submit.
	Bypass bool
}

// NewGOP constructs a GOP ready for Submit or SyncExec.
func NewGOP(id uint64, send SendCommandFunc, sendPhase SendPhaseFunc, recv RecvPhaseFunc, workload int, timeout time.Duration, retryCount int, retryWait time.Duration) *GOP {
	return &GOP{
		ID:          id,
		SendCommand: send,
		SendPhase:   sendPhase,
		RecvPhase:   recv,
		Workload:    workload,
		Timeout:     timeout,
		RetryCount:  retryCount,
		RetryWait:   retryWait,
		done:        make(chan struct{}),
	}
}

// MarkCompleted latches the GOP's final status exactly once. Safe to call
// from any goroutine; subsequent calls are no-ops, matching the "completed
// exactly once" invariant.
func (g *GOP) MarkCompleted(status Status) {
	g.once.Do(func() {
		g.gopMu.Lock()
		g.status = status
		if g.EndTime.IsZero() {
			g.EndTime = time.Now()
		}
		g.gopMu.Unlock()
		close(g.done)
	})
}

// Done returns a channel closed once the GOP is completed.
func (g *GOP) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the GOP completes and returns its final status.
func (g *GOP) Wait() Status {
	<-g.done
	g.gopMu.Lock()
	defer g.gopMu.Unlock()
	return g.status
}

// IsCompleted reports whether MarkCompleted has already run, without
// blocking.
func (g *GOP) IsCompleted() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// startTimerIfNeeded latches StartTime/EndTime the first time it is
// called for a GOP, under the GOP's own lock. It is the replacement for
// the source's cross-lock "start the sender's timer from the receiver"
// dance: instead of releasing the host connection lock, taking the GOP
// lock, and retaking the host connection lock, callers take only the
// GOP's lock for the single compare-and-latch. Returns true the first
// time it runs for this GOP.
func (g *GOP) startTimerIfNeeded() bool {
	if g.onTop.Load() {
		return false
	}
	g.gopMu.Lock()
	defer g.gopMu.Unlock()
	if g.onTop.Load() {
		return false
	}
	now := time.Now()
	g.StartTime = now
	g.EndTime = now.Add(g.Timeout)
	g.onTop.Store(true)
	return true
}
