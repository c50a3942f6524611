package hportal

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HostPortal is the per-endpoint scheduler: a FIFO work queue, the roster
// of host connections currently serving it, and the tuning counters that
// drive pool sizing. One HostPortal talks to exactly one (host, port).
type HostPortal struct {
	mu   sync.Mutex
	cond *sync.Cond

	host           string
	port           int
	connectContext any
	ctx            *PortalContext
	logger         *Logger
	metrics        *Metrics

	maxConn           int
	abortConnAttempts int
	invalidHost       bool
	dtConnect         time.Duration

	queue []*GOP

	connList  map[uint64]*HostConnection
	nextHCID  uint64
	closedQue []*HostConnection

	nConn        int
	stableConn   int
	sleepingConn int
	closingConn  int
	idleConn     int

	successfulConnAttempts int
	failedConnAttempts     int
	cmdsProcessed          int64

	pauseUntil time.Time

	// oops* mirror the source's thread-lifecycle diagnostic counters.
	// oopsSpawnSendErr/oopsSpawnRecvErr stay at zero in this port: a Go
	// goroutine launch doesn't fail the way apr_thread_create can, so
	// there is no equivalent failure path to count.
	oopsSendStart, oopsSendEnd         int64
	oopsRecvStart, oopsRecvEnd         int64
	oopsNeg                            int64
	oopsSpawnSendErr, oopsSpawnRecvErr int64

	closed bool
}

// NewHostPortal builds a portal for (host, port), sharing ctx (and its
// thread accounting) with every other portal in the process.
func NewHostPortal(host string, port int, connectContext any, ctx *PortalContext, cfg PortalConfig, logger *Logger, metrics *Metrics) *HostPortal {
	if logger == nil {
		logger = NewLogger(LoggingConfig{Level: "info", Format: "text"})
	}
	hp := &HostPortal{
		host:              host,
		port:              port,
		connectContext:    connectContext,
		ctx:               ctx,
		logger:            logger.WithPortal(fmt.Sprintf("%s:%d", host, port)),
		metrics:           metrics,
		maxConn:           cfg.MaxConnections,
		abortConnAttempts: cfg.AbortConnAttempts,
		stableConn:        cfg.StartStable,
		dtConnect:         cfg.ConnectTimeout,
		connList:          make(map[uint64]*HostConnection),
	}
	hp.cond = sync.NewCond(&hp.mu)
	return hp
}

// SetInvalidHost flags this portal's host as unreachable in a way no
// connect attempt can fix; every future sender drains the queue with
// StatusInvalidHost instead of dialing.
func (hp *HostPortal) SetInvalidHost(v bool) {
	hp.mu.Lock()
	hp.invalidHost = v
	hp.mu.Unlock()
}

// Submit enqueues a GOP and wakes any sender waiting for work.
func (hp *HostPortal) Submit(g *GOP) {
	hp.mu.Lock()
	hp.queue = append(hp.queue, g)
	closed := hp.closed
	hp.mu.Unlock()
	hp.cond.Broadcast()
	hp.metrics.observeSubmit(hp.host, hp.port)
	if !closed {
		hp.CheckConnections()
	} else {
		g.MarkCompleted(StatusError)
	}
}

// resubmitPending re-injects GOPs a dying connection could not finish, in
// the exact order given, ahead of freshly submitted work. The receiver's
// teardown passes the sender's current GOP first, then the receiver's own
// current GOP, then the rest of the pipeline oldest first.
func (hp *HostPortal) resubmitPending(gops []*GOP) {
	if len(gops) == 0 {
		return
	}
	hp.mu.Lock()
	if hp.closed {
		hp.mu.Unlock()
		for _, g := range gops {
			g.MarkCompleted(StatusCantConnect)
		}
		return
	}
	for _, g := range gops {
		g.pending = true
	}
	hp.queue = append(append([]*GOP{}, gops...), hp.queue...)
	hp.mu.Unlock()
	hp.cond.Broadcast()
}

// failAllQueued completes every GOP currently sitting in the queue with
// status, emptying it. Used for invalid-host and cant-connect dispositions.
func (hp *HostPortal) failAllQueued(status Status) {
	hp.mu.Lock()
	gops := hp.queue
	hp.queue = nil
	hp.mu.Unlock()
	hp.cond.Broadcast()
	for _, g := range gops {
		g.MarkCompleted(status)
	}
}

// dequeue pops the head of the queue, or waits for one to appear. Returns
// (nil, false) either when shutdown is requested or when hc has sat idle
// (empty pipeline, nothing sent since MinIdle ago) long enough that the
// sender should request its own shutdown, so the sender's main loop can
// exit without needing a separate idle-reap goroutine. idle tracks, across
// calls, whether the caller is currently counted in hp.idleConn.
func (hp *HostPortal) dequeue(hc *HostConnection, idle *bool) (*GOP, bool) {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	for {
		if len(hp.queue) > 0 {
			if *idle {
				hp.idleConn--
				*idle = false
			}
			g := hp.queue[0]
			hp.queue = hp.queue[1:]
			return g, true
		}
		if hp.closed {
			// Covers connections Shutdown could not mark because they
			// had not registered on the roster yet.
			hc.requestShutdown()
			return nil, false
		}
		if hc.shutdownRequested() || hc.idleTimedOut(hp.ctx.MinIdle) {
			if *idle {
				hp.idleConn--
				*idle = false
			}
			return nil, false
		}
		if !*idle {
			*idle = true
			hp.idleConn++
		}
		wait := hp.ctx.MinIdle
		if wait <= 0 || wait > time.Second {
			wait = time.Second
		}
		waitCondTimeout(hp.cond, wait)
	}
}

// registerConnection adds hc to the roster under the portal lock and
// snapshots stable_conn for hc's start_stable. Called by the sender after
// its connect attempt (successful or not), matching the source's ordering.
func (hp *HostPortal) registerConnection(hc *HostConnection, connectErr error) {
	hp.mu.Lock()
	hc.startStable = hp.stableConn
	if connectErr == nil {
		hp.successfulConnAttempts++
		hp.failedConnAttempts = 0
	} else {
		hp.failedConnAttempts++
	}
	hp.connList[hc.id] = hc
	hp.mu.Unlock()
}

// CheckConnections is the caller-driven (or receiver-loop-driven)
// pool-sizing tick: if the queue has work and the portal isn't paused,
// grow the roster up to maxConn when it looks like the remote endpoint
// can sustain more connections than are currently open.
func (hp *HostPortal) CheckConnections() {
	// Self-terminated connections (idle exit, non-persistent policy,
	// mid-pipeline death) queue themselves for reaping; the periodic tick
	// is what drains them outside of a full Shutdown.
	hp.reap()

	hp.mu.Lock()
	if hp.closed || time.Now().Before(hp.pauseUntil) {
		hp.mu.Unlock()
		return
	}
	queued := len(hp.queue)
	grow := queued > 0 && (hp.nConn < hp.stableConn || (hp.stableConn == 0 && hp.nConn == 0))
	if !grow || hp.nConn >= hp.maxConn {
		hp.mu.Unlock()
		return
	}
	hp.nConn++
	hc := newHostConnection(hp)
	hc.id = hp.nextHCID
	hp.nextHCID++
	hp.mu.Unlock()

	hp.spawn(hc)
}

// spawn launches hc's sender/receiver goroutine pair and accounts for it
// on the shared portal context.
func (hp *HostPortal) spawn(hc *HostConnection) {
	hp.ctx.modifyThreadCount(1)
	go hc.runReceiver()
	go hc.runSender()
}

// reap drains connections whose workers have both exited (closing == 3)
// or were quick-closed without a join (closing == 2), releasing their
// resources. An entry still marked live (closing == 0) is put back rather
// than released. Releases run concurrently, bounded by the size of the
// batch itself, since each hc's teardown only touches its own socket and
// pipeline.
func (hp *HostPortal) reap() {
	hp.mu.Lock()
	pending := hp.closedQue
	hp.closedQue = nil
	hp.mu.Unlock()

	var notReady []*HostConnection
	var g errgroup.Group
	for _, hc := range pending {
		hc.mu.Lock()
		closing := hc.closing
		hc.mu.Unlock()
		if closing == 0 {
			notReady = append(notReady, hc)
			continue
		}
		hc := hc
		g.Go(func() error {
			hc.release()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // release never returns an error

	if len(notReady) > 0 {
		hp.mu.Lock()
		hp.closedQue = append(hp.closedQue, notReady...)
		hp.mu.Unlock()
	}
}

// pushClosed queues hc for reaping; called by the receiver once it has
// torn down the connection and removed it from the live roster. By this
// point the receiver has already joined the sender, so a connection that
// shut itself down (no external close call) is marked joined here.
func (hp *HostPortal) pushClosed(hc *HostConnection) {
	hc.mu.Lock()
	if hc.closing == 0 {
		hc.closing = 3
	}
	hc.mu.Unlock()

	hp.mu.Lock()
	hp.closedQue = append(hp.closedQue, hc)
	hp.mu.Unlock()
}

// Shutdown marks every live connection for teardown and, unless quick is
// set, blocks until every goroutine pair has exited and the queue is
// empty. It always reaps before returning.
func (hp *HostPortal) Shutdown(quick bool) {
	hp.mu.Lock()
	hp.closed = true
	hcs := make([]*HostConnection, 0, len(hp.connList))
	for _, hc := range hp.connList {
		hcs = append(hcs, hc)
	}
	hp.mu.Unlock()
	hp.cond.Broadcast()

	for _, hc := range hcs {
		hc.close(quick)
	}

	if !quick {
		// nConn, not the roster: a connection between spawn and
		// registration is only visible in the counter.
		for {
			hp.mu.Lock()
			n := hp.nConn + len(hp.connList)
			hp.mu.Unlock()
			if n == 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}

	hp.reap()
	hp.failAllQueued(StatusCantConnect)
}

// Stats is a point-in-time snapshot of a portal's tuning counters, used by
// metrics collection and tests.
type Stats struct {
	NConn                  int
	StableConn             int
	SleepingConn           int
	ClosingConn            int
	IdleConn               int
	QueueDepth             int
	SuccessfulConnAttempts int
	FailedConnAttempts     int
	CmdsProcessed          int64

	// Worker lifecycle diagnostics, mirroring the oops* counters.
	OopsSendStart int64
	OopsSendEnd   int64
	OopsRecvStart int64
	OopsRecvEnd   int64
	OopsNeg       int64
}

// Stats returns a snapshot of the portal's current tuning counters.
func (hp *HostPortal) Stats() Stats {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return Stats{
		NConn:                  hp.nConn,
		StableConn:             hp.stableConn,
		SleepingConn:           hp.sleepingConn,
		ClosingConn:            hp.closingConn,
		IdleConn:               hp.idleConn,
		QueueDepth:             len(hp.queue),
		SuccessfulConnAttempts: hp.successfulConnAttempts,
		FailedConnAttempts:     hp.failedConnAttempts,
		CmdsProcessed:          hp.cmdsProcessed,
		OopsSendStart:          hp.oopsSendStart,
		OopsSendEnd:            hp.oopsSendEnd,
		OopsRecvStart:          hp.oopsRecvStart,
		OopsRecvEnd:            hp.oopsRecvEnd,
		OopsNeg:                hp.oopsNeg,
	}
}

// waitCondTimeout waits on c for at most d, relying on the caller's
// predicate re-check loop for correctness: a spurious wake from the
// timer firing after a legitimate signal is indistinguishable from (and
// as cheap as) any other broadcast wake. c.L must be held on entry and is
// held again on return.
func waitCondTimeout(c *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		c.L.Lock()
		c.Broadcast()
		c.L.Unlock()
	})
	defer timer.Stop()
	c.Wait()
}
