package hportal

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// errInvalidHost is the synthetic connect error recorded for a connection
// that never dialed because its portal's host was already known bad.
var errInvalidHost = errors.New("hportal: invalid host")

// HostConnection is one socket plus its sender/receiver goroutine pair
// and the pipeline state they share. Two goroutines own exactly one
// HostConnection for its entire life: the sender dequeues GOPs from the
// portal and writes their request phases; the receiver reads response
// phases for whatever the sender already pushed onto pending, in FIFO
// order with respect to this connection's sends.
//
// mu guards every field below except ns itself (owned exclusively by
// whichever goroutine is doing I/O on it at the time: sender writes,
// receiver reads, full duplex, no lock needed for the I/O itself).
type HostConnection struct {
	mu       sync.Mutex
	sendCond *sync.Cond
	recvCond *sync.Cond

	id uint64
	hp *HostPortal
	ns net.Conn

	pending      pipeline
	currOp       *GOP
	currWorkload int

	lastUsed time.Time
	cmdCount int64

	// shutdownRequest: 0 running, 1 draining (pipeline was empty when
	// requested), 2 draining-with-one-more-pass (pipeline was non-empty;
	// downgraded to 1 by the receiver once it sees it).
	shutdownRequest int32
	// recvUp: 0 not yet up, 1 up, -1 receiver failed to start.
	recvUp   int32
	sendDown bool
	// closing: 0 never externally closed, 2 quick-closed (no join), 3
	// joined. close() sets 2 or 3; pushClosed also sets 3 on a connection
	// that shut itself down, as it queues it for reaping.
	closing int32

	netConnectStatus error
	startStable      int

	recvDone chan struct{}

	logger *Logger
}

func newHostConnection(hp *HostPortal) *HostConnection {
	hc := &HostConnection{
		hp:       hp,
		lastUsed: time.Now(),
		recvDone: make(chan struct{}),
		logger:   hp.logger,
	}
	hc.sendCond = sync.NewCond(&hc.mu)
	hc.recvCond = sync.NewCond(&hc.mu)
	return hc
}

// requestShutdown asks both workers to wind down without forcing a drain
// pass; no-op if a shutdown is already in progress.
func (hc *HostConnection) requestShutdown() {
	hc.mu.Lock()
	if hc.shutdownRequest == 0 {
		hc.shutdownRequest = 1
	}
	hc.recvCond.Signal()
	hc.sendCond.Broadcast()
	hc.mu.Unlock()
}

func (hc *HostConnection) shutdownRequested() bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.shutdownRequest != 0
}

// idleTimedOut reports whether hc has had an empty pipeline for at least
// minIdle since it last sent or received anything.
func (hc *HostConnection) idleTimedOut(minIdle time.Duration) bool {
	if minIdle <= 0 {
		return false
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.pending.len() == 0 && time.Since(hc.lastUsed) >= minIdle
}

// close marks hc for teardown. If quick, it returns immediately without
// waiting for the receiver goroutine to exit (closing=2); otherwise it
// blocks until the receiver has fully torn down (closing=3) and triggers
// a reap. Unlike the pthread_join this mirrors, waiting on a Go channel
// that may already be closed is safe to repeat, so the quick/joined split
// here is about call-site blocking behavior rather than avoiding
// undefined behavior.
func (hc *HostConnection) close(quick bool) {
	hc.mu.Lock()
	hc.shutdownRequest = 1
	hc.mu.Unlock()

	hp := hc.hp
	hp.cond.Broadcast()

	hc.mu.Lock()
	hc.sendCond.Broadcast()
	hc.recvCond.Broadcast()
	hc.mu.Unlock()
	hp.cond.Broadcast()

	if quick {
		hc.mu.Lock()
		hc.closing = 2
		hc.mu.Unlock()
		return
	}

	<-hc.recvDone

	hc.mu.Lock()
	hc.closing = 3
	hc.mu.Unlock()

	hp.reap()
}

// release frees resources owned by hc. Called only once hc has been
// popped off the portal's closedQue, both workers exited.
func (hc *HostConnection) release() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.ns != nil {
		hc.hp.ctx.CloseConnection(hc.ns)
		hc.ns = nil
	}
	hc.pending.drain()
}

// runSender is the sender half of the pipeline protocol: it dequeues
// GOPs from the portal, runs their send_command/send_phase callbacks,
// and hands each off to the receiver via the pending pipeline.
func (hc *HostConnection) runSender() {
	hp := hc.hp

	hp.mu.Lock()
	hp.oopsSendStart++
	hp.mu.Unlock()

	hc.mu.Lock()
	for hc.recvUp == 0 {
		hc.sendCond.Wait()
	}
	up := hc.recvUp
	hc.mu.Unlock()

	if up != 1 {
		// The receiver failed to start; there is nothing registered on
		// the portal yet, so just exit.
		hp.mu.Lock()
		hp.oopsSendEnd++
		hp.mu.Unlock()
		return
	}

	hp.mu.Lock()
	invalidHost := hp.invalidHost
	hp.mu.Unlock()

	var connectErr error
	if invalidHost {
		hp.failAllQueued(StatusInvalidHost)
		connectErr = errInvalidHost
	} else {
		hc.ns, connectErr = hp.ctx.Connect(hp.connectContext, hp.host, hp.port, hp.dtConnect)
	}
	hc.netConnectStatus = connectErr
	hp.registerConnection(hc, connectErr)
	hp.metrics.observeConnectAttempt(connectErr == nil)
	if connectErr != nil {
		hp.logger.WarnContext(context.Background(), "connect failed", "host", hp.host, "port", hp.port, "error", connectErr)
	}

	finished := StatusSuccess
	if connectErr != nil {
		finished = StatusDead
	}

	idle := false
	for finished == StatusSuccess {
		hc.mu.Lock()
		for hc.currWorkload >= hp.ctx.MaxWorkload && hc.shutdownRequest == 0 {
			hc.sendCond.Wait()
		}
		hc.mu.Unlock()

		g, ok := hp.dequeue(hc, &idle)
		if ok {
			hc.mu.Lock()
			hc.currOp = g
			dispatchOnTop := hc.pending.len() == 0
			hc.mu.Unlock()
			if dispatchOnTop {
				g.startTimerIfNeeded()
			}

			status := StatusSuccess
			if g.SendCommand != nil {
				status = g.SendCommand(g, hc.ns)
			}
			finished = status

			if finished == StatusSuccess {
				hc.mu.Lock()
				hc.lastUsed = time.Now()
				hc.currWorkload += g.Workload
				latchOnTop := hc.pending.len() == 0
				hc.mu.Unlock()
				if latchOnTop {
					g.startTimerIfNeeded()
				}

				status = StatusSuccess
				if g.SendPhase != nil {
					status = g.SendPhase(g, hc.ns)
				}
				finished = status

				// Pushed regardless of send_phase's outcome: a failed
				// send still needs the receiver to harvest its status.
				hc.mu.Lock()
				hc.lastUsed = time.Now()
				hc.pending.pushTop(g)
				hc.currOp = nil
				hc.recvCond.Signal()
				hc.mu.Unlock()
			}
		}

		hc.mu.Lock()
		if hc.pending.len() == 0 {
			if time.Since(hc.lastUsed) >= hp.ctx.MinIdle {
				hc.shutdownRequest = 1
			}
		} else if hc.startStable == 0 {
			hc.shutdownRequest = 1
		}
		if hc.shutdownRequest != 0 {
			finished = StatusError
		}
		hc.mu.Unlock()
	}

	if idle {
		hp.mu.Lock()
		hp.idleConn--
		hp.mu.Unlock()
	}

	hc.mu.Lock()
	if hc.pending.len() == 0 {
		hc.shutdownRequest = 1
	} else {
		hc.shutdownRequest = 2
	}
	hc.recvCond.Signal()
	hc.mu.Unlock()

	hp.ctx.modifyThreadCount(-1)

	hc.mu.Lock()
	hc.sendDown = true
	hc.sendCond.Signal()
	hc.mu.Unlock()

	hp.mu.Lock()
	hp.oopsSendEnd++
	hp.mu.Unlock()
}

// runReceiver is the receiver half of the pipeline protocol: it reads
// response phases for whatever the sender has already pushed, in the
// order they were sent, and drives the periodic pool-sizing tick.
func (hc *HostConnection) runReceiver() {
	defer close(hc.recvDone)

	hp := hc.hp

	hp.mu.Lock()
	hp.oopsRecvStart++
	startCmdsProcessed := hp.cmdsProcessed
	hp.mu.Unlock()

	nextCheck := time.Now().Add(hp.ctx.CheckConnectionInterval)
	firstTime := true
	var cmdPauseTime time.Duration
	var lastOp *GOP

	for {
		hc.mu.Lock()
		g := hc.pending.peekBottom()
		hc.mu.Unlock()

		loopDone := false
		lastOp = g

		if g != nil {
			g.startTimerIfNeeded()

			status := StatusSuccess
			if g.RecvPhase != nil {
				status = g.RecvPhase(g, hc.ns)
			}
			g.EndTime = time.Now()

			hc.mu.Lock()
			hc.lastUsed = time.Now()
			hc.currWorkload -= g.Workload
			hc.pending.popBottom()
			hc.sendCond.Signal()
			hc.mu.Unlock()

			switch {
			case status == StatusRetry && g.RetryCount > 0:
				cmdPauseTime = g.RetryWait
				loopDone = true
			case status == StatusTimeout && g.RetryCount > 0:
				g.RetryCount--
				loopDone = true
			default:
				g.MarkCompleted(status)
				hp.metrics.observeCompletion(status)
				hc.mu.Lock()
				hc.cmdCount++
				hc.mu.Unlock()
				hp.mu.Lock()
				hp.cmdsProcessed++
				hp.mu.Unlock()
				lastOp = nil
			}
		} else {
			hc.mu.Lock()
			cur := hc.currOp
			hc.mu.Unlock()
			if cur != nil {
				cur.startTimerIfNeeded()
			}

			hc.mu.Lock()
			sr := hc.shutdownRequest
			if sr == 2 {
				hc.shutdownRequest = 1
				sr = 1
			}
			hc.mu.Unlock()

			if sr == 0 {
				if firstTime {
					hc.mu.Lock()
					hc.recvUp = 1
					hc.sendCond.Broadcast()
					hc.mu.Unlock()
					firstTime = false
				}
				hc.mu.Lock()
				for hc.shutdownRequest == 0 && hc.pending.len() == 0 {
					hc.sendCond.Signal()
					hc.recvCond.Wait()
				}
				hc.mu.Unlock()
			} else {
				loopDone = true
			}
		}

		if time.Now().After(nextCheck) {
			hp.CheckConnections()
			nextCheck = time.Now().Add(hp.ctx.CheckConnectionInterval)
		}

		if loopDone {
			break
		}
	}

	hc.mu.Lock()
	if hc.ns != nil {
		hp.ctx.CloseConnection(hc.ns)
		hc.ns = nil
	}
	hc.currWorkload = 0
	hc.shutdownRequest = 1
	hc.mu.Unlock()

	hp.cond.Broadcast()
	hc.mu.Lock()
	hc.sendCond.Broadcast()
	hc.mu.Unlock()

	for {
		hc.mu.Lock()
		down := hc.sendDown
		hc.mu.Unlock()
		if down {
			break
		}
		time.Sleep(time.Millisecond)
	}

	pending := false

	if hc.netConnectStatus != nil {
		hp.mu.Lock()
		processed := hp.cmdsProcessed - startCmdsProcessed
		if processed == 0 {
			if hp.nConn == 1 || hp.failedConnAttempts > hp.abortConnAttempts {
				hp.mu.Unlock()
				hp.failAllQueued(StatusCantConnect)
				hp.mu.Lock()
			}
		}
		hp.mu.Unlock()
	} else {
		var reinject []*GOP
		hc.mu.Lock()
		if hc.currOp != nil {
			reinject = append(reinject, hc.currOp)
			hc.currOp = nil
			pending = true
		}
		hc.mu.Unlock()
		if reinject != nil || lastOp != nil {
			hc.logger.InfoContext(context.Background(), "connection dropped with in-flight work, re-queuing",
				"conn_id", hc.id, "cmd_count", hc.cmdCount)
		}
		if lastOp != nil {
			lastOp.RetryCount--
			reinject = append(reinject, lastOp)
			pending = true
		}
		hc.mu.Lock()
		rest := hc.pending.drain()
		hc.mu.Unlock()
		if len(rest) > 0 {
			reinject = append(reinject, rest...)
			pending = true
		}
		hp.resubmitPending(reinject)
	}

	hp.mu.Lock()
	delete(hp.connList, hc.id)
	if hp.nConn > 0 {
		hp.nConn--
	} else {
		hp.oopsNeg++
	}

	if pending {
		hp.stableConn = hp.nConn
		if hc.cmdCount < 2 {
			hp.stableConn--
		}
		if hp.stableConn < 0 {
			hp.stableConn = 0
		}

		if hp.sleepingConn > 0 {
			cmdPauseTime = 0
		}

		if cmdPauseTime > 0 {
			if cmdPauseTime > hp.ctx.MaxWait {
				cmdPauseTime = hp.ctx.MaxWait
			}
			pauseUntil := time.Now().Add(cmdPauseTime)
			if hp.pauseUntil.Before(pauseUntil) {
				hp.pauseUntil = pauseUntil
			}
		}

		if hc.startStable == 0 && hc.cmdCount > 0 {
			cmdPauseTime = 0
		}
	}
	n := hp.nConn
	hp.closingConn++
	if cmdPauseTime > 0 {
		hp.sleepingConn++
	}
	hp.oopsRecvEnd++
	hp.mu.Unlock()

	if cmdPauseTime > 0 {
		if n <= 0 {
			time.Sleep(cmdPauseTime)
		}
		hp.mu.Lock()
		hp.sleepingConn--
		hp.mu.Unlock()
	}

	hp.CheckConnections()

	hp.mu.Lock()
	hp.closingConn--
	hp.mu.Unlock()
	hp.pushClosed(hc)
}
