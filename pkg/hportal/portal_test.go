package hportal

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errDial = errors.New("dial refused")

// echoServer reads one byte at a time off conn and writes it straight
// back, until conn is closed or closeAfter echoes have happened (0 means
// unlimited).
func echoServer(conn net.Conn, closeAfter int) {
	buf := make([]byte, 1)
	count := 0
	for {
		if _, err := conn.Read(buf); err != nil {
			conn.Close()
			return
		}
		if _, err := conn.Write(buf); err != nil {
			conn.Close()
			return
		}
		count++
		if closeAfter > 0 && count >= closeAfter {
			conn.Close()
			return
		}
	}
}

// testTransport wires a PortalContext whose Connect spins up an in-memory
// net.Pipe with an echoServer on the far end. failConnect, when set, makes
// every Connect attempt fail instead.
type testTransport struct {
	mu           sync.Mutex
	failConnect  bool
	closeAfter   int
	connAttempts int32
}

func (tt *testTransport) connect(_ any, _ string, _ int, _ time.Duration) (net.Conn, error) {
	atomic.AddInt32(&tt.connAttempts, 1)
	tt.mu.Lock()
	fail := tt.failConnect
	closeAfter := tt.closeAfter
	tt.mu.Unlock()

	if fail {
		return nil, errDial
	}

	client, server := net.Pipe()
	go echoServer(server, closeAfter)
	return client, nil
}

func (tt *testTransport) close(ns net.Conn) {
	ns.Close()
}

// echoGOP builds a GOP whose send_command writes b and whose recv_phase
// reads a byte back and reports StatusError on mismatch.
func echoGOP(id uint64, b byte, retryCount int) *GOP {
	return NewGOP(id,
		func(g *GOP, ns net.Conn) Status {
			if _, err := ns.Write([]byte{b}); err != nil {
				return StatusDead
			}
			return StatusSuccess
		},
		nil,
		func(g *GOP, ns net.Conn) Status {
			buf := make([]byte, 1)
			if _, err := ns.Read(buf); err != nil {
				return StatusDead
			}
			if buf[0] != b {
				return StatusError
			}
			return StatusSuccess
		},
		1, 2*time.Second, retryCount, 5*time.Millisecond,
	)
}

func newTestPortal(tt *testTransport, maxWorkload, maxConn int, minIdle, checkInterval time.Duration) *HostPortal {
	pc := NewPortalContext(tt.connect, tt.close, maxWorkload, minIdle, time.Second, checkInterval)
	logger := NewLogger(LoggingConfig{Level: "error", Format: "text"})
	cfg := PortalConfig{MaxConnections: maxConn, AbortConnAttempts: 3, StartStable: 1}
	return NewHostPortal("test-host", 1234, nil, pc, cfg, logger, nil)
}

func waitForStatus(t *testing.T, g *GOP, timeout time.Duration) Status {
	t.Helper()
	select {
	case <-g.Done():
		return g.Wait()
	case <-time.After(timeout):
		t.Fatalf("GOP %d did not complete within %s", g.ID, timeout)
		return StatusError
	}
}

func TestHostPortalHappyPath(t *testing.T) {
	tt := &testTransport{}
	hp := newTestPortal(tt, 4, 4, time.Hour, time.Hour)
	defer hp.Shutdown(true)

	var gops []*GOP
	for i := 0; i < 10; i++ {
		g := echoGOP(uint64(i), byte(i), 0)
		gops = append(gops, g)
		hp.Submit(g)
	}

	for _, g := range gops {
		if status := waitForStatus(t, g, 5*time.Second); status != StatusSuccess {
			t.Errorf("GOP %d finished with %v, want SUCCESS", g.ID, status)
		}
		if g.EndTime.Before(g.StartTime) {
			t.Errorf("GOP %d EndTime %v precedes StartTime %v", g.ID, g.EndTime, g.StartTime)
		}
	}

	// cmds_processed is bumped just after each completion latch, so give
	// the last receiver iteration a moment to land.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hp.Stats().CmdsProcessed == 10 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := hp.Stats().CmdsProcessed; got != 10 {
		t.Errorf("CmdsProcessed = %d, want 10", got)
	}
}

func TestHostPortalShutdownCompletesEverything(t *testing.T) {
	tt := &testTransport{}
	hp := newTestPortal(tt, 2, 2, time.Hour, time.Hour)

	var gops []*GOP
	for i := 0; i < 8; i++ {
		g := echoGOP(uint64(i), byte(i+1), 0)
		gops = append(gops, g)
		hp.Submit(g)
	}

	hp.Shutdown(false)

	for _, g := range gops {
		if !g.IsCompleted() {
			t.Errorf("GOP %d not completed after Shutdown(quick=false)", g.ID)
		}
	}
	stats := hp.Stats()
	if stats.NConn != 0 {
		t.Errorf("NConn = %d after shutdown, want 0", stats.NConn)
	}
	if stats.QueueDepth != 0 {
		t.Errorf("QueueDepth = %d after shutdown, want 0", stats.QueueDepth)
	}
}

func TestHostPortalBackpressureSerializesOneAtATime(t *testing.T) {
	tt := &testTransport{}
	hp := newTestPortal(tt, 1, 1, time.Hour, time.Hour)
	defer hp.Shutdown(true)

	var gops []*GOP
	for i := 0; i < 5; i++ {
		g := echoGOP(uint64(i), byte(i+1), 0)
		gops = append(gops, g)
		hp.Submit(g)
	}

	for _, g := range gops {
		if status := waitForStatus(t, g, 5*time.Second); status != StatusSuccess {
			t.Errorf("GOP %d finished with %v, want SUCCESS", g.ID, status)
		}
	}
}

func TestHostPortalConnectFailureFailsQueuedGOPs(t *testing.T) {
	tt := &testTransport{failConnect: true}
	hp := newTestPortal(tt, 4, 4, time.Hour, time.Hour)
	defer hp.Shutdown(true)

	var gops []*GOP
	for i := 0; i < 3; i++ {
		g := echoGOP(uint64(i), byte(i), 0)
		gops = append(gops, g)
		hp.Submit(g)
	}

	for _, g := range gops {
		if status := waitForStatus(t, g, 5*time.Second); status != StatusCantConnect {
			t.Errorf("GOP %d finished with %v, want CANT_CONNECT", g.ID, status)
		}
	}
}

func TestHostPortalInvalidHostFailsQueuedGOPs(t *testing.T) {
	tt := &testTransport{}
	hp := newTestPortal(tt, 4, 4, time.Hour, time.Hour)
	hp.SetInvalidHost(true)
	defer hp.Shutdown(true)

	var gops []*GOP
	for i := 0; i < 4; i++ {
		g := echoGOP(uint64(i), byte(i), 0)
		gops = append(gops, g)
		hp.Submit(g)
	}

	for _, g := range gops {
		if status := waitForStatus(t, g, 5*time.Second); status != StatusInvalidHost {
			t.Errorf("GOP %d finished with %v, want INVALID_HOST", g.ID, status)
		}
	}
}

func TestHostPortalIdleConnectionIsReaped(t *testing.T) {
	tt := &testTransport{}
	hp := newTestPortal(tt, 4, 4, 20*time.Millisecond, 5*time.Millisecond)
	defer hp.Shutdown(true)

	g := echoGOP(1, 7, 0)
	hp.Submit(g)
	if status := waitForStatus(t, g, 5*time.Second); status != StatusSuccess {
		t.Fatalf("GOP finished with %v, want SUCCESS", status)
	}

	// The dead connection must leave the roster, and the pool-sizing tick
	// must drain it off closedQue without a Shutdown.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hp.CheckConnections()
		hp.mu.Lock()
		n := hp.nConn
		queued := len(hp.closedQue)
		hp.mu.Unlock()
		if n == 0 && queued == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection was not reaped after min_idle elapsed, stats=%+v", hp.Stats())
}

func TestHostPortalMidPipelineDeathGetsRetried(t *testing.T) {
	tt := &testTransport{closeAfter: 2}
	hp := newTestPortal(tt, 4, 1, time.Hour, time.Hour)
	defer hp.Shutdown(true)

	var gops []*GOP
	for i := 0; i < 5; i++ {
		g := echoGOP(uint64(i), byte(i+1), 3)
		gops = append(gops, g)
		hp.Submit(g)
	}

	for _, g := range gops {
		status := waitForStatus(t, g, 10*time.Second)
		if status != StatusSuccess && status != StatusDead {
			t.Errorf("GOP %d finished with %v, want SUCCESS (eventually) or DEAD", g.ID, status)
		}
	}
}
