package hportal

import (
	"net"
	"testing"
	"time"
)

func TestSyncExecSuccess(t *testing.T) {
	pc := NewPortalContext(func(_ any, _ string, _ int, _ time.Duration) (net.Conn, error) {
		client, server := net.Pipe()
		go echoServer(server, 0)
		return client, nil
	}, func(ns net.Conn) { ns.Close() }, 1, time.Second, time.Second, time.Second)

	g := echoGOP(1, 42, 0)
	g.Bypass = true

	status := SyncExec(g, pc, nil, "host", 1)
	if status != StatusSuccess {
		t.Fatalf("SyncExec returned %v, want SUCCESS", status)
	}
	if !g.IsCompleted() {
		t.Fatal("SyncExec must complete the GOP before returning")
	}
	if g.Wait() != StatusSuccess {
		t.Errorf("g.Wait() = %v, want SUCCESS", g.Wait())
	}
}

func TestSyncExecConnectFailure(t *testing.T) {
	pc := NewPortalContext(func(_ any, _ string, _ int, _ time.Duration) (net.Conn, error) {
		return nil, errDial
	}, func(ns net.Conn) { ns.Close() }, 1, time.Second, time.Second, time.Second)

	g := echoGOP(1, 42, 0)
	status := SyncExec(g, pc, nil, "host", 1)
	if status != StatusCantConnect {
		t.Fatalf("SyncExec returned %v, want CANT_CONNECT", status)
	}
}

func TestSyncExecEnabled(t *testing.T) {
	g := NewGOP(1, nil, nil, nil, 1, time.Second, 0, 0)
	if SyncExecEnabled(g) {
		t.Fatal("a fresh GOP should not be bypass-enabled")
	}
	g.Bypass = true
	if !SyncExecEnabled(g) {
		t.Fatal("SyncExecEnabled should reflect Bypass")
	}
}
