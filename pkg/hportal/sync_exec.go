package hportal

import "time"

// SyncExec runs g's three callbacks synchronously on the caller's own
// goroutine against a one-shot connection, bypassing the portal's queue,
// pipelining, and pool sizing entirely. It completes g before returning.
func SyncExec(g *GOP, ctx *PortalContext, connectContext any, host string, port int) Status {
	ns, err := ctx.Connect(connectContext, host, port, 0)
	if err != nil {
		g.MarkCompleted(StatusCantConnect)
		return StatusCantConnect
	}
	defer ctx.CloseConnection(ns)

	g.StartTime = time.Now()
	g.EndTime = g.StartTime.Add(g.Timeout)

	status := StatusSuccess
	if g.SendCommand != nil {
		status = g.SendCommand(g, ns)
	}
	if status == StatusSuccess && g.SendPhase != nil {
		status = g.SendPhase(g, ns)
	}
	if status == StatusSuccess && g.RecvPhase != nil {
		status = g.RecvPhase(g, ns)
	}

	g.MarkCompleted(status)
	return status
}

// SyncExecEnabled reports whether g has opted into the SyncExec bypass
// path (via Bypass) instead of being routed through Submit.
func SyncExecEnabled(g *GOP) bool {
	return g.Bypass
}
