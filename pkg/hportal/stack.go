package hportal

// pipeline is a host connection's in-flight command queue: the sender
// pushes onto the top as each send_phase completes, the receiver pops off
// the bottom as each recv_phase completes. Used FIFO with respect to a
// single connection's sends ("push-top / pop-bottom" in the source),
// represented here as a plain slice (append at the top, reslice off the
// bottom) rather than an intrusive stack. The slice has no capacity bound
// of its own; its depth is limited only by the sender's backpressure.
type pipeline struct {
	items []*GOP
}

// pushTop appends a GOP that just finished its send phase.
func (p *pipeline) pushTop(g *GOP) {
	p.items = append(p.items, g)
}

// peekBottom returns the oldest in-flight GOP without removing it.
func (p *pipeline) peekBottom() *GOP {
	if len(p.items) == 0 {
		return nil
	}
	return p.items[0]
}

// popBottom removes and returns the oldest in-flight GOP.
func (p *pipeline) popBottom() *GOP {
	if len(p.items) == 0 {
		return nil
	}
	g := p.items[0]
	p.items[0] = nil
	p.items = p.items[1:]
	return g
}

// len reports the number of GOPs currently in flight on this connection.
func (p *pipeline) len() int {
	return len(p.items)
}

// drain empties the pipeline and returns its contents in pop order
// (oldest first), for connection-teardown re-injection.
func (p *pipeline) drain() []*GOP {
	items := p.items
	p.items = nil
	return items
}
