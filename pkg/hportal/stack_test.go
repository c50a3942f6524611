package hportal

import "testing"

func TestPipelineFIFOOrder(t *testing.T) {
	var p pipeline

	if p.peekBottom() != nil {
		t.Fatal("peekBottom on empty pipeline should be nil")
	}
	if p.popBottom() != nil {
		t.Fatal("popBottom on empty pipeline should be nil")
	}

	g1 := &GOP{ID: 1}
	g2 := &GOP{ID: 2}
	g3 := &GOP{ID: 3}

	p.pushTop(g1)
	p.pushTop(g2)
	p.pushTop(g3)

	if p.len() != 3 {
		t.Fatalf("len() = %d, want 3", p.len())
	}
	if p.peekBottom().ID != 1 {
		t.Fatalf("peekBottom().ID = %d, want 1 (oldest first)", p.peekBottom().ID)
	}

	if got := p.popBottom(); got.ID != 1 {
		t.Errorf("first popBottom().ID = %d, want 1", got.ID)
	}
	if got := p.popBottom(); got.ID != 2 {
		t.Errorf("second popBottom().ID = %d, want 2", got.ID)
	}
	if p.len() != 1 {
		t.Fatalf("len() = %d, want 1", p.len())
	}
	if got := p.popBottom(); got.ID != 3 {
		t.Errorf("third popBottom().ID = %d, want 3", got.ID)
	}
	if p.len() != 0 {
		t.Fatalf("len() = %d, want 0", p.len())
	}
}

func TestPipelineDrain(t *testing.T) {
	var p pipeline
	p.pushTop(&GOP{ID: 1})
	p.pushTop(&GOP{ID: 2})

	items := p.drain()
	if len(items) != 2 {
		t.Fatalf("drain returned %d items, want 2", len(items))
	}
	if items[0].ID != 1 || items[1].ID != 2 {
		t.Errorf("drain order = %d, %d, want 1, 2", items[0].ID, items[1].ID)
	}
	if p.len() != 0 {
		t.Errorf("pipeline should be empty after drain, len() = %d", p.len())
	}
}
