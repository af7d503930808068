package journal

import (
	"errors"
	"testing"
)

func TestErrorRingKeepsInsertionOrderBelowCapacity(t *testing.T) {
	r := newErrorRing(3)
	r.add(errors.New("a"))
	r.add(errors.New("b"))

	got := r.recent()
	if len(got) != 2 || got[0].Error() != "a" || got[1].Error() != "b" {
		t.Errorf("recent() = %v, want [a b]", got)
	}
}

func TestErrorRingDropsOldestPastCapacity(t *testing.T) {
	r := newErrorRing(2)
	r.add(errors.New("a"))
	r.add(errors.New("b"))
	r.add(errors.New("c"))

	got := r.recent()
	if len(got) != 2 || got[0].Error() != "b" || got[1].Error() != "c" {
		t.Errorf("recent() = %v, want [b c] (a evicted)", got)
	}
}

func TestErrorRingZeroCapacityIsNoOp(t *testing.T) {
	r := newErrorRing(0)
	r.add(errors.New("a"))
	if got := r.recent(); len(got) != 0 {
		t.Errorf("recent() = %v, want empty for zero-capacity ring", got)
	}
}
