package clock

import (
	"testing"
	"time"
)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []int

	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Add(2 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order after 2s = %v, want [1 2]", order)
	}

	c.Add(time.Second)
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("order after 3s = %v, want [1 2 3]", order)
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop() = false, want true for pending timer")
	}
	if timer.Stop() {
		t.Fatal("second Stop() = true, want false")
	}

	c.Add(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFake_RearmFromCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(5*time.Second, tick)
	}
	c.AfterFunc(5*time.Second, tick)

	c.Add(21 * time.Second)
	if ticks != 4 {
		t.Fatalf("ticks = %d, want 4", ticks)
	}
	if got := c.Now(); !got.Equal(time.Unix(21, 0)) {
		t.Fatalf("Now() = %v, want 21s", got)
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}
}
