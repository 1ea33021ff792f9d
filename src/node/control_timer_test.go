package node

import (
	"testing"
	"time"
)

func TestControlTimerTicks(t *testing.T) {
	timer := NewControlTimer(time.After)
	go timer.Run(5 * time.Millisecond)
	defer timer.Shutdown()

	select {
	case <-timer.tickCh:
	case <-time.After(time.Second):
		t.Fatal("the timer should have ticked")
	}

	// a fired timer stays silent until someone resets it
	timer.resetCh <- 5 * time.Millisecond
	select {
	case <-timer.tickCh:
	case <-time.After(time.Second):
		t.Fatal("the reset timer should have ticked again")
	}
}

func TestControlTimerStop(t *testing.T) {
	timer := NewControlTimer(time.After)
	go timer.Run(time.Second)
	defer timer.Shutdown()

	timer.stopCh <- struct{}{}

	select {
	case <-timer.tickCh:
		t.Fatal("a stopped timer must not tick")
	case <-time.After(50 * time.Millisecond):
	}
}
