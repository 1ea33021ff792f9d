package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/common"
)

// testView records the order in which the scheduler recomputes it.
type testView struct {
	id   string
	deps []string
	mu   *sync.Mutex
	log  *[]string
}

func (v *testView) ViewID() string         { return v.id }
func (v *testView) Dependencies() []string { return v.deps }
func (v *testView) Recompute(*Effects) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	*v.log = append(*v.log, v.id)
	return nil
}

func testScheduler(t *testing.T) (*Scheduler, *sync.Mutex, *[]string) {
	effects := &Effects{
		Time: NewSimClock(time.Unix(0, 0)),
		Rand: NewSimRand([]byte("sched test")),
	}
	s := NewScheduler(effects, 0, 0, common.NewTestEntry(t, logrus.DebugLevel))

	mu := new(sync.Mutex)
	log := new([]string)
	return s, mu, log
}

func TestRegisterRejectsBadGraphs(t *testing.T) {
	s, mu, log := testScheduler(t)

	a := &testView{id: "a", mu: mu, log: log}
	if err := s.Register(a); err != nil {
		t.Fatal(err)
	}

	if err := s.Register(a); err == nil {
		t.Fatal("registering the same view twice should fail")
	}
	if err := s.Register(&testView{id: "b", deps: []string{"missing"}, mu: mu, log: log}); err == nil {
		t.Fatal("a dependency on an unregistered view should fail")
	}
	if err := s.Register(&testView{id: "c", deps: []string{"c"}, mu: mu, log: log}); err == nil {
		t.Fatal("a self dependency should fail")
	}
}

func TestPropagateFollowsDependencyOrder(t *testing.T) {
	s, mu, log := testScheduler(t)

	views := []*testView{
		{id: "journal", mu: mu, log: log},
		{id: "roster", deps: []string{"journal"}, mu: mu, log: log},
		{id: "commitment", deps: []string{"journal"}, mu: mu, log: log},
		{id: "display", deps: []string{"roster", "commitment"}, mu: mu, log: log},
	}
	for _, v := range views {
		if err := s.Register(v); err != nil {
			t.Fatal(err)
		}
	}

	// the sim clock never fires the batch window, so the single flush
	// happens in the shutdown drain, with every mark coalesced
	s.Run()
	s.Mark("journal")
	s.Mark("journal")
	s.Mark("roster")
	s.Shutdown()

	mu.Lock()
	defer mu.Unlock()

	want := []string{"journal", "commitment", "roster", "display"}
	if len(*log) != len(want) {
		t.Fatalf("each affected view should recompute exactly once, got %v", *log)
	}
	for i, id := range want {
		if (*log)[i] != id {
			t.Fatalf("recompute order should be %v, got %v", want, *log)
		}
	}
}

func TestMaxBatchForcesFlush(t *testing.T) {
	effects := &Effects{Time: NewSimClock(time.Unix(0, 0))}
	s := NewScheduler(effects, 0, 2, common.NewTestEntry(t, logrus.DebugLevel))

	mu := new(sync.Mutex)
	log := new([]string)
	for _, id := range []string{"a", "b"} {
		if err := s.Register(&testView{id: id, mu: mu, log: log}); err != nil {
			t.Fatal(err)
		}
	}

	s.Run()
	defer s.Shutdown()

	s.Mark("a")
	s.Mark("b")

	// the batch hit maxBatch, so it flushes without the window elapsing
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(*log)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("the full batch should have flushed, saw %d recomputes", n)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMarkAfterShutdownDoesNotBlock(t *testing.T) {
	s, _, _ := testScheduler(t)
	s.Run()
	s.Shutdown()

	// must return immediately even though nothing drains the channel
	for i := 0; i < cap(s.markCh)+10; i++ {
		s.Mark("nobody")
	}
}

func TestSimClock(t *testing.T) {
	clock := NewSimClock(time.Unix(100, 0))

	fired := clock.After(10 * time.Second)
	immediate := clock.After(0)

	select {
	case <-immediate:
	default:
		t.Fatal("a zero-duration timer should fire immediately")
	}
	select {
	case <-fired:
		t.Fatal("the timer should not fire before Advance")
	default:
	}

	clock.Advance(5 * time.Second)
	select {
	case <-fired:
		t.Fatal("the timer should not fire before its deadline")
	default:
	}

	clock.Advance(5 * time.Second)
	select {
	case at := <-fired:
		if !at.Equal(time.Unix(110, 0)) {
			t.Fatalf("the timer should fire at the advanced instant, got %v", at)
		}
	default:
		t.Fatal("the timer should fire once the deadline is reached")
	}

	if !clock.Now().Equal(time.Unix(110, 0)) {
		t.Fatal("Now should track the advanced instant")
	}
}

func TestSimRandIsDeterministic(t *testing.T) {
	a := NewSimRand([]byte("seed"))
	b := NewSimRand([]byte("seed"))
	c := NewSimRand([]byte("other"))

	bufA := make([]byte, 64)
	bufB := make([]byte, 64)
	bufC := make([]byte, 64)
	for _, pair := range []struct {
		r   *SimRand
		buf []byte
	}{{a, bufA}, {b, bufB}, {c, bufC}} {
		if _, err := pair.r.Read(pair.buf); err != nil {
			t.Fatal(err)
		}
	}

	if string(bufA) != string(bufB) {
		t.Fatal("the same seed should yield the same stream")
	}
	if string(bufA) == string(bufC) {
		t.Fatal("different seeds should yield different streams")
	}
}
