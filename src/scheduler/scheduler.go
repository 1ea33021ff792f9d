package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultBatchWindow is how long the scheduler coalesces dirty marks
	// before propagating.
	DefaultBatchWindow = 5 * time.Millisecond
	// DefaultMaxBatch bounds how many marks a batch absorbs before it is
	// forced to flush.
	DefaultMaxBatch = 1000
)

// View is a derived computation over the journal and tree. The scheduler
// calls Recompute at most once per batch, after every dependency already
// recomputed in the same batch.
type View interface {
	ViewID() string
	Dependencies() []string
	Recompute(effects *Effects) error
}

// Scheduler coalesces dirty marks and propagates them through the view
// graph in dependency order.
type Scheduler struct {
	effects     *Effects
	batchWindow time.Duration
	maxBatch    int

	sync.Mutex
	views      map[string]View
	dependents map[string][]string
	rank       map[string]int

	markCh     chan string
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	shutdown   sync.Once

	logger *logrus.Entry
}

// NewScheduler creates a Scheduler. A zero batchWindow or maxBatch falls
// back to the defaults.
func NewScheduler(effects *Effects, batchWindow time.Duration, maxBatch int, logger *logrus.Entry) *Scheduler {
	if batchWindow <= 0 {
		batchWindow = DefaultBatchWindow
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &Scheduler{
		effects:     effects,
		batchWindow: batchWindow,
		maxBatch:    maxBatch,
		views:       make(map[string]View),
		dependents:  make(map[string][]string),
		rank:        make(map[string]int),
		markCh:      make(chan string, 2*maxBatch),
		shutdownCh:  make(chan struct{}),
		logger:      logger.WithField("component", "scheduler"),
	}
}

// Register adds a view. Every dependency must already be registered, which
// rules out cycles by construction and fixes the view's topological rank at
// registration time.
func (s *Scheduler) Register(v View) error {
	s.Lock()
	defer s.Unlock()

	id := v.ViewID()
	if _, exists := s.views[id]; exists {
		return fmt.Errorf("view %s already registered", id)
	}

	maxRank := -1
	for _, dep := range v.Dependencies() {
		if dep == id {
			return fmt.Errorf("view %s depends on itself", id)
		}
		r, ok := s.rank[dep]
		if !ok {
			return fmt.Errorf("view %s depends on unregistered view %s", id, dep)
		}
		if r > maxRank {
			maxRank = r
		}
	}

	s.views[id] = v
	s.rank[id] = maxRank + 1
	for _, dep := range v.Dependencies() {
		s.dependents[dep] = append(s.dependents[dep], id)
	}

	s.logger.WithFields(logrus.Fields{
		"view": id,
		"rank": maxRank + 1,
	}).Debug("Registered view")

	return nil
}

// Mark flags a view dirty. Safe to call from any goroutine; marks sent
// after Shutdown are dropped.
func (s *Scheduler) Mark(viewID string) {
	select {
	case s.markCh <- viewID:
	case <-s.shutdownCh:
	}
}

// Run starts the propagation loop.
func (s *Scheduler) Run() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

// Shutdown stops the loop after draining any pending batch, then waits for
// it to exit.
func (s *Scheduler) Shutdown() {
	s.shutdown.Do(func() { close(s.shutdownCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	dirty := make(map[string]bool)
	var flush <-chan time.Time

	for {
		select {
		case id := <-s.markCh:
			dirty[id] = true
			if flush == nil {
				flush = s.effects.Time.After(s.batchWindow)
			}
			if len(dirty) >= s.maxBatch {
				s.propagate(dirty)
				dirty = make(map[string]bool)
				flush = nil
			}

		case <-flush:
			s.propagate(dirty)
			dirty = make(map[string]bool)
			flush = nil

		case <-s.shutdownCh:
			// drain whatever is already queued, then flush once
			for {
				select {
				case id := <-s.markCh:
					dirty[id] = true
					continue
				default:
				}
				break
			}
			if len(dirty) > 0 {
				s.propagate(dirty)
			}
			return
		}
	}
}

// propagate recomputes the dirty views and everything downstream of them,
// each exactly once, in rank order.
func (s *Scheduler) propagate(dirty map[string]bool) {
	s.Lock()

	affected := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if affected[id] {
			return
		}
		affected[id] = true
		for _, dep := range s.dependents[id] {
			visit(dep)
		}
	}
	for id := range dirty {
		if _, ok := s.views[id]; ok {
			visit(id)
		}
	}

	order := make([]string, 0, len(affected))
	for id := range affected {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		if s.rank[order[i]] != s.rank[order[j]] {
			return s.rank[order[i]] < s.rank[order[j]]
		}
		return order[i] < order[j]
	})

	views := make([]View, len(order))
	for i, id := range order {
		views[i] = s.views[id]
	}
	s.Unlock()

	for _, v := range views {
		if err := v.Recompute(s.effects); err != nil {
			s.logger.WithField("view", v.ViewID()).WithError(err).Error("Recompute")
		}
	}
}
