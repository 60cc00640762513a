// Package jobstatus tracks the progress of ingestion requests in memory.
//
// A Store holds one Status per request ID. Records are created once by the
// pipeline, advanced through the fixed stage order, read by pollers through a
// consume-once log cursor, and evicted a fixed TTL after creation.
package jobstatus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a job record survives after creation.
const DefaultTTL = 30 * time.Minute

// SeedLog is the first log line of every job.
const SeedLog = "Request received, preparing document"

type entry struct {
	status Status
	timer  Timer
	gen    uint64
}

// Store is a process-wide, TTL-evicting map of job statuses.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	ttl     time.Duration
	clock   Clock
	logger  *slog.Logger
	nextGen uint64
	closed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a Clock, typically a fake in tests.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger used for eviction events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		jobs:   make(map[string]*entry),
		ttl:    DefaultTTL,
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create initializes the record for requestID and schedules its eviction.
// Creating over a live key replaces the record as an unrelated job.
func (s *Store) Create(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if old, ok := s.jobs[requestID]; ok {
		old.timer.Stop()
	}

	now := s.clock.Now()
	s.nextGen++
	gen := s.nextGen
	e := &entry{
		status: Status{
			RequestID:       requestID,
			Stage:           StageExtraction,
			PercentComplete: StageExtraction.Floor(),
			Message:         SeedLog,
			Logs:            []string{SeedLog},
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		gen: gen,
	}
	e.timer = s.clock.AfterFunc(s.ttl, func() { s.evict(requestID, gen) })
	s.jobs[requestID] = e
}

func (s *Store) evict(requestID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[requestID]; ok && e.gen == gen {
		delete(s.jobs, requestID)
		s.logger.Debug("job status evicted", "request_id", requestID)
	}
}

// Get returns a copy of the record, or the not-yet-started placeholder.
func (s *Store) Get(requestID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[requestID]
	if !ok {
		return placeholder(requestID)
	}
	return e.status.clone()
}

// AppendLog appends line unless it is already present verbatim.
func (s *Store) AppendLog(requestID, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[requestID]; ok {
		s.appendLocked(e, line)
	}
}

func (s *Store) appendLocked(e *entry, line string) {
	e.status.UpdatedAt = s.clock.Now()
	if line == "" {
		return
	}
	e.status.Message = line
	for _, existing := range e.status.Logs {
		if existing == line {
			return
		}
	}
	e.status.Logs = append(e.status.Logs, line)
}

// Advance applies u through Transition, appends its message, and replaces
// the item counters.
func (s *Store) Advance(requestID string, u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[requestID]
	if !ok {
		return
	}

	st := &e.status
	st.Stage, st.PercentComplete = Transition(st.Stage, st.PercentComplete, u.Stage, u.Percent)
	st.Completed = st.Stage == StageComplete
	if u.Items != nil {
		cur, total := u.Items.Current, u.Items.Total
		st.CurrentItem, st.TotalItems = &cur, &total
	} else {
		st.CurrentItem, st.TotalItems = nil, nil
	}
	s.appendLocked(e, u.Message)
}

// Complete marks the job finished and stores its result.
func (s *Store) Complete(requestID string, result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[requestID]
	if !ok {
		return
	}

	st := &e.status
	st.Stage, st.PercentComplete = Transition(st.Stage, st.PercentComplete, StageComplete, 100)
	st.Completed = true
	st.CurrentItem, st.TotalItems = nil, nil
	r := result
	st.Result = &r
	s.appendLocked(e, fmt.Sprintf("Processing complete: saved %d of %d facts (%d failed)",
		result.SavedCount, result.FactsCount, result.FailedCount))
}

// Fail marks the job as aborted. The stage is left where it was so pollers
// can see how far the job got.
func (s *Store) Fail(requestID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[requestID]
	if !ok || e.status.Completed {
		return
	}

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	e.status.Failed = true
	e.status.Error = msg
	s.appendLocked(e, "Error: "+msg)
}

// ConsumeSince returns the record and the log lines appended since the last
// call, then advances the cursor past them.
func (s *Store) ConsumeSince(requestID string) (Status, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[requestID]
	if !ok {
		return placeholder(requestID), []string{}
	}

	st := &e.status
	start := st.LastLogIndex
	if start > len(st.Logs) {
		start = len(st.Logs)
	}
	lines := append([]string{}, st.Logs[start:]...)
	st.LastLogIndex = len(st.Logs)
	return st.clone(), lines
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Close cancels all pending evictions and drops every record.
// The store ignores Create after Close.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.jobs {
		e.timer.Stop()
		delete(s.jobs, id)
	}
	s.closed = true
}
