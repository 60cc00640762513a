package jobstatus

import "time"

// Status is the progress record of one ingestion request.
type Status struct {
	RequestID       string
	Stage           Stage
	PercentComplete int
	Message         string
	Completed       bool
	Failed          bool
	Error           string
	Logs            []string
	LastLogIndex    int
	CurrentItem     *int
	TotalItems      *int
	Result          *Result
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Result is the terminal payload of a completed job.
type Result struct {
	FactsCount  int      `json:"factsCount"`
	SavedCount  int      `json:"savedCount"`
	FailedCount int      `json:"failedCount"`
	SampleFacts []string `json:"sampleFacts,omitempty"`
}

// Items is a progress-within-stage counter.
type Items struct {
	Current int
	Total   int
}

// Update is a requested progress transition. Stage and Percent are subject
// to Transition; an empty Message appends nothing; nil Items clears counters.
type Update struct {
	Stage   Stage
	Percent int
	Message string
	Items   *Items
}

// State reports the externally visible lifecycle state.
func (s Status) State() string {
	switch {
	case s.Completed:
		return "completed"
	case s.Failed:
		return "failed"
	default:
		return "processing"
	}
}

// placeholder is returned for jobs that are not (yet) known.
func placeholder(requestID string) Status {
	return Status{
		RequestID:       requestID,
		Stage:           StageExtraction,
		PercentComplete: StageExtraction.Floor(),
		Message:         "Waiting for processing to start",
		Logs:            []string{},
	}
}

// clone returns a deep copy safe to hand out of the store lock.
func (s *Status) clone() Status {
	c := *s
	c.Logs = append([]string(nil), s.Logs...)
	if s.CurrentItem != nil {
		v := *s.CurrentItem
		c.CurrentItem = &v
	}
	if s.TotalItems != nil {
		v := *s.TotalItems
		c.TotalItems = &v
	}
	if s.Result != nil {
		r := *s.Result
		r.SampleFacts = append([]string(nil), s.Result.SampleFacts...)
		c.Result = &r
	}
	return c
}
